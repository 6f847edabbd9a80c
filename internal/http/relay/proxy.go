package relay

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/config"
	log "github.com/sirupsen/logrus"
)

// NewUpstreamProxy forwards requests to the configured AI backend with the portal's credential.
func NewUpstreamProxy(cfg config.UpstreamConfig) (gin.HandlerFunc, error) {
	target, errParse := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if errParse != nil {
		return nil, fmt.Errorf("relay: parse upstream url: %w", errParse)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("relay: upstream url must be absolute: %q", cfg.BaseURL)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
			r.Out.Header.Del("X-API-Key")
			r.Out.Header.Del("Authorization")
			if cfg.APIKey != "" {
				r.Out.Header.Set("Authorization", "Bearer "+cfg.APIKey)
			}
		},
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Timeout,
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.WithError(err).WithField("path", r.URL.Path).Warn("relay: upstream request failed")
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
		},
	}

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}

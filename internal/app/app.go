package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/access"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/config"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/db"
	internalhttp "github.com/router-for-me/CLIProxyAPIPortal/internal/http/api/admin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/http/api/front"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/http/relay"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/ratelimit"
	internalsettings "github.com/router-for-me/CLIProxyAPIPortal/internal/settings"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	defaultServerPort = 8318
	shutdownTimeout   = 10 * time.Second
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	return migrateDSN(dsn)
}

// Components bundles the wired services behind the HTTP surface.
type Components struct {
	DB       *gorm.DB
	Settings *internalsettings.Poller
	Store    *ratelimit.Manager
	Limiter  *ratelimit.Limiter
	Registry *prometheus.Registry
}

// NewComponents wires the settings snapshot, counter stores and limiter on top of conn.
func NewComponents(ctx context.Context, conn *gorm.DB) (*Components, error) {
	if conn == nil {
		return nil, fmt.Errorf("app: nil database")
	}
	poller := internalsettings.NewPoller(conn, 0)
	if errPoll := poller.Poll(ctx, true); errPoll != nil {
		return nil, fmt.Errorf("app: load settings: %w", errPoll)
	}

	registry := prometheus.NewRegistry()
	if errRegister := registry.Register(collectors.NewGoCollector()); errRegister != nil {
		return nil, fmt.Errorf("app: register go collector: %w", errRegister)
	}
	metrics, errMetrics := ratelimit.NewMetrics(registry)
	if errMetrics != nil {
		return nil, errMetrics
	}

	store := ratelimit.NewManager(ratelimit.LoadSettingsConfig, nil, ratelimit.NewGormStore(conn, 0), nil)
	limiter, errLimiter := ratelimit.NewLimiter(
		store,
		ratelimit.NewGormLimitsSource(conn),
		ratelimit.WithLocationProvider(ratelimit.SettingsLocation),
		ratelimit.WithMetrics(metrics),
	)
	if errLimiter != nil {
		return nil, errLimiter
	}
	return &Components{
		DB:       conn,
		Settings: poller,
		Store:    store,
		Limiter:  limiter,
		Registry: registry,
	}, nil
}

// NewEngine builds the gin engine serving admin, front, metrics and proxied routes.
func NewEngine(components *Components, jwtConfig config.JWTConfig, proxy gin.HandlerFunc) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	internalhttp.RegisterAdminRoutes(engine, components.DB, jwtConfig, components.Limiter, components.Settings)
	front.RegisterFrontRoutes(engine, components.DB, components.Limiter)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(components.Registry, promhttp.HandlerOpts{})))

	if proxy != nil {
		relayGroup := engine.Group("/v1")
		relayGroup.Use(
			access.Middleware(components.DB),
			relay.RateLimitMiddleware(components.Limiter, ratelimit.SettingsFailOpen),
		)
		relayGroup.Any("/*path", proxy)
	}

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}

// RunServer boots the rate limited relay with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	upstreamCfg, err := config.LoadUpstreamConfig(configPath)
	if err != nil {
		return err
	}
	jwtConfig, _ := config.LoadJWTConfig(configPath)
	if jwtConfig.Secret == "" {
		log.Warn("jwt secret is empty, admin endpoints will reject every request")
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	components, err := NewComponents(ctx, conn)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := components.Store.Close(); errClose != nil {
			log.WithError(errClose).Warn("close rate limit store failed")
		}
	}()

	proxy, err := relay.NewUpstreamProxy(upstreamCfg)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := NewEngine(components, jwtConfig, proxy)

	port := config.LoadPort(configPath)
	if port <= 0 {
		port = defaultPort
	}
	if port <= 0 {
		port = defaultServerPort
	}
	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	components.Settings.Start(groupCtx)
	ratelimit.NewPruneLoop(components.Store, 0).Start(groupCtx)

	group.Go(func() error {
		log.Infof("starting portal on %s with config=%s (upstream=%s)", server.Addr, configPath, upstreamCfg.BaseURL)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", errServe)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return fmt.Errorf("shutdown http: %w", errShutdown)
		}
		log.Info("portal stopped")
		return nil
	})
	return group.Wait()
}

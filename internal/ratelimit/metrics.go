package ratelimit

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes rate limit decisions and counter store failures to Prometheus.
type Metrics struct {
	decisions   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

// NewMetrics registers the rate limit collectors on reg; a nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	decisions, errDecisions := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_rate_limit_decisions_total",
		Help: "Rate limit decisions by limiting window and outcome.",
	}, []string{"window", "allowed"}))
	if errDecisions != nil {
		return nil, errDecisions
	}
	storeErrors, errStoreErrors := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_rate_limit_store_errors_total",
		Help: "Counter store failures by window.",
	}, []string{"window"}))
	if errStoreErrors != nil {
		return nil, errStoreErrors
	}
	return &Metrics{decisions: decisions, storeErrors: storeErrors}, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if reg == nil {
		return vec, nil
	}
	if errRegister := reg.Register(vec); errRegister != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(errRegister, &already) {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, errRegister
	}
	return vec, nil
}

func (m *Metrics) observeDecision(decision Decision) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(string(decision.LimitType), strconv.FormatBool(decision.Allowed)).Inc()
}

func (m *Metrics) observeStoreError(window Window) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(string(window)).Inc()
}

package signer

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/laniot/laniot-signer/pkg/ca"
	"github.com/laniot/laniot-signer/pkg/workspace"
)

const (
	resultSuccess       = "success"
	resultNormalization = "normalization_error"
	resultSigning       = "signing_error"
	resultWorkspace     = "workspace_error"
	resultCanceled      = "canceled"
	resultError         = "error"
)

type metrics struct {
	signings *prometheus.CounterVec
	latency  prometheus.Histogram
}

func newMetrics(stats prometheus.Registerer) *metrics {
	signings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "signer_leaf_signings_total",
		Help: "Number of leaf signing calls, labelled by outcome",
	}, []string{"result"})
	stats.MustRegister(signings)

	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "signer_leaf_signing_duration_seconds",
		Help:    "Time taken by a leaf signing call, including workspace cleanup",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	stats.MustRegister(latency)

	return &metrics{signings: signings, latency: latency}
}

func (m *metrics) observe(start time.Time, err error) {
	m.latency.Observe(time.Since(start).Seconds())
	m.signings.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, ErrNormalization):
		return resultNormalization
	case errors.Is(err, workspace.ErrWorkspace):
		return resultWorkspace
	case errors.Is(err, ca.ErrSigning):
		return resultSigning
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resultCanceled
	}
	return resultError
}

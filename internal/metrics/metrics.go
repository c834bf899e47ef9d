// Package metrics exposes prometheus counters for the check-in pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckinsTotal counts check-in attempts by outcome kind; "ok" on success.
	CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrattend_checkins_total",
		Help: "Check-in attempts partitioned by outcome.",
	}, []string{"result"})

	// QRIssuedTotal counts minted scan tokens (cache hits excluded).
	QRIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_qr_tokens_issued_total",
		Help: "Scan tokens minted, not counting per-IP cache reuse.",
	})

	// SessionsCreatedTotal counts opened attendance sessions.
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrattend_sessions_created_total",
		Help: "Attendance sessions opened.",
	})
)

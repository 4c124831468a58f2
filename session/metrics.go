package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_sessions_created_total",
		Help: "Sessions inserted because the request had no usable cookie.",
	})
	sessionsResumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_sessions_resumed_total",
		Help: "Requests served from an existing session row.",
	})
	sessionsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_sessions_discarded_total",
		Help: "Session cookies dropped, by reason.",
	}, []string{"reason"})
	sessionsPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_sessions_persisted_total",
		Help: "Session writes after a handler returned, by operation.",
	}, []string{"op"})
	sessionsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_sessions_purged_total",
		Help: "Expired session rows removed by the sweeper.",
	})
)

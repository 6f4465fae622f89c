// Package metrics holds the Prometheus collectors for the API, the change
// feed and the gateway.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/victorivanov/backchannel/internal/feed"
)

var (
	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backchannel_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backchannel_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Change feed
	FeedEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backchannel_feed_events_published_total",
			Help: "Total number of change events published",
		},
		[]string{"table", "op"},
	)

	FeedPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backchannel_feed_publish_errors_total",
			Help: "Total number of change events that failed to publish",
		},
		[]string{"table"},
	)

	FeedSubscriptionDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backchannel_feed_subscription_drops_total",
			Help: "Total number of bus subscriptions lost by the gateway relay",
		},
	)

	// Gateway
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backchannel_gateway_connections",
			Help: "Current number of identified gateway connections",
		},
	)

	GatewayDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backchannel_gateway_dispatched_total",
			Help: "Total number of change events written to gateway connections",
		},
		[]string{"table"},
	)

	GatewayDroppedSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backchannel_gateway_dropped_sends_total",
			Help: "Total number of payloads dropped because a connection's send buffer was full",
		},
	)

	// Client circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backchannel_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backchannel_circuit_breaker_requests_total",
			Help: "Total number of requests through a circuit breaker by result",
		},
		[]string{"name", "result"},
	)
)

// RecordAPIRequest records one served API request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordPublish records the outcome of publishing one change event.
func RecordPublish(ev feed.Event, err error) {
	if err != nil {
		FeedPublishErrors.WithLabelValues(string(ev.Table())).Inc()
		return
	}
	FeedEventsPublished.WithLabelValues(string(ev.Table()), string(ev.Op())).Inc()
}

// publisher counts every event that passes through it.
type publisher struct {
	next feed.Publisher
}

// InstrumentPublisher wraps pub so each publish is counted.
func InstrumentPublisher(pub feed.Publisher) feed.Publisher {
	return &publisher{next: pub}
}

func (p *publisher) Publish(ctx context.Context, ev feed.Event) error {
	err := p.next.Publish(ctx, ev)
	RecordPublish(ev, err)
	return err
}

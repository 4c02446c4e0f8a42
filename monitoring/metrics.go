package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	PinsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sknet_pins_issued_total",
			Help: "PINs issued, by type",
		},
		[]string{"type"},
	)

	MembersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sknet_members_placed_total",
			Help: "Members placed into the tree, by leg",
		},
		[]string{"leg"},
	)

	RewardsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sknet_rewards_awarded_total",
		Help: "Reward records created",
	})

	RewardRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sknet_reward_evaluation_failures_total",
		Help: "Reward evaluations that failed after placement",
	})

	PaymentsReviewed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sknet_payments_reviewed_total",
			Help: "Payments reviewed, by outcome",
		},
		[]string{"action"},
	)
)

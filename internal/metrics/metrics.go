package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livechat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Chat metrics
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_messages_sent_total",
			Help: "Total messages composed",
		},
		[]string{"result"}, // "ok" or "error"
	)

	MessagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_messages_deleted_total",
			Help: "Total message deletions",
		},
		[]string{"result"},
	)

	PresenceWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_presence_writes_total",
			Help: "Total presence writes",
		},
		[]string{"state", "result"}, // state: "online" or "offline"
	)

	NotificationsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_notifications_raised_total",
			Help: "Total local notifications raised",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livechat_active_sessions",
			Help: "Currently connected websocket sessions",
		},
	)

	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livechat_active_subscriptions",
			Help: "Currently open live queries",
		},
		[]string{"kind"}, // "directory", "peer", "timeline"
	)

	SubscriptionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_subscription_errors_total",
			Help: "Live queries that ended with an error",
		},
		[]string{"kind"},
	)

	// Identity metrics
	SignIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_sign_ins_total",
			Help: "Total sign-ins",
		},
		[]string{"provider", "result"},
	)

	OTPsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livechat_otps_sent_total",
			Help: "Total one-time codes sent",
		},
	)

	// Asset cache metrics
	AssetCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_asset_cache_lookups_total",
			Help: "Asset requests by outcome",
		},
		[]string{"result"}, // "hit", "miss", "offline", "error"
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livechat_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livechat_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)
)

package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RoomsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "game_rooms_created_total",
		Help: "Total number of rooms created",
	})
	RoomJoinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "game_room_joins_total",
		Help: "Total number of join attempts by outcome",
	}, []string{"result"})
	RoomsExpiredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "game_rooms_expired_total",
		Help: "Total number of rooms torn down by the expiry timer or the sweeper",
	}, []string{"reason"})
	ExpiryTimersPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "game_room_expiry_timers",
		Help: "Current number of armed room expiry timers",
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(RoomsCreatedTotal, RoomJoinsTotal, RoomsExpiredTotal, ExpiryTimersPending, RateLimitedTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}

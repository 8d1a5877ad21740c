package router

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sportadm/events-api/internal/middleware"
	"github.com/sportadm/events-api/pkg/auth"
)

// Handler registers a group of routes on the API router.
type Handler interface {
	RegisterRoutes(r *gin.RouterGroup)
}

type Config struct {
	RateLimit rate.Limit
	RateBurst int
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
}

func newRouterMetrics() *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
	}
}

func (m *routerMetrics) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestDuration.WithLabelValues(c.Request.Method, path, status).
			Observe(time.Since(start).Seconds())
		m.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

// New builds the gin engine with the standard middleware chain. Health and
// metrics endpoints stay outside the authenticated group.
func New(config Config, jwtService auth.JWTService, public Handler, protected ...Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	metrics := newRouterMetrics()
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  config.RateLimit,
		Burst: config.RateBurst,
	})

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		metrics.instrument(),
		limiter.RateLimit(),
	)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	root := engine.Group("")
	public.RegisterRoutes(root)

	authMiddleware := middleware.NewAuthMiddleware(jwtService)
	api := engine.Group("/api/v1")
	api.Use(authMiddleware.Authenticate())
	for _, h := range protected {
		h.RegisterRoutes(api)
	}

	return engine
}

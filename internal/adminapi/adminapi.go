// Package adminapi implements the host process's HTTP/admin surface: an
// aggregated health probe, component metrics snapshots, an authenticated
// cache-reload endpoint, and a websocket health stream.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/guildforge/backbone/internal/cache"
	"github.com/guildforge/backbone/internal/cacheloader"
	"github.com/guildforge/backbone/internal/dbstore"
	"github.com/guildforge/backbone/internal/ratelimit"
	"github.com/guildforge/backbone/internal/scheduler"
	"github.com/guildforge/backbone/pkg/resilience"
)

// Band classifies a component's health.
type Band string

const (
	BandHealthy Band = "healthy"
	BandWarning Band = "warning"
	BandError   Band = "error"
)

// Deps is every component the admin surface reads from or acts on.
type Deps struct {
	Cache     *cache.Cache
	DB        *dbstore.Store
	Breakers  *resilience.BreakerGroup
	Scheduler *scheduler.Scheduler
	Loader    *cacheloader.Loader
	Limiter   *ratelimit.Limiter
}

// Server is the admin HTTP surface.
type Server struct {
	router     *gin.Engine
	deps       Deps
	jwtSecret  string
	logger     *zap.Logger
	now        func() time.Time
	upgrader   websocket.Upgrader
}

// Option configures optional Server dependencies.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option       { return func(s *Server) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New builds a Server. jwtSecret verifies the bearer tokens accepted by
// the protected admin endpoints; tokens are provisioned out of band, there
// is no login flow in this module.
func New(deps Deps, jwtSecret string, opts ...Option) *Server {
	s := &Server{
		deps:      deps,
		jwtSecret: jwtSecret,
		logger:    zap.NewNop(),
		now:       time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", s.handleMetrics)
	s.router.GET("/admin/ws/health", s.handleHealthStream)

	admin := s.router.Group("/admin")
	admin.Use(s.requireBearer())
	admin.POST("/cache/reload/:category", s.handleReloadCategory)
}

// Run starts the HTTP server on addr, blocking until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// requireBearer validates a JWT bearer token signed with s.jwtSecret.
func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

// HealthSnapshot is the aggregated health probe.
type HealthSnapshot struct {
	DB                Band    `json:"db"`
	DBLatencyMS       float64 `json:"db_latency_ms"`
	OutboundAPI       Band    `json:"outbound_api"`
	Scheduler         Band    `json:"scheduler"`
	SchedulerFailRate float64 `json:"scheduler_fail_rate"`
	CacheHitRate      float64 `json:"cache_hit_rate"`
}

func bandForLatency(ms float64) Band {
	switch {
	case ms <= 1000:
		return BandHealthy
	case ms <= 5000:
		return BandWarning
	default:
		return BandError
	}
}

func bandForFailRate(rate float64) Band {
	switch {
	case rate > 0.20:
		return BandError
	case rate > 0.10:
		return BandWarning
	default:
		return BandHealthy
	}
}

// ComputeHealth synchronously derives the aggregated health snapshot from
// live counters; this never depends on the metrics exporter.
func (s *Server) ComputeHealth(ctx context.Context) HealthSnapshot {
	snap := HealthSnapshot{DB: BandHealthy, OutboundAPI: BandHealthy, Scheduler: BandHealthy}

	if s.deps.DB != nil {
		start := time.Now()
		err := s.deps.DB.Ping(ctx)
		elapsed := time.Since(start)
		snap.DBLatencyMS = float64(elapsed.Microseconds()) / 1000
		if err != nil {
			snap.DB = BandError
		} else {
			snap.DB = bandForLatency(snap.DBLatencyMS)
		}
	}

	if s.deps.Breakers != nil {
		for _, state := range s.deps.Breakers.States() {
			if state == resilience.StateOpen {
				snap.OutboundAPI = BandError
				break
			}
			if state == resilience.StateHalfOpen && snap.OutboundAPI == BandHealthy {
				snap.OutboundAPI = BandWarning
			}
		}
	}

	if s.deps.Scheduler != nil {
		health := s.deps.Scheduler.HealthStatus()
		var success, failures int64
		for _, m := range health.JobMetrics {
			success += m.Success
			failures += m.Failures
		}
		total := success + failures
		if total > 0 {
			snap.SchedulerFailRate = float64(failures) / float64(total)
		}
		snap.Scheduler = bandForFailRate(snap.SchedulerFailRate)
	}

	if s.deps.Cache != nil {
		snap.CacheHitRate = s.deps.Cache.GetMetrics().HitRate()
	}

	return snap
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.ComputeHealth(c.Request.Context()))
}

// MetricsSnapshot bundles the per-component metrics views served by
// GET /metrics.
type MetricsSnapshot struct {
	Cache       *cache.CacheInfo            `json:"cache,omitempty"`
	DB          *dbstore.PerformanceMetrics `json:"db,omitempty"`
	Scheduler   *scheduler.HealthSnapshot   `json:"scheduler,omitempty"`
	RateLimiter *ratelimit.Stats            `json:"rate_limiter,omitempty"`
}

func (s *Server) handleMetrics(c *gin.Context) {
	var snap MetricsSnapshot
	if s.deps.Cache != nil {
		info := s.deps.Cache.GetCacheInfo()
		snap.Cache = &info
	}
	if s.deps.DB != nil {
		perf := s.deps.DB.GetPerformanceMetrics()
		snap.DB = &perf
	}
	if s.deps.Scheduler != nil {
		health := s.deps.Scheduler.HealthStatus()
		snap.Scheduler = &health
	}
	if s.deps.Limiter != nil {
		stats := s.deps.Limiter.GetStats()
		snap.RateLimiter = &stats
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleReloadCategory(c *gin.Context) {
	category := c.Param("category")
	if s.deps.Loader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache loader not wired"})
		return
	}
	s.deps.Loader.ReloadCategory(c.Request.Context(), category)
	c.JSON(http.StatusAccepted, gin.H{"category": category, "status": "reload triggered"})
}

// handleHealthStream upgrades to a websocket and pushes a HealthSnapshot
// once per second until the client disconnects or the request context is
// cancelled.
func (s *Server) handleHealthStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			data, err := json.Marshal(s.ComputeHealth(ctx))
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

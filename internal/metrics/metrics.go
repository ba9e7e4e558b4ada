package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the divergence engine.
type Metrics struct {
	TicksTotal     prometheus.Counter
	CandlesTotal   prometheus.Counter
	WSReconnects   prometheus.Counter
	DroppedTicks   prometheus.Counter
	RedisWriteDur  prometheus.Histogram
	SQLiteWriteDur prometheus.Histogram

	// Strategy metrics
	SignalsDetected    prometheus.Counter
	SignalsTriggered   prometheus.Counter
	SignalsInvalidated prometheus.Counter
	TradesOpened       *prometheus.CounterVec // labels: variant
	TradesClosed       *prometheus.CounterVec // labels: variant, reason
	StrikeRotations    prometheus.Counter

	// Capital gauges
	DailyPnL       prometheus.Gauge
	RunningCapital prometheus.Gauge
	OpenTrades     prometheus.Gauge

	// Ring buffer overflow
	RingBufOverflow prometheus.Counter

	// Backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	FanoutQueueDepth *prometheus.GaugeVec   // labels: subscriber

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Market session state
	MarketState        prometheus.Gauge       // 0=closed, 1=open
	SessionTransitions *prometheus.CounterVec // labels: type=open|close|ws_disconnect
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_ticks_total",
			Help: "Total ticks received from the market data feed",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_candles_total",
			Help: "Total signal candles sealed",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_dropped_ticks_total",
			Help: "Ticks dropped (malformed, late or ring full)",
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "divergence_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),
		SQLiteWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "divergence_sqlite_write_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		SignalsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_signals_detected_total",
			Help: "Divergence signals armed awaiting breakout",
		}),
		SignalsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_signals_triggered_total",
			Help: "Pending signals that broke their trigger high",
		}),
		SignalsInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_signals_invalidated_total",
			Help: "Pending signals killed by a break below the origin low",
		}),
		TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "divergence_trades_opened_total",
			Help: "Paper trades opened (by variant)",
		}, []string{"variant"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "divergence_trades_closed_total",
			Help: "Paper trades closed (by variant and exit reason)",
		}, []string{"variant", "reason"}),
		StrikeRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_strike_rotations_total",
			Help: "ATM strike pair rotations",
		}),

		DailyPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_daily_pnl",
			Help: "Realized PnL for the current trading day",
		}),
		RunningCapital: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_running_capital",
			Help: "Running capital after realized PnL",
		}),
		OpenTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_open_trades",
			Help: "Currently open paper trades",
		}),

		RingBufOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_ringbuf_overflow_total",
			Help: "Tick ring push overflows (dropped ticks)",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "divergence_fanout_drops_total",
			Help: "Candles dropped by FanOut bus per subscriber",
		}, []string{"subscriber"}),
		FanoutQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "divergence_fanout_queue_depth",
			Help: "Buffered candles per FanOut subscriber",
		}, []string{"subscriber"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "divergence_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "divergence_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "divergence_session_transitions_total",
			Help: "Market session transitions (open, close, ws_disconnect)",
		}, []string{"type"}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.WSReconnects,
		m.DroppedTicks,
		m.RedisWriteDur,
		m.SQLiteWriteDur,
		m.SignalsDetected,
		m.SignalsTriggered,
		m.SignalsInvalidated,
		m.TradesOpened,
		m.TradesClosed,
		m.StrikeRotations,
		m.DailyPnL,
		m.RunningCapital,
		m.OpenTrades,
		m.RingBufOverflow,
		m.FanoutDropsTotal,
		m.FanoutQueueDepth,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.MarketState,
		m.SessionTransitions,
	)

	return m
}

// HealthStatus aggregates the engine's dependency health for /healthz. All
// setters take the lock; readers get a consistent snapshot.
type HealthStatus struct {
	mu sync.RWMutex

	wsConnected    bool
	lastTick       time.Time
	redisConnected bool
	sqliteOK       bool
	activePair     string

	redisLatency  time.Duration
	sqliteLatency time.Duration
	lastProbeAt   time.Time
	startedAt     time.Time
}

// NewHealthStatus returns a HealthStatus with the uptime clock started.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{startedAt: time.Now()}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.wsConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.lastTick = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.redisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.sqliteOK = v
	h.mu.Unlock()
}

// SetActivePair records the CE/PE pair the detector is currently watching.
func (h *HealthStatus) SetActivePair(ce, pe string) {
	h.mu.Lock()
	h.activePair = ce + " / " + pe
	h.mu.Unlock()
}

// CheckRedis pings Redis and records connectivity and latency.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()

	h.mu.Lock()
	h.redisConnected = err == nil
	h.redisLatency = time.Since(start)
	h.lastProbeAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records health and latency.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)

	h.mu.Lock()
	h.sqliteOK = err == nil
	h.sqliteLatency = time.Since(start)
	h.lastProbeAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker probes the non-nil dependencies every interval until
// ctx is cancelled.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// healthz is the /healthz response body.
type healthz struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	WSConnected     bool    `json:"ws_connected"`
	LastTickTime    string  `json:"last_tick_time"`
	TickAge         string  `json:"tick_age"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	ActivePair      string  `json:"active_pair"`
	LastCheckAt     string  `json:"last_check_at"`
}

// snapshot renders the current state. "degraded" means some dependency is
// down but persistence still works somewhere; with both stores gone the
// engine is flying blind and reports "unhealthy".
func (h *HealthStatus) snapshot() (healthz, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	if !h.wsConnected || !h.redisConnected || !h.sqliteOK {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if !h.redisConnected && !h.sqliteOK {
		status = "unhealthy"
	}

	tickAge := ""
	if !h.lastTick.IsZero() {
		tickAge = time.Since(h.lastTick).Round(time.Millisecond).String()
	}
	return healthz{
		Status:          status,
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
		WSConnected:     h.wsConnected,
		LastTickTime:    h.lastTick.Format(time.RFC3339),
		TickAge:         tickAge,
		RedisConnected:  h.redisConnected,
		RedisLatencyMs:  float64(h.redisLatency.Microseconds()) / 1000.0,
		SQLiteOK:        h.sqliteOK,
		SQLiteLatencyMs: float64(h.sqliteLatency.Microseconds()) / 1000.0,
		ActivePair:      h.activePair,
		LastCheckAt:     h.lastProbeAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP handles /healthz.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	body, code := h.snapshot()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(body)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer builds the observability HTTP server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", health)
	return &Server{
		addr: addr,
		srv:  &http.Server{Addr: addr, Handler: mux},
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop shuts the server down, honoring ctx as the deadline.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

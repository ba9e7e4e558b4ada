package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"divergence-systemv1/config"
	"divergence-systemv1/internal/alerts"
	"divergence-systemv1/internal/journal"
	"divergence-systemv1/internal/ledger"
	"divergence-systemv1/internal/marketdata/bus"
	"divergence-systemv1/internal/marketdata/closedetector"
	"divergence-systemv1/internal/marketdata/wssim"
	"divergence-systemv1/internal/markethours"
	"divergence-systemv1/internal/metrics"
	"divergence-systemv1/internal/model"
	"divergence-systemv1/internal/notification"
	"divergence-systemv1/internal/session"
	redisstore "divergence-systemv1/internal/store/redis"
	sqlitestore "divergence-systemv1/internal/store/sqlite"
	"divergence-systemv1/internal/strikes"
	"divergence-systemv1/pkg/fyers"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[engine] starting...")

	// ---- Staging mode check ----
	stagingMode := strings.EqualFold(os.Getenv("STAGING_MODE"), "true")
	if stagingMode {
		log.Println("[engine] *** STAGING MODE — using tickserver WS instead of Fyers ***")
	}

	// ---- Load config from env ----
	var cfg *config.Config
	if stagingMode {
		cfg = stagingConfig() // no broker credentials required
	} else {
		cfg = config.Load()
	}
	log.Printf("[engine] spot=%s interval=%s capital_unit=%.0f",
		cfg.SpotSymbol, cfg.CandleInterval, cfg.CapitalUnit)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Graceful shutdown plumbing ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite (candles, capital state, daily reports) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[engine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommitDur = func(d time.Duration) { prom.SQLiteWriteDur.Observe(d.Seconds()) }
	health.SetSQLiteOK(true)
	if ts, err := sqlWriter.GetLastTimestamp(cfg.SpotSymbol); err == nil && ts > 0 {
		log.Printf("[engine] candle archive: last %s bar at %s", cfg.SpotSymbol,
			time.Unix(ts, 0).In(markethours.IST).Format("2006-01-02 15:04"))
	}

	// ---- Capital ledger ----
	led := ledger.New(cfg.BaseCapital, sqlWriter)
	if err := led.Load(); err != nil {
		log.Printf("[engine] WARNING: capital load failed: %v (starting from %.2f)", err, led.Base())
	}
	prom.RunningCapital.Set(led.Running())

	// ---- Trade journal ----
	os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755)
	jnl, err := journal.New(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[engine] journal init failed: %v", err)
	}
	defer jnl.Close()
	if recs, err := jnl.Recent(1); err == nil && len(recs) > 0 {
		r := recs[0]
		log.Printf("[engine] journal resumes after %s %s (%s) pnl=%.2f", r.Event, r.Symbol, r.Variant, r.PnL)
	}

	// ---- Redis output plane (optional) ----
	var bufWriter *redisstore.BufferedWriter
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
		redisWriter = nil
		health.SetRedisConnected(false)
	} else {
		health.SetRedisConnected(true)
		redisWriter.OnWriteDur = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			log.Printf("[engine] redis circuit breaker: %s -> %s", from, to)
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		bufWriter = redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
		bufWriter.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
	}

	// ---- Periodic liveness checks ----
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Notification channels ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[engine] telegram notifications enabled")
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[engine] webhook notifications enabled")
	}
	notify := func(a notification.Alert) {
		for _, n := range notifiers {
			n := n
			go func() {
				sendCtx, sendCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer sendCancel()
				if err := n.Send(sendCtx, a); err != nil {
					log.Printf("[engine] notification send failed: %v", err)
				}
			}()
		}
	}

	// ---- Candle fan-out: SQLite + Redis off the strategy path ----
	candleCh := make(chan model.Candle, 5000)
	fanout := bus.New(5000)
	fanout.OnDrop = func(name string) {
		prom.FanoutDropsTotal.WithLabelValues(name).Inc()
	}

	sqliteCandleCh := fanout.Subscribe("sqlite")
	go sqlWriter.Run(ctx, sqliteCandleCh)

	if bufWriter != nil {
		redisCandleCh := fanout.Subscribe("redis")
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case c, ok := <-redisCandleCh:
					if !ok {
						return
					}
					bufWriter.WriteCandle(c)
				}
			}
		}()
	}
	go fanout.Run(ctx, candleCh)

	// Sample subscriber queue depths so backpressure shows up before drops do.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for name, s := range fanout.Saturation() {
					prom.FanoutQueueDepth.WithLabelValues(name).Set(float64(s[0]))
				}
			}
		}
	}()

	// ---- EMA touch alerts (optional) ----
	var emaMon *alerts.Monitor
	if cfg.EMAPeriod > 0 {
		emaMon = alerts.NewMonitor(cfg.EMAPeriod, cfg.EMATouchPct)
		emaMon.Watch(cfg.SpotSymbol, getEnvFloat("EMA_SEED", 0))
		emaMon.OnTouch = func(tc alerts.Touch) {
			notify(notification.EMATouchAlert(tc))
		}
		log.Printf("[engine] EMA touch alerts enabled: period=%d band=±%.2f%%", cfg.EMAPeriod, cfg.EMATouchPct)
	}

	// ---- Fyers client & strike rotation (production only) ----
	var fyClient *fyers.Client
	var monitor *strikes.Monitor
	if !stagingMode {
		fyClient, err = fyers.NewClient(fyers.Config{
			ClientID:    cfg.FyersClientID,
			SecretKey:   cfg.FyersSecretKey,
			RedirectURI: cfg.FyersRedirectURI,
			Username:    cfg.FyersUsername,
			PIN:         cfg.FyersPIN,
			TOTPKey:     cfg.FyersTOTPKey,
		})
		if err != nil {
			log.Fatalf("[engine] fyers client init failed: %v", err)
		}
		monitor = strikes.NewMonitor(fyClient, cfg.SpotSymbol)
	}

	// ---- Session (owns all strategy state) ----
	sess := session.New(session.Config{
		SpotSymbol:  cfg.SpotSymbol,
		Interval:    cfg.CandleInterval,
		CapitalUnit: cfg.CapitalUnit,
	}, led, monitor)

	// Live data socket, swapped each trading day. Guarded because the
	// rotation hook runs on the session goroutine.
	var sockMu sync.Mutex
	var sock *fyers.DataSocket

	sess.OnCandle = func(c model.Candle) {
		prom.CandlesTotal.Inc()
		if emaMon != nil {
			emaMon.OnCandle(c)
		}
		select {
		case candleCh <- c:
		default:
			log.Printf("[engine] candle channel full, dropping %s@%d", c.Symbol, c.BucketStart.Unix())
		}
	}
	sess.OnSignal = func(sig model.PendingSignal) {
		prom.SignalsDetected.Inc()
		if bufWriter != nil {
			bufWriter.WriteSignal(sig)
		}
	}
	sess.OnSignalInvalidated = func(model.PendingSignal) {
		prom.SignalsInvalidated.Inc()
	}
	sess.OnTradeOpened = func(t model.Trade) {
		// Each trigger opens both variants; count the trigger once.
		if t.Variant == model.VariantOneToOne {
			prom.SignalsTriggered.Inc()
		}
		prom.TradesOpened.WithLabelValues(t.Variant).Inc()
		prom.OpenTrades.Set(float64(sess.OpenTrades()))
		if err := jnl.Record(journal.EventEntry, t); err != nil {
			log.Printf("[engine] journal entry failed: %v", err)
		}
		if bufWriter != nil {
			bufWriter.WriteTrade(journal.EventEntry, t)
		}
		notify(notification.TradeOpenedAlert(t))
	}
	sess.OnTradeClosed = func(t model.Trade) {
		prom.TradesClosed.WithLabelValues(t.Variant, t.ExitReason).Inc()
		prom.OpenTrades.Set(float64(sess.OpenTrades()))
		prom.DailyPnL.Set(led.DailyPnL())
		prom.RunningCapital.Set(led.Running())
		if err := jnl.Record(journal.EventExit, t); err != nil {
			log.Printf("[engine] journal exit failed: %v", err)
		}
		if bufWriter != nil {
			bufWriter.WriteTrade(journal.EventExit, t)
		}
		notify(notification.TradeClosedAlert(t))
	}
	sess.OnTickDropped = func() {
		prom.DroppedTicks.Inc()
		prom.RingBufOverflow.Inc()
	}
	sess.OnLateTick = func() {
		prom.DroppedTicks.Inc()
	}
	sess.OnPairRotated = func(p strikes.Pair) {
		prom.StrikeRotations.Inc()
		health.SetActivePair(p.CE, p.PE)
		sockMu.Lock()
		s := sock
		sockMu.Unlock()
		if s != nil {
			if err := s.Subscribe(p.CE, p.PE); err != nil {
				log.Printf("[engine] rotation subscribe failed: %v", err)
			}
		}
	}

	// submit feeds the session and the per-tick observers.
	submit := func(t model.Tick) bool {
		prom.TicksTotal.Inc()
		health.SetLastTickTime(time.Now())
		if emaMon != nil {
			emaMon.OnTick(t.Symbol, t.Price, t.TS)
		}
		return sess.Submit(t)
	}

	// persistReport writes the daily report everywhere it belongs.
	persistReport := func(r session.Report) {
		r.Log()
		data, err := r.JSON()
		if err != nil {
			log.Printf("[engine] report marshal failed: %v", err)
			return
		}
		if err := sqlWriter.SaveDailyReport(r.Date, data); err != nil {
			log.Printf("[engine] report save failed: %v", err)
		}
		if bufWriter != nil {
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := bufWriter.Underlying().PublishReport(pubCtx, r); err != nil {
				log.Printf("[engine] report publish failed: %v", err)
			}
			pubCancel()
		}
		if emaMon != nil {
			if v, ok := emaMon.EMAValue(cfg.SpotSymbol); ok {
				// Operators feed this back through EMA_SEED on restart.
				log.Printf("[engine] spot EMA(%d) at close: %.2f", cfg.EMAPeriod, v)
			}
		}
		notify(notification.ReportAlert(r))
	}

	done := make(chan struct{})

	// ═══════════════════════════════════════════════════════════════
	// Feed lifecycle: STAGING vs PRODUCTION
	// ═══════════════════════════════════════════════════════════════
	if stagingMode {
		// ---- STAGING: one open-ended session fed by tickserver ----
		ceSymbol := getEnv("CE_SYMBOL", "NSE:NIFTY25DEC24500CE")
		peSymbol := getEnv("PE_SYMBOL", "NSE:NIFTY25DEC24500PE")
		simWSURL := getEnv("SIM_WS_URL", "ws://localhost:9001/ws")

		sess.SetPair(ceSymbol, peSymbol)
		health.SetActivePair(ceSymbol, peSymbol)
		sess.StartDay(markethours.WarmupUntil(time.Now(), cfg.CandleInterval))
		prom.MarketState.Set(1)

		runDone := make(chan struct{})
		go func() {
			sess.Run(ctx)
			close(runDone)
		}()

		ingest, err := wssim.New(wssim.Config{URL: simWSURL})
		if err != nil {
			log.Fatalf("[engine] wssim init failed: %v", err)
		}
		ingest.OnReconnect = func() {
			prom.WSReconnects.Inc()
		}
		health.SetWSConnected(true)

		go func() {
			defer close(done)
			if err := ingest.Start(ctx, submit); err != nil {
				log.Printf("[engine] wssim error: %v", err)
			}
			<-runDone
			persistReport(sess.EndDay(time.Now()))
		}()

		log.Println("[engine] ╔════════════════════════════════════════════════════════════╗")
		log.Println("[engine] ║  Divergence Engine — STAGING MODE                          ║")
		log.Println("[engine] ║                                                            ║")
		log.Println("[engine] ║  [TickServer WS] → [Session] → [SQLite/Redis/Journal]      ║")
		log.Printf("[engine] ║  Pair: %-51s ║", ceSymbol+" / "+peSymbol)
		log.Printf("[engine] ║  Source: %-49s ║", simWSURL)
		log.Println("[engine] ║  No Fyers credentials required                             ║")
		log.Println("[engine] ╚════════════════════════════════════════════════════════════╝")
	} else {
		// ---- PRODUCTION: one session per trading day ----
		go func() {
			defer close(done)
			for {
				// --- Wait for market open ---
				now := time.Now()
				if !markethours.IsMarketOpen(now) {
					next := markethours.NextOpen(now)
					wait := next.Sub(now)
					log.Printf("[engine] market closed. %s", markethours.StatusString(now))
					prom.MarketState.Set(0)
					health.SetWSConnected(false)

					select {
					case <-ctx.Done():
						return
					case <-time.After(wait):
					}
				}

				// --- Fresh login each trading day ---
				log.Println("[engine] market open — logging in to Fyers...")
				if err := fyClient.Login(ctx); err != nil {
					log.Printf("[engine] login failed: %v, retrying in 30s", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(30 * time.Second):
					}
					continue
				}

				// --- Resolve ATM pair ---
				pair, err := fyClient.ATMPair(cfg.SpotSymbol)
				if err != nil {
					log.Printf("[engine] ATM pair lookup failed: %v, retrying in 30s", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(30 * time.Second):
					}
					continue
				}
				monitor.Seed(pair)
				sess.SetPair(pair.CE, pair.PE)
				health.SetActivePair(pair.CE, pair.PE)
				log.Printf("[engine] ATM pair: strike=%.0f CE=%s PE=%s", pair.Strike, pair.CE, pair.PE)
				if q, err := fyClient.Quotes(ctx, []string{cfg.SpotSymbol}); err == nil {
					log.Printf("[engine] spot %s at %.2f", cfg.SpotSymbol, q[cfg.SpotSymbol])
				}

				// --- Fresh session for the day ---
				sess.StartDay(markethours.WarmupUntil(time.Now(), cfg.CandleInterval))
				prom.MarketState.Set(1)
				prom.SessionTransitions.WithLabelValues("open").Inc()

				sessCtx, sessCancel := context.WithCancel(ctx)
				runDone := make(chan struct{})
				go func() {
					sess.Run(sessCtx)
					close(runDone)
				}()

				// --- Data socket until the closing price stabilizes ---
				closeTime := markethours.TodayClose(time.Now())
				closeDet := closedetector.New(closeTime)
				wsCtx, wsCancel := context.WithDeadline(ctx, closeTime.Add(closeDet.MaxGrace))

				socket, err := fyers.NewDataSocket(fyers.SocketConfig{Token: fyClient.WSToken()})
				if err != nil {
					log.Printf("[engine] data socket init failed: %v, retrying in 30s", err)
					wsCancel()
					sessCancel()
					<-runDone
					select {
					case <-ctx.Done():
						return
					case <-time.After(30 * time.Second):
					}
					continue
				}
				socket.Subscribe(cfg.SpotSymbol, pair.CE, pair.PE)
				socket.OnConnect = func() { health.SetWSConnected(true) }
				socket.OnDisconnect = func() {
					prom.WSReconnects.Inc()
					prom.SessionTransitions.WithLabelValues("ws_disconnect").Inc()
					health.SetWSConnected(false)
				}

				sockMu.Lock()
				sock = socket
				sockMu.Unlock()

				log.Printf("[engine] feed live — session runs until close at %s",
					closeTime.In(markethours.IST).Format("15:04:05"))

				submitDay := func(t model.Tick) bool {
					if t.Symbol == cfg.SpotSymbol && closeDet.Observe(t.Price, t.TS) {
						wsCancel()
					}
					return submit(t)
				}
				if err := socket.Start(wsCtx, submitDay); err != nil {
					log.Printf("[engine] data socket ended: %v", err)
				}
				wsCancel()

				sockMu.Lock()
				sock = nil
				sockMu.Unlock()

				health.SetWSConnected(false)
				prom.MarketState.Set(0)
				prom.SessionTransitions.WithLabelValues("close").Inc()
				if p := closeDet.ClosingPrice(); p > 0 {
					log.Printf("[engine] closing price: %.2f", p)
				}

				// --- Close the day out ---
				sessCancel()
				<-runDone
				persistReport(sess.EndDay(time.Now()))

				if ctx.Err() != nil {
					return
				}
			}
		}()

		log.Println("[engine] ╔════════════════════════════════════════════════════════════╗")
		log.Println("[engine] ║  Divergence Engine — Production Mode                       ║")
		log.Println("[engine] ║                                                            ║")
		log.Println("[engine] ║  Feed (market hours): 9:15 AM – 3:30 PM IST, Mon–Fri       ║")
		log.Println("[engine] ║  Fresh TOTP login + ATM pair at each market open           ║")
		log.Println("[engine] ║  EOD: carryover close → report → capital persisted         ║")
		log.Println("[engine] ╚════════════════════════════════════════════════════════════╝")
		log.Printf("[engine] %s", markethours.StatusString(time.Now()))
	}

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[engine] shutdown signal received, cleaning up...")
	cancel()

	// Let the feed loop close the day out and flush buffers.
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Println("[engine] WARNING: feed loop did not stop in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if bufWriter != nil {
		if n := bufWriter.PendingCount(); n > 0 {
			log.Printf("[engine] WARNING: %d redis writes still buffered at shutdown", n)
		}
	}
	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[engine] shutdown complete.")
}

// stagingConfig builds a Config from env with defaults, skipping the broker
// credentials that config.Load requires.
func stagingConfig() *config.Config {
	interval := 300
	if v := os.Getenv("CANDLE_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			interval = n
		}
	}
	return &config.Config{
		SpotSymbol:       getEnv("SPOT_SYMBOL", "NSE:NIFTY50-INDEX"),
		CandleInterval:   time.Duration(interval) * time.Second,
		CapitalUnit:      getEnvFloat("CAPITAL_UNIT", 10000),
		BaseCapital:      getEnvFloat("BASE_CAPITAL", 10000),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		SQLitePath:       getEnv("SQLITE_PATH", "data/divergence.db"),
		JournalPath:      getEnv("JOURNAL_PATH", "data/journal.db"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		EMAPeriod:        getEnvInt("EMA_PERIOD", 0),
		EMATouchPct:      getEnvFloat("EMA_TOUCH_PCT", 0.1),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

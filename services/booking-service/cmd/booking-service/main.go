package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/tenantbook/libs/config"
	"github.com/md-rashed-zaman/tenantbook/libs/httpx"
	"github.com/md-rashed-zaman/tenantbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/tenantbook/libs/otel"
	"github.com/md-rashed-zaman/tenantbook/libs/runtime"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/holiday"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/tenantbook/services/booking-service/internal/tenancy"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env failed", "err", err)
		os.Exit(1)
	}
	s, err := loadSettings()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(s.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(s.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	be, err := openBackend(ctx, s, logger)
	if err != nil {
		logger.Error("store init failed", "driver", s.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer be.close()

	var rdb *redis.Client
	if s.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword})
		defer func() { _ = rdb.Close() }()
		be.checks = append(be.checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	calendar, err := newCalendar(s, rdb, m, logger)
	if err != nil {
		logger.Error("holiday calendar init failed", "err", err)
		os.Exit(1)
	}
	go holiday.NewRefresher(calendar, be.regions, s.HolidayRefreshEvery, logger).Run(ctx)

	assigner, err := booking.AssignerByName(s.AssignmentPolicy)
	if err != nil {
		logger.Error("invalid assignment policy", "err", err)
		os.Exit(1)
	}
	engine := availability.New(calendar, availability.Config{LeadTime: s.LeadTime})
	coord := booking.New(be.runner, engine, booking.Options{
		Assigner:    assigner,
		Warmer:      calendar,
		Metrics:     m,
		Logger:      logger,
		GuestCutoff: s.GuestCutoff,
	})

	if len(s.KafkaBrokers) > 0 {
		be.checks = append(be.checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(s.KafkaBrokers)})
		publisher := outbox.NewPublisher(be.outbox, outbox.NewKafkaWriter(s.KafkaBrokers), logger, outbox.PublisherConfig{
			PollEvery: 2 * time.Second,
			BatchSize: 50,
			Observer:  m,
		})
		go publisher.Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set; booking events stay in the outbox")
	}

	if err := startHealthServer(ctx, logger, s.GRPCPort, be.checks...); err != nil {
		logger.Error("grpc server init failed", "err", err)
		os.Exit(1)
	}

	resolver := tenancy.NewResolver(be.registry, s.TenantCacheTTL, logger)
	bookingHandler := handlers.NewBookingHandler(coord, resolver, s.JWTSecret, logger)
	if s.JWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set; staff routes are disabled")
	}

	mux := runtime.NewBaseMuxWithReady(be.checks...)
	runtime.MountMetrics(mux, reg)
	bookingHandler.Mount(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			PathPrefix:     "/api/v1/public/",
			AllowedOrigins: s.CORSOrigins,
			AllowedHeaders: []string{tenancy.HeaderTenant},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(s.RequestTimeout),
		rateLimiter(s, rdb, logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "store", s.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// newCalendar picks the official source (HTTP endpoint, else the static
// file) and the list cache (Redis, else process memory).
func newCalendar(s settings, rdb *redis.Client, m *metrics.Metrics, logger *slog.Logger) (*holiday.Calendar, error) {
	var fallback holiday.Source
	if s.HolidayFallbackFile != "" {
		static, err := holiday.LoadStaticSource(s.HolidayFallbackFile)
		if err != nil {
			return nil, err
		}
		fallback = static
	}

	var source holiday.Source
	switch {
	case s.HolidayAPIURL != "":
		source = holiday.NewHTTPSource(s.HolidayAPIURL, s.HolidayAPIClientID, s.HolidayRegions)
	case fallback != nil:
		source, fallback = fallback, nil
	default:
		logger.Warn("no official holiday source configured; only tenant holidays apply")
	}

	var cache holiday.Cache = holiday.NewMemoryCache()
	if rdb != nil {
		cache = holiday.NewRedisCache(rdb, s.HolidayCacheTTL)
	}

	return holiday.NewCalendar(source, cache, holiday.Config{
		FetchTimeout: s.HolidayFetchTimeout,
		MaxTries:     uint(s.HolidayFetchRetries),
		Cooldown:     s.HolidayCooldown,
		Fallback:     fallback,
		Observer:     m,
		Logger:       logger,
	}), nil
}

// rateLimiter buckets per tenant and client, shared through Redis when it
// is configured.
func rateLimiter(s settings, rdb *redis.Client, logger *slog.Logger) httpx.Middleware {
	key := httpx.HeaderScopedKey(tenancy.HeaderTenant)
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, s.RateLimitPerMinute, time.Minute, "rl:booking", key).Middleware(logger, true)
	}
	return httpx.NewRateLimiter(s.RateLimitPerMinute, time.Minute, key).Middleware()
}

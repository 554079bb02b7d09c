package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/bookingengine/libs/config"
	"github.com/md-rashed-zaman/bookingengine/libs/grpcx"
	"github.com/md-rashed-zaman/bookingengine/libs/httpx"
	"github.com/md-rashed-zaman/bookingengine/libs/kafkax"
	otelx "github.com/md-rashed-zaman/bookingengine/libs/otel"
	"github.com/md-rashed-zaman/bookingengine/libs/redisx"
	"github.com/md-rashed-zaman/bookingengine/libs/runtime"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/maintenance"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/meeting"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/sessions"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/sideeffects"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/venues"
	"github.com/md-rashed-zaman/bookingengine/services/booking-service/internal/wizard"
)

func main() {
	config.LoadDotEnv()
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	store, checks, closeStore, err := openBackend(ctx, logger, outbox.DefaultRouter())
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	rdb, err := redisx.Open(ctx, redisx.Options{
		Addr:     config.String("REDIS_ADDR", ""),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	if err != nil {
		logger.Error("redis connect failed; falling back to in-process sessions", "err", err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}

	brokers := config.String("KAFKA_BROKERS", "")
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkax.SplitBrokers(brokers))})
	}

	sessionTTL := time.Duration(config.Int("SESSION_TTL_MINUTES", 30)) * time.Minute
	var sessionStore wizard.SessionStore
	if rdb != nil {
		sessionStore = sessions.NewRedisStore(rdb, sessionTTL)
	} else {
		sessionStore = sessions.NewMemoryStore(sessionTTL)
	}

	bookings := booking.NewService(store, store, store, logger, time.Now)
	flow := wizard.NewFlow(
		sessionStore,
		store,
		availability.NewService(store, store, time.Now),
		venues.NewResolver(store, store),
		bookings,
		logger,
		time.Now,
	)

	googleToken := meeting.StaticToken(config.String("GOOGLE_ACCESS_TOKEN", ""))
	calendarID := config.String("GOOGLE_CALENDAR_ID", "primary")
	meetings := meeting.NewRegistry(
		meeting.NewZoom(meeting.ZoomConfig{
			AccountID:    config.String("ZOOM_ACCOUNT_ID", ""),
			ClientID:     config.String("ZOOM_CLIENT_ID", ""),
			ClientSecret: config.String("ZOOM_CLIENT_SECRET", ""),
		}),
		meeting.NewGoogleMeet(meeting.GoogleMeetConfig{Token: googleToken, CalendarID: calendarID}),
	)
	var cal calendar.Syncer = calendar.Noop{}
	if googleToken != nil {
		cal = calendar.NewGoogle(calendar.GoogleConfig{Token: googleToken, CalendarID: calendarID})
	}

	var mailer notify.EmailSender = notify.NoopSender{}
	if host := config.String("SMTP_HOST", ""); host != "" {
		mailer = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     host,
			Port:     config.Int("SMTP_PORT", 1025),
			Username: config.String("SMTP_USER", ""),
			Password: config.String("SMTP_PASSWORD", ""),
			From:     config.String("SMTP_FROM", ""),
		})
	} else {
		logger.Warn("SMTP_HOST not set; attendee emails are discarded")
	}
	dispatcher := notify.NewDispatcher(mailer, store, logger, config.String("PUBLIC_BASE_URL", "http://localhost:"+port))

	worker := outbox.NewWorker(store, logger, outbox.WorkerConfig{
		PollInterval: time.Duration(config.Int("OUTBOX_POLL_MS", 2000)) * time.Millisecond,
		BatchSize:    config.Int("OUTBOX_BATCH_SIZE", 20),
		JobTimeout:   config.Duration("OUTBOX_JOB_TIMEOUT", 5*time.Minute),
		BackoffBase:  config.Duration("OUTBOX_BACKOFF", 30*time.Second),
		BackoffMax:   10 * time.Minute,
	})
	worker.Register(outbox.SubscriberSideEffects, sideeffects.NewProcessor(store, store, meetings, bookings, dispatcher, logger))
	worker.Register(outbox.SubscriberMeetings, sideeffects.NewMeetingSync(store, store, meetings, dispatcher, logger))
	worker.Register(outbox.SubscriberReconcile, reconcile.NewObserver(store, store, cal, store, dispatcher, logger))
	go worker.Run(ctx)

	publisher := outbox.NewPublisher(store, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	janitor := maintenance.NewJanitor(store, logger, maintenance.Config{
		Spec:      config.String("OUTBOX_RETENTION_CRON", "@daily"),
		Retention: config.Duration("OUTBOX_RETENTION", 7*24*time.Hour),
	})
	janitor.Start(ctx)
	defer janitor.Stop()

	if err := startGrpcServer(ctx, logger); err != nil {
		logger.Error("grpc server init failed", "err", err)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewPublicHandler(flow, bookings, logger).Register(mux)
	secret, err := config.RequiredString("OWNER_JWT_SECRET")
	if err != nil {
		logger.Warn("owner api disabled", "err", err)
	} else {
		handlers.NewOwnerHandler(bookings, store, store, secret, logger).Register(mux)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS", ""),
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(int64(config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("HTTP_REQUEST_TIMEOUT", 10*time.Second)),
		httpx.WithRateLimit(newLimiter(rdb, logger), logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
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

func newLimiter(rdb *redis.Client, logger *slog.Logger) httpx.Limiter {
	perMinute := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if rdb != nil {
		logger.Info("rate limiting enabled (redis)", "per_minute", perMinute)
		return httpx.NewRedisLimiter(rdb, perMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:booking"))
	}
	logger.Info("rate limiting enabled (in-memory)", "per_minute", perMinute)
	return httpx.NewLocalLimiter(perMinute)
}

// startGrpcServer exposes the standard health service for orchestrators.
func startGrpcServer(ctx context.Context, logger *slog.Logger) error {
	port, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv, hs := grpcx.NewServer(logger)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()

	return nil
}

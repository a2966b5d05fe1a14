package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/avelk/studiodesk/libs/config"
	"github.com/avelk/studiodesk/libs/db"
	"github.com/avelk/studiodesk/libs/httpx"
	"github.com/avelk/studiodesk/libs/kafkax"
	otelx "github.com/avelk/studiodesk/libs/otel"
	"github.com/avelk/studiodesk/libs/runtime"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/booking"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/consumer"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/handlers"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/inbox"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/outbox"
	"github.com/avelk/studiodesk/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8081")
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

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	adminSecret, err := config.RequiredString("ADMIN_JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	outboxRepo := outbox.NewRepository(pool)
	inboxRepo := inbox.NewRepository(pool)
	repo := storage.NewRepository(pool, outboxRepo)

	resourceID := config.String("RESOURCE_ID", "primary")
	bookingSvc := booking.NewService(repo, logger, booking.Config{
		ResourceID:      resourceID,
		HorizonDays:     config.Int("SCHEDULING_HORIZON_DAYS", 14),
		SlotStride:      config.Duration("SLOT_STRIDE", time.Hour),
		DefaultDuration: config.Duration("DEFAULT_APPOINTMENT_DURATION", time.Hour),
	})

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: config.Duration("OUTBOX_POLL_EVERY", 2*time.Second),
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	// Completed shop orders with a consultation item trigger an auto-booking.
	orderTopic := config.String("KAFKA_ORDER_TOPIC", "shop.order.completed.v1")
	if strings.TrimSpace(kafkaBrokers) != "" && strings.TrimSpace(orderTopic) != "" {
		orderConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: kafkaBrokers,
			GroupID: config.String("KAFKA_GROUP_ID", "scheduling-service"),
			Topic:   orderTopic,
		}, func(ctx context.Context, msg kafka.Message) error {
			return handleOrderCompleted(ctx, logger, bookingSvc, msg)
		})
		go orderConsumer.Run(ctx)
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if strings.TrimSpace(kafkaBrokers) != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)})
	}

	var limiter httpx.RateLimiter
	limit := config.Int("RATE_LIMIT", 30)
	window := config.Duration("RATE_LIMIT_WINDOW", time.Minute)
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter = httpx.NewRedisRateLimiter(rdb, limit, window, service)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	} else {
		limiter = httpx.NewMemoryRateLimiter(limit, window)
	}
	rateLimit := httpx.WithRateLimit(limiter, logger, true)

	appointmentHandler := handlers.NewAppointmentHandler(bookingSvc, logger, adminSecret)
	availabilityHandler := handlers.NewAvailabilityHandler(repo, logger, resourceID, adminSecret)
	checkoutHandler := handlers.NewCheckoutHandler(bookingSvc, inboxRepo, logger, config.String("STRIPE_WEBHOOK_SECRET", ""))

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/v1/appointments", httpx.Chain(http.HandlerFunc(appointmentHandler.Collection), rateLimit))
	mux.Handle("/api/v1/appointments/", httpx.Chain(http.HandlerFunc(appointmentHandler.Item), rateLimit))
	mux.HandleFunc("/api/v1/availability", availabilityHandler.Collection)
	mux.HandleFunc("/api/v1/availability/", availabilityHandler.Item)
	mux.HandleFunc("/webhooks/stripe", checkoutHandler.StripeWebhook)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
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

type orderCompletedEvent struct {
	OrderID          string `json:"order_id"`
	CustomerName     string `json:"customer_name"`
	CustomerEmail    string `json:"customer_email"`
	ConsultationType string `json:"consultation_type"`
	DurationMinutes  int    `json:"duration_minutes"`
}

func handleOrderCompleted(ctx context.Context, logger *slog.Logger, svc *booking.Service, msg kafka.Message) error {
	var evt orderCompletedEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		logger.Error("invalid order event payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if evt.ConsultationType == "" {
		// Orders without a consultation item need no appointment.
		return nil
	}
	if evt.OrderID == "" || evt.CustomerEmail == "" {
		logger.Error("order event missing required fields", "topic", msg.Topic)
		return nil
	}

	appt, err := svc.ScheduleFirstAvailable(ctx, booking.AutoBookRequest{
		ClientName:       evt.CustomerName,
		ClientEmail:      evt.CustomerEmail,
		DurationMinutes:  evt.DurationMinutes,
		ConsultationType: evt.ConsultationType,
		OrderRef:         evt.OrderID,
	})
	if err != nil {
		// No open slot is terminal for this order; the failure event already
		// went out for manual follow-up. Anything else is worth a retry.
		if errors.Is(err, booking.ErrNoAvailability) {
			logger.Warn("order auto-book found no open slot", "order_id", evt.OrderID)
			return nil
		}
		return err
	}

	logger.Info("consultation auto-booked from order",
		"order_id", evt.OrderID,
		"appointment_id", appt.ID,
		"start_time", appt.StartTime.Format(time.RFC3339),
	)
	return nil
}

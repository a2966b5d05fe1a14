package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/avelk/studiodesk/libs/config"
	"github.com/avelk/studiodesk/libs/db"
	"github.com/avelk/studiodesk/libs/httpx"
	"github.com/avelk/studiodesk/libs/kafkax"
	otelx "github.com/avelk/studiodesk/libs/otel"
	"github.com/avelk/studiodesk/libs/runtime"
	"github.com/avelk/studiodesk/services/notification-service/internal/consumer"
	"github.com/avelk/studiodesk/services/notification-service/internal/email"
	"github.com/avelk/studiodesk/services/notification-service/internal/inbox"
	"github.com/avelk/studiodesk/services/notification-service/internal/storage"
)

const (
	topicAppointmentRequested = "scheduling.appointment.requested.v1"
	topicAppointmentBooked    = "scheduling.appointment.booked.v1"
)

type appointmentPayload struct {
	AppointmentID    string `json:"appointment_id"`
	ClientName       string `json:"client_name"`
	ClientEmail      string `json:"client_email"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	ConsultationType string `json:"consultation_type"`
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@studiodesk.local"),
	)

	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:  []string{topicAppointmentRequested, topicAppointmentBooked},
	}, func(ctx context.Context, msg kafka.Message) error {
		return handleAppointmentEvent(ctx, logger, emailSender, notificationsRepo, msg)
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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

// handleAppointmentEvent mails the client about their appointment. Delivery is
// fire-and-forget: a failed send is recorded and logged, never retried through
// Kafka, and never propagated back to the scheduling flow.
func handleAppointmentEvent(ctx context.Context, logger *slog.Logger, sender email.Sender, repo *storage.Repository, msg kafka.Message) error {
	var payload appointmentPayload
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		logger.Error("invalid appointment payload", "err", err, "topic", msg.Topic)
		return nil
	}
	if payload.AppointmentID == "" || payload.ClientEmail == "" {
		logger.Error("appointment event missing required fields", "topic", msg.Topic)
		return nil
	}

	start, err := time.Parse(time.RFC3339, payload.StartTime)
	if err != nil {
		logger.Error("invalid start_time", "err", err, "appointment_id", payload.AppointmentID)
		return nil
	}
	end, err := time.Parse(time.RFC3339, payload.EndTime)
	if err != nil {
		logger.Error("invalid end_time", "err", err, "appointment_id", payload.AppointmentID)
		return nil
	}

	info := email.AppointmentInfo{
		ClientName:       payload.ClientName,
		StartTime:        start,
		EndTime:          end,
		ConsultationType: payload.ConsultationType,
	}

	var subject, body string
	switch msg.Topic {
	case topicAppointmentRequested:
		subject, body = email.RequestReceived(info)
	case topicAppointmentBooked:
		subject, body = email.Booked(info)
	default:
		logger.Warn("unexpected topic", "topic", msg.Topic)
		return nil
	}

	status := "sent"
	failureReason := ""
	if err := sender.Send(payload.ClientEmail, subject, body); err != nil {
		status = "failed"
		failureReason = err.Error()
		logger.Error("email send failed", "err", err, "appointment_id", payload.AppointmentID)
	}

	if err := repo.Insert(ctx, storage.Notification{
		AppointmentID: payload.AppointmentID,
		EventType:     msg.Topic,
		Recipient:     payload.ClientEmail,
		Subject:       subject,
		Status:        status,
		FailureReason: failureReason,
	}); err != nil {
		logger.Error("failed to persist notification", "err", err)
		return err
	}

	logger.Info("appointment notification processed",
		"appointment_id", payload.AppointmentID,
		"event_type", msg.Topic,
		"status", status,
	)
	return nil
}

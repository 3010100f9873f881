package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/booking"
)

// Service is the booking surface the HTTP layer depends on.
type Service interface {
	CreateSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time, actorID uuid.UUID) (*booking.Slot, error)
	DeleteSlot(ctx context.Context, slotID uuid.UUID) error
	GetSlot(ctx context.Context, slotID uuid.UUID) (*booking.Slot, error)
	ListAgenda(ctx context.Context, providerID uuid.UUID, from, to *time.Time) ([]booking.Slot, error)

	Reserve(ctx context.Context, slotID, patientID uuid.UUID, notes *string) (*booking.Appointment, error)
	SetStatus(ctx context.Context, appointmentID uuid.UUID, target booking.AppointmentStatus) (*booking.Appointment, error)
	UpdateNotes(ctx context.Context, appointmentID uuid.UUID, notes *string) (*booking.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*booking.AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]booking.Appointment, error)

	Pay(ctx context.Context, appointmentID, patientID uuid.UUID, amount booking.Money, method string) (*booking.Payment, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*booking.Payment, error)
	ListPaymentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]booking.Payment, error)

	ProviderStats(ctx context.Context, providerID uuid.UUID, since time.Time) (*booking.ProviderStats, error)
	PatientAppointmentReport(ctx context.Context, patientID uuid.UUID, period booking.Period) (*booking.PatientAppointmentReport, error)
	PatientPaymentReport(ctx context.Context, patientID uuid.UUID, period booking.Period) (*booking.PatientPaymentReport, error)
	MonthlyRevenue(ctx context.Context, year int) ([]booking.MonthlyRevenue, error)
}

var _ Service = (*booking.Service)(nil)

type RouterConfig struct {
	Service            Service
	Postgres           Pinger
	Redis              Pinger
	Logger             *zap.Logger
	Env                string
	Version            string
	CORSAllowedOrigins []string
	RateLimitPerMin    int
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := cfg.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", "X-Actor-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
	}))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
		}

		svc := cfg.Service

		r.Route("/providers/{providerID}", func(r chi.Router) {
			r.Post("/slots", createSlotHandler(svc))
			r.Get("/agenda", agendaHandler(svc))
			r.Get("/stats", providerStatsHandler(svc))
			r.Get("/appointments", listProviderAppointmentsHandler(svc))
		})

		r.Get("/slots/{id}", getSlotHandler(svc))
		r.Delete("/slots/{id}", deleteSlotHandler(svc))

		r.Post("/appointments", createAppointmentHandler(svc))
		r.Get("/appointments/{id}", getAppointmentHandler(svc))
		r.Patch("/appointments/{id}/status", updateStatusHandler(svc))
		r.Patch("/appointments/{id}/notes", updateNotesHandler(svc))

		r.Get("/patients/{patientID}/appointments", listPatientAppointmentsHandler(svc))
		r.Get("/patients/{patientID}/payments", listPatientPaymentsHandler(svc))
		r.Get("/patients/{patientID}/reports/appointments", patientAppointmentReportHandler(svc))
		r.Get("/patients/{patientID}/reports/payments", patientPaymentReportHandler(svc))
		r.Get("/reports/monthly-revenue", monthlyRevenueHandler(svc))

		r.Post("/payments", createPaymentHandler(svc))
		r.Get("/payments/{id}", getPaymentHandler(svc))
	})

	return r
}

package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type IsolationLevel int

const (
	ReadCommitted IsolationLevel = iota
	RepeatableRead
)

// AgendaFilter narrows ListSlotsByProvider. Nil bounds are open.
type AgendaFilter struct {
	From *time.Time // StartAt >= From
	To   *time.Time // EndAt <= To
}

// Repository contains all store interactions needed by the service.
//
// Methods on a Repository returned to an InTx callback run inside that
// transaction. Lookup methods return the matching ErrXNotFound error when the
// row is absent. Store-level failures that are safe to retry are reported
// wrapping ErrTransient.
type Repository interface {
	// InTx runs fn in one transaction: every mutation made through tx
	// persists together or not at all.
	InTx(ctx context.Context, iso IsolationLevel, fn func(tx Repository) error) error

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// LockSlot reads the slot holding an exclusive row lock until the
	// enclosing transaction ends.
	LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListOccupyingSlots returns the provider's non-cancelled slots that
	// overlap window.
	ListOccupyingSlots(ctx context.Context, providerID uuid.UUID, window Interval) ([]Slot, error)
	ListSlotsByProvider(ctx context.Context, providerID uuid.UUID, filter AgendaFilter) ([]Slot, error)
	// CreateSlot fails with ErrSlotOverlap if the store's own overlap guard
	// rejects the row.
	CreateSlot(ctx context.Context, s *Slot) error
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus, actorID *uuid.UUID, at time.Time) (*Slot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// CreateAppointment fails with ErrSlotUnavailable if the slot already has
	// an appointment.
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus, at time.Time) (*Appointment, error)
	UpdateAppointmentNotes(ctx context.Context, id uuid.UUID, notes *string, at time.Time) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error)

	GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	GetPaymentByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error)
	// CreatePayment fails with ErrPaymentExists if the appointment already
	// has a payment.
	CreatePayment(ctx context.Context, p *Payment) error
	ListPaymentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Payment, error)

	ProviderStats(ctx context.Context, providerID uuid.UUID, since time.Time) (*ProviderStats, error)
	PatientAppointmentReport(ctx context.Context, patientID uuid.UUID, period Period) (*PatientAppointmentReport, error)
	PatientPaymentReport(ctx context.Context, patientID uuid.UUID, period Period) (*PatientPaymentReport, error)
	// MonthlyRevenue returns only months with at least one approved payment,
	// oldest first.
	MonthlyRevenue(ctx context.Context, from, to time.Time) ([]MonthlyRevenue, error)
}

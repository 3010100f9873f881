package booking

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotFree      SlotStatus = "FREE"
	SlotReserved  SlotStatus = "RESERVED"
	SlotCompleted SlotStatus = "COMPLETED"
	SlotCancelled SlotStatus = "CANCELLED"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotFree, SlotReserved, SlotCompleted, SlotCancelled:
		return true
	}
	return false
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is permitted.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// slotStatusFor is the slot status kept in lockstep with a terminal
// appointment status.
var slotStatusFor = map[AppointmentStatus]SlotStatus{
	StatusCompleted: SlotCompleted,
	StatusCancelled: SlotCancelled,
}

type PaymentStatus string

const (
	PaymentApproved PaymentStatus = "APPROVED"
	PaymentDenied   PaymentStatus = "DENIED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

const DefaultPaymentMethod = "CARD_FAKE"

type Slot struct {
	ID         uuid.UUID
	ProviderID uuid.UUID
	StartAt    time.Time
	EndAt      time.Time
	Status     SlotStatus
	CreatedBy  *uuid.UUID
	UpdatedBy  *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Interval returns the slot as a half-open [StartAt, EndAt) interval.
func (s Slot) Interval() Interval {
	return Interval{Start: s.StartAt, End: s.EndAt}
}

type Appointment struct {
	ID        uuid.UUID
	SlotID    uuid.UUID
	PatientID uuid.UUID
	Status    AppointmentStatus
	Notes     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Payment struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	Amount        Money
	Status        PaymentStatus
	Method        string
	SettlementRef string
	CreatedAt     time.Time
}

// AppointmentDetail is an appointment together with the slot it holds.
type AppointmentDetail struct {
	Appointment
	Slot *Slot
}

// ProviderStats summarizes a provider's agenda from Since onwards.
type ProviderStats struct {
	ProviderID       uuid.UUID
	Since            time.Time
	TotalSlots       int
	SlotsByStatus    map[SlotStatus]int
	OccupancyRate    float64 // percentage of slots that are not FREE
	Revenue          Money   // approved payments for the provider's appointments
	DistinctPatients int
}

func newProviderStats(providerID uuid.UUID, since time.Time, byStatus map[SlotStatus]int, revenue Money, patients int) *ProviderStats {
	total := 0
	for _, n := range byStatus {
		total += n
	}

	rate := 0.0
	if total > 0 {
		occupied := total - byStatus[SlotFree]
		rate = math.Round(float64(occupied)/float64(total)*10000) / 100
	}

	return &ProviderStats{
		ProviderID:       providerID,
		Since:            since,
		TotalSlots:       total,
		SlotsByStatus:    byStatus,
		OccupancyRate:    rate,
		Revenue:          revenue,
		DistinctPatients: patients,
	}
}

// Period is a half-open [From, To) reporting window. Nil bounds are open.
type Period struct {
	From *time.Time
	To   *time.Time
}

// PatientAppointmentReport counts a patient's appointments created within
// Period, by status.
type PatientAppointmentReport struct {
	PatientID uuid.UUID
	Period    Period
	Total     int
	ByStatus  map[AppointmentStatus]int
}

// PatientPaymentReport totals a patient's payments created within Period.
type PatientPaymentReport struct {
	PatientID uuid.UUID
	Period    Period
	Payments  int
	Amount    Money
}

// MonthlyRevenue is one calendar month (UTC) of approved payments.
type MonthlyRevenue struct {
	Month    string // YYYY-MM
	Payments int
	Amount   Money
}

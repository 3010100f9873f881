package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/booking"
)

type CreateSlotRequest struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required"`
}

type CreateAppointmentRequest struct {
	SlotID    uuid.UUID `json:"slot_id" validate:"required"`
	PatientID uuid.UUID `json:"patient_id" validate:"required"`
	Notes     *string   `json:"notes" validate:"omitempty,max=2000"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type UpdateNotesRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=2000"`
}

type CreatePaymentRequest struct {
	AppointmentID uuid.UUID      `json:"appointment_id" validate:"required"`
	PatientID     uuid.UUID      `json:"patient_id" validate:"required"`
	Amount        *booking.Money `json:"amount" validate:"required"`
	Method        string         `json:"method" validate:"omitempty,max=50"`
}

type SlotResponse struct {
	ID         uuid.UUID  `json:"id"`
	ProviderID uuid.UUID  `json:"provider_id"`
	Start      time.Time  `json:"start"`
	End        time.Time  `json:"end"`
	Status     string     `json:"status"`
	CreatedBy  *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy  *uuid.UUID `json:"updated_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type AppointmentResponse struct {
	ID        uuid.UUID     `json:"id"`
	SlotID    uuid.UUID     `json:"slot_id"`
	PatientID uuid.UUID     `json:"patient_id"`
	Status    string        `json:"status"`
	Notes     *string       `json:"notes,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Slot      *SlotResponse `json:"slot,omitempty"`
}

type PaymentResponse struct {
	ID            uuid.UUID     `json:"id"`
	AppointmentID uuid.UUID     `json:"appointment_id"`
	PatientID     uuid.UUID     `json:"patient_id"`
	Amount        booking.Money `json:"amount"`
	Status        string        `json:"status"`
	Method        string        `json:"method"`
	SettlementRef string        `json:"settlement_ref"`
	CreatedAt     time.Time     `json:"created_at"`
}

type StatsResponse struct {
	ProviderID       uuid.UUID      `json:"provider_id"`
	Since            time.Time      `json:"since"`
	TotalSlots       int            `json:"total_slots"`
	SlotsByStatus    map[string]int `json:"slots_by_status"`
	OccupancyRate    float64        `json:"occupancy_rate"`
	Revenue          booking.Money  `json:"revenue"`
	DistinctPatients int            `json:"distinct_patients"`
}

type PatientAppointmentReportResponse struct {
	PatientID uuid.UUID      `json:"patient_id"`
	From      *time.Time     `json:"from,omitempty"`
	To        *time.Time     `json:"to,omitempty"`
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
}

type PatientPaymentReportResponse struct {
	PatientID uuid.UUID     `json:"patient_id"`
	From      *time.Time    `json:"from,omitempty"`
	To        *time.Time    `json:"to,omitempty"`
	Payments  int           `json:"payments"`
	Amount    booking.Money `json:"amount"`
}

type MonthlyRevenueResponse struct {
	Month    string        `json:"month"`
	Payments int           `json:"payments"`
	Amount   booking.Money `json:"amount"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toSlotResponse(s *booking.Slot) *SlotResponse {
	if s == nil {
		return nil
	}
	return &SlotResponse{
		ID:         s.ID,
		ProviderID: s.ProviderID,
		Start:      s.StartAt,
		End:        s.EndAt,
		Status:     string(s.Status),
		CreatedBy:  s.CreatedBy,
		UpdatedBy:  s.UpdatedBy,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		SlotID:    a.SlotID,
		PatientID: a.PatientID,
		Status:    string(a.Status),
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toPaymentResponse(p *booking.Payment) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		AppointmentID: p.AppointmentID,
		PatientID:     p.PatientID,
		Amount:        p.Amount,
		Status:        string(p.Status),
		Method:        p.Method,
		SettlementRef: p.SettlementRef,
		CreatedAt:     p.CreatedAt,
	}
}

func toStatsResponse(s *booking.ProviderStats) StatsResponse {
	byStatus := make(map[string]int, 4)
	for _, st := range []booking.SlotStatus{booking.SlotFree, booking.SlotReserved, booking.SlotCompleted, booking.SlotCancelled} {
		byStatus[string(st)] = s.SlotsByStatus[st]
	}
	return StatsResponse{
		ProviderID:       s.ProviderID,
		Since:            s.Since,
		TotalSlots:       s.TotalSlots,
		SlotsByStatus:    byStatus,
		OccupancyRate:    s.OccupancyRate,
		Revenue:          s.Revenue,
		DistinctPatients: s.DistinctPatients,
	}
}

func toPatientAppointmentReportResponse(rep *booking.PatientAppointmentReport) PatientAppointmentReportResponse {
	byStatus := make(map[string]int, 3)
	for _, st := range []booking.AppointmentStatus{booking.StatusScheduled, booking.StatusCompleted, booking.StatusCancelled} {
		byStatus[string(st)] = rep.ByStatus[st]
	}
	return PatientAppointmentReportResponse{
		PatientID: rep.PatientID,
		From:      rep.Period.From,
		To:        rep.Period.To,
		Total:     rep.Total,
		ByStatus:  byStatus,
	}
}

func toPatientPaymentReportResponse(rep *booking.PatientPaymentReport) PatientPaymentReportResponse {
	return PatientPaymentReportResponse{
		PatientID: rep.PatientID,
		From:      rep.Period.From,
		To:        rep.Period.To,
		Payments:  rep.Payments,
		Amount:    rep.Amount,
	}
}

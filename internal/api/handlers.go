package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/booking"
)

const dateLayout = "2006-01-02"

func createSlotHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuidParam(r, "providerID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", err.Error())
			return
		}
		actor, err := actorID(r, providerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_actor_id", err.Error())
			return
		}

		var req CreateSlotRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		slot, err := svc.CreateSlot(r.Context(), providerID, req.Start, req.End, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func getSlotHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", err.Error())
			return
		}

		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func deleteSlotHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", err.Error())
			return
		}

		if err := svc.DeleteSlot(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func agendaHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuidParam(r, "providerID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", err.Error())
			return
		}

		from, err := parseBound(r.URL.Query().Get("start"), false)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
			return
		}
		to, err := parseBound(r.URL.Query().Get("end"), true)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", err.Error())
			return
		}

		slots, err := svc.ListAgenda(r.Context(), providerID, from, to)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]*SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func providerStatsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID, err := uuidParam(r, "providerID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_provider_id", err.Error())
			return
		}

		var since time.Time
		if bound, err := parseBound(r.URL.Query().Get("since"), false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since", err.Error())
			return
		} else if bound != nil {
			since = *bound
		}

		stats, err := svc.ProviderStats(r.Context(), providerID, since)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toStatsResponse(stats))
	}
}

func createAppointmentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		appt, err := svc.Reserve(r.Context(), req.SlotID, req.PatientID, req.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := toAppointmentResponse(&detail.Appointment)
		resp.Slot = toSlotResponse(detail.Slot)
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateStatusHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		var req UpdateStatusRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		target := booking.AppointmentStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
		appt, err := svc.SetStatus(r.Context(), id, target)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateNotesHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", err.Error())
			return
		}

		var req UpdateNotesRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		appt, err := svc.UpdateNotes(r.Context(), id, req.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listPatientAppointmentsHandler(svc Service) http.HandlerFunc {
	return listAppointmentsHandler("patientID", svc.ListAppointmentsByPatient)
}

func listProviderAppointmentsHandler(svc Service) http.HandlerFunc {
	return listAppointmentsHandler("providerID", svc.ListAppointmentsByProvider)
}

type listAppointmentsFunc = func(ctx context.Context, id uuid.UUID, limit, offset int) ([]booking.Appointment, error)

func listAppointmentsHandler(param string, list listAppointmentsFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, param)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+strings.TrimSuffix(param, "ID")+"_id", err.Error())
			return
		}
		limit, offset, err := pageParams(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		appts, err := list(r.Context(), id, limit, offset)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createPaymentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreatePaymentRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}

		payment, err := svc.Pay(r.Context(), req.AppointmentID, req.PatientID, *req.Amount, req.Method)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toPaymentResponse(payment))
	}
}

func getPaymentHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuidParam(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_payment_id", err.Error())
			return
		}

		payment, err := svc.GetPayment(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentResponse(payment))
	}
}

func listPatientPaymentsHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuidParam(r, "patientID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
			return
		}
		limit, offset, err := pageParams(r)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		payments, err := svc.ListPaymentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]PaymentResponse, 0, len(payments))
		for i := range payments {
			resp = append(resp, toPaymentResponse(&payments[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func patientAppointmentReportHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuidParam(r, "patientID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
			return
		}
		period, ok := periodParams(w, r)
		if !ok {
			return
		}

		report, err := svc.PatientAppointmentReport(r.Context(), patientID, period)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientAppointmentReportResponse(report))
	}
}

func patientPaymentReportHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuidParam(r, "patientID")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", err.Error())
			return
		}
		period, ok := periodParams(w, r)
		if !ok {
			return
		}

		report, err := svc.PatientPaymentReport(r.Context(), patientID, period)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toPatientPaymentReportResponse(report))
	}
}

func monthlyRevenueHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, err := strconv.Atoi(r.URL.Query().Get("year"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_year", "year must be an integer")
			return
		}

		months, err := svc.MonthlyRevenue(r.Context(), year)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := make([]MonthlyRevenueResponse, 0, len(months))
		for _, m := range months {
			resp = append(resp, MonthlyRevenueResponse{Month: m.Month, Payments: m.Payments, Amount: m.Amount})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// periodParams reads the start and end query bounds, writing the 400 itself
// when either is malformed.
func periodParams(w http.ResponseWriter, r *http.Request) (booking.Period, bool) {
	from, err := parseBound(r.URL.Query().Get("start"), false)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", err.Error())
		return booking.Period{}, false
	}
	to, err := parseBound(r.URL.Query().Get("end"), true)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end", err.Error())
		return booking.Period{}, false
	}
	return booking.Period{From: from, To: to}, true
}

// parseBound reads an agenda bound given either as a calendar date or an
// RFC 3339 instant. A date used as an upper bound covers the whole day.
func parseBound(v string, upper bool) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, nil
	}
	day, err := time.ParseInLocation(dateLayout, v, time.UTC)
	if err != nil {
		return nil, errors.New("expected YYYY-MM-DD or an RFC 3339 timestamp")
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return &day, nil
}

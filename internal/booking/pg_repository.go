package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-booking/internal/db"
)

const (
	slotColumns        = `id, provider_id, start_at, end_at, status, created_by, updated_by, created_at, updated_at`
	appointmentColumns = `id, slot_id, patient_id, status, notes, created_at, updated_at`
	paymentColumns     = `id, appointment_id, patient_id, amount::text, status, method, settlement_ref, created_at`
)

type PgRepository struct {
	pool        *pgxpool.Pool
	q           db.Querier
	inTx        bool
	lockTimeout time.Duration
}

// NewPgRepository returns a repository over pool. lockTimeout bounds every
// row lock wait inside transactions started by InTx.
func NewPgRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *PgRepository {
	return &PgRepository{pool: pool, q: pool, lockTimeout: lockTimeout}
}

func (r *PgRepository) InTx(ctx context.Context, iso IsolationLevel, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	opts := db.TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: r.lockTimeout}
	if iso == RepeatableRead {
		opts.IsoLevel = pgx.RepeatableRead
	}

	err := db.InTx(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(&PgRepository{pool: r.pool, q: tx, inTx: true, lockTimeout: r.lockTimeout})
	})
	if err != nil && !errors.Is(err, ErrTransient) && db.IsRetryable(err) {
		return transient("commit", err)
	}
	return err
}

// Helpers

func storeErr(op string, err error) error {
	if db.IsRetryable(err) {
		return transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.StartAt,
		&s.EndAt,
		&s.Status,
		&s.CreatedBy,
		&s.UpdatedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.SlotID,
		&a.PatientID,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	return &a, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var amount string

	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.PatientID,
		&amount,
		&p.Status,
		&p.Method,
		&p.SettlementRef,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	p.Amount, err = ParseMoney(amount)
	if err != nil {
		return nil, fmt.Errorf("decode payment amount: %w", err)
	}
	return &p, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// passNotFound keeps the sentinel not-found errors unwrapped and classifies
// everything else.
func passNotFound[T any](op string, v *T, err error) (*T, error) {
	if err == nil {
		return v, nil
	}
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return nil, storeErr(op, err)
}

// Slots

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id)
	s, err := scanSlot(row)
	return passNotFound("get slot", s, err)
}

func (r *PgRepository) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, id)
	s, err := scanSlot(row)
	return passNotFound("lock slot", s, err)
}

func (r *PgRepository) ListOccupyingSlots(ctx context.Context, providerID uuid.UUID, window Interval) ([]Slot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE provider_id = $1
		  AND status <> 'CANCELLED'
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, providerID, window.Start, window.End)
	if err != nil {
		return nil, storeErr("list occupying slots", err)
	}

	slots, err := collect(rows, scanSlot)
	if err != nil {
		return nil, storeErr("list occupying slots", err)
	}
	return slots, nil
}

func (r *PgRepository) ListSlotsByProvider(ctx context.Context, providerID uuid.UUID, filter AgendaFilter) ([]Slot, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + slotColumns + ` FROM slots WHERE provider_id = $1`)
	args := []any{providerID}

	if filter.From != nil {
		args = append(args, *filter.From)
		fmt.Fprintf(&sb, " AND start_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		fmt.Fprintf(&sb, " AND end_at <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY start_at")

	rows, err := r.q.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, storeErr("list agenda", err)
	}

	slots, err := collect(rows, scanSlot)
	if err != nil {
		return nil, storeErr("list agenda", err)
	}
	return slots, nil
}

func (r *PgRepository) CreateSlot(ctx context.Context, s *Slot) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO slots (id, provider_id, start_at, end_at, status, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, s.ID, s.ProviderID, s.StartAt, s.EndAt, s.Status, s.CreatedBy, s.UpdatedBy, s.CreatedAt, s.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsExclusionViolation(err, "slots_no_overlap"):
		return ErrSlotOverlap
	case db.IsCheckViolation(err, "slots_interval_check"):
		return ErrInvalidInterval
	}
	return storeErr("insert slot", err)
}

func (r *PgRepository) UpdateSlotStatus(ctx context.Context, id uuid.UUID, status SlotStatus, actorID *uuid.UUID, at time.Time) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE slots
		SET status = $2,
		    updated_by = COALESCE($3, updated_by),
		    updated_at = $4
		WHERE id = $1
		RETURNING `+slotColumns, id, status, actorID, at)
	s, err := scanSlot(row)
	return passNotFound("update slot status", s, err)
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM slots WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete slot", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	return passNotFound("get appointment", a, err)
}

func (r *PgRepository) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAppointment(row)
	return passNotFound("lock appointment", a, err)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments (id, slot_id, patient_id, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.SlotID, a.PatientID, a.Status, a.Notes, a.CreatedAt, a.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "appointments_slot_id_key"):
		return ErrSlotUnavailable
	}
	return storeErr("insert appointment", err)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status AppointmentStatus, at time.Time) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+appointmentColumns, id, status, at)
	a, err := scanAppointment(row)
	return passNotFound("update appointment status", a, err)
}

func (r *PgRepository) UpdateAppointmentNotes(ctx context.Context, id uuid.UUID, notes *string, at time.Time) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET notes = $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+appointmentColumns, id, notes, at)
	a, err := scanAppointment(row)
	return passNotFound("update appointment notes", a, err)
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, storeErr("list appointments by patient", err)
	}

	appts, err := collect(rows, scanAppointment)
	if err != nil {
		return nil, storeErr("list appointments by patient", err)
	}
	return appts, nil
}

func (r *PgRepository) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT a.id, a.slot_id, a.patient_id, a.status, a.notes, a.created_at, a.updated_at
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
		WHERE s.provider_id = $1
		ORDER BY a.created_at DESC, a.id
		LIMIT $2 OFFSET $3
	`, providerID, limit, offset)
	if err != nil {
		return nil, storeErr("list appointments by provider", err)
	}

	appts, err := collect(rows, scanAppointment)
	if err != nil {
		return nil, storeErr("list appointments by provider", err)
	}
	return appts, nil
}

// Payments

func (r *PgRepository) GetPaymentByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	return passNotFound("get payment", p, err)
}

func (r *PgRepository) GetPaymentByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Payment, error) {
	row := r.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE appointment_id = $1`, appointmentID)
	p, err := scanPayment(row)
	return passNotFound("get payment by appointment", p, err)
}

func (r *PgRepository) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO payments (id, appointment_id, patient_id, amount, status, method, settlement_ref, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
	`, p.ID, p.AppointmentID, p.PatientID, p.Amount.String(), p.Status, p.Method, p.SettlementRef, p.CreatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "payments_appointment_id_key"):
		return ErrPaymentExists
	case db.IsCheckViolation(err, "payments_amount_check"):
		return ErrNegativeAmount
	}
	return storeErr("insert payment", err)
}

func (r *PgRepository) ListPaymentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Payment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE patient_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, storeErr("list payments by patient", err)
	}

	payments, err := collect(rows, scanPayment)
	if err != nil {
		return nil, storeErr("list payments by patient", err)
	}
	return payments, nil
}

// Reporting

func (r *PgRepository) ProviderStats(ctx context.Context, providerID uuid.UUID, since time.Time) (*ProviderStats, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, count(*)
		FROM slots
		WHERE provider_id = $1
		  AND start_at >= $2
		GROUP BY status
	`, providerID, since)
	if err != nil {
		return nil, storeErr("count slots", err)
	}

	byStatus := make(map[SlotStatus]int)
	for rows.Next() {
		var status SlotStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, storeErr("count slots", err)
		}
		byStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("count slots", err)
	}

	var revenue string
	err = r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(p.amount), 0)::text
		FROM payments p
		JOIN appointments a ON a.id = p.appointment_id
		JOIN slots s ON s.id = a.slot_id
		WHERE s.provider_id = $1
		  AND p.status = 'APPROVED'
		  AND p.created_at >= $2
	`, providerID, since).Scan(&revenue)
	if err != nil {
		return nil, storeErr("sum revenue", err)
	}

	var patients int
	err = r.q.QueryRow(ctx, `
		SELECT COUNT(DISTINCT a.patient_id)
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
		WHERE s.provider_id = $1
		  AND s.start_at >= $2
	`, providerID, since).Scan(&patients)
	if err != nil {
		return nil, storeErr("count patients", err)
	}

	amount, err := ParseMoney(revenue)
	if err != nil {
		return nil, fmt.Errorf("decode revenue: %w", err)
	}

	return newProviderStats(providerID, since, byStatus, amount, patients), nil
}

func (r *PgRepository) PatientAppointmentReport(ctx context.Context, patientID uuid.UUID, period Period) (*PatientAppointmentReport, error) {
	rows, err := r.q.Query(ctx, `
		SELECT status, count(*)
		FROM appointments
		WHERE patient_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		GROUP BY status
	`, patientID, period.From, period.To)
	if err != nil {
		return nil, storeErr("count patient appointments", err)
	}
	defer rows.Close()

	report := &PatientAppointmentReport{
		PatientID: patientID,
		Period:    period,
		ByStatus:  make(map[AppointmentStatus]int),
	}
	for rows.Next() {
		var status AppointmentStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storeErr("count patient appointments", err)
		}
		report.ByStatus[status] = n
		report.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("count patient appointments", err)
	}
	return report, nil
}

func (r *PgRepository) PatientPaymentReport(ctx context.Context, patientID uuid.UUID, period Period) (*PatientPaymentReport, error) {
	var (
		count int
		total string
	)
	err := r.q.QueryRow(ctx, `
		SELECT count(*), COALESCE(SUM(amount), 0)::text
		FROM payments
		WHERE patient_id = $1
		  AND ($2::timestamptz IS NULL OR created_at >= $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
	`, patientID, period.From, period.To).Scan(&count, &total)
	if err != nil {
		return nil, storeErr("sum patient payments", err)
	}

	amount, err := ParseMoney(total)
	if err != nil {
		return nil, fmt.Errorf("decode payment total: %w", err)
	}
	return &PatientPaymentReport{PatientID: patientID, Period: period, Payments: count, Amount: amount}, nil
}

func (r *PgRepository) MonthlyRevenue(ctx context.Context, from, to time.Time) ([]MonthlyRevenue, error) {
	rows, err := r.q.Query(ctx, `
		SELECT to_char(date_trunc('month', created_at AT TIME ZONE 'UTC'), 'YYYY-MM'),
		       count(*),
		       SUM(amount)::text
		FROM payments
		WHERE status = 'APPROVED'
		  AND created_at >= $1
		  AND created_at < $2
		GROUP BY 1
		ORDER BY 1
	`, from, to)
	if err != nil {
		return nil, storeErr("monthly revenue", err)
	}
	defer rows.Close()

	months := []MonthlyRevenue{}
	for rows.Next() {
		var (
			m     MonthlyRevenue
			total string
		)
		if err := rows.Scan(&m.Month, &m.Payments, &total); err != nil {
			return nil, storeErr("monthly revenue", err)
		}
		if m.Amount, err = ParseMoney(total); err != nil {
			return nil, fmt.Errorf("decode monthly revenue: %w", err)
		}
		months = append(months, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("monthly revenue", err)
	}
	return months, nil
}

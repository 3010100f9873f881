package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/config"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	repo          Repository
	locker        redisclient.Locker
	cfg           config.Config
	logger        *zap.Logger
	clock         Clock
	settlementRef func() string
}

type Option func(*Service)

// WithClock replaces the wall clock used for timestamps.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithSettlementRef replaces the settlement reference generator.
func WithSettlementRef(fn func() string) Option {
	return func(s *Service) { s.settlementRef = fn }
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:          repo,
		locker:        locker,
		cfg:           cfg,
		logger:        logger,
		clock:         SystemClock,
		settlementRef: fakeSettlementRef,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func fakeSettlementRef() string {
	return fmt.Sprintf("NSU-%06d", 100000+rand.IntN(900000))
}

// opErr passes classified errors through untouched and adds op context to
// anything else.
func opErr(op string, err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConflict, ErrInvalidState, ErrTransient} {
		if errors.Is(err, kind) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Agenda

// CreateSlot adds a FREE slot to the provider's agenda. Writes to one
// provider's agenda are serialized by a distributed lock, and the overlap
// check runs against a repeatable-read snapshot taken under that lock.
func (s *Service) CreateSlot(ctx context.Context, providerID uuid.UUID, start, end time.Time, actorID uuid.UUID) (*Slot, error) {
	if !end.After(start) {
		return nil, ErrInvalidInterval
	}
	candidate := Interval{Start: start.UTC(), End: end.UTC()}

	var (
		created *Slot
		locked  bool
	)
	err := s.locker.WithLock(ctx, redisclient.ProviderLockKey(providerID), func(lockCtx context.Context) error {
		locked = true
		return s.repo.InTx(lockCtx, RepeatableRead, func(tx Repository) error {
			existing, err := tx.ListOccupyingSlots(lockCtx, providerID, candidate)
			if err != nil {
				return err
			}
			if Conflicts(existing, candidate) {
				return ErrSlotOverlap
			}

			now := s.clock.Now()
			actor := actorID
			slot := &Slot{
				ID:         uuid.New(),
				ProviderID: providerID,
				StartAt:    candidate.Start,
				EndAt:      candidate.End,
				Status:     SlotFree,
				CreatedBy:  &actor,
				UpdatedBy:  &actor,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.CreateSlot(lockCtx, slot); err != nil {
				return err
			}
			created = slot
			return nil
		})
	})
	if err != nil {
		// Failing to take the lock at all, contended or with Redis
		// unreachable, leaves nothing written and is safe to retry.
		if !locked && ctx.Err() == nil {
			return nil, transient("create slot", err)
		}
		return nil, opErr("create slot", err)
	}

	s.logger.Info("slot created",
		zap.String("slot_id", created.ID.String()),
		zap.String("provider_id", providerID.String()),
		zap.Time("start", created.StartAt),
		zap.Time("end", created.EndAt),
	)
	return created, nil
}

// DeleteSlot permanently removes a slot that was never reserved.
func (s *Service) DeleteSlot(ctx context.Context, slotID uuid.UUID) error {
	err := s.repo.InTx(ctx, ReadCommitted, func(tx Repository) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != SlotFree {
			return ErrSlotNotFree
		}
		return tx.DeleteSlot(ctx, slotID)
	})
	if err != nil {
		return opErr("delete slot", err)
	}

	s.logger.Info("slot deleted", zap.String("slot_id", slotID.String()))
	return nil
}

// ListAgenda returns the provider's slots ordered by start. from and to are
// optional inclusive bounds on start and end respectively.
func (s *Service) ListAgenda(ctx context.Context, providerID uuid.UUID, from, to *time.Time) ([]Slot, error) {
	slots, err := s.repo.ListSlotsByProvider(ctx, providerID, AgendaFilter{From: from, To: to})
	if err != nil {
		return nil, opErr("list agenda", err)
	}
	return slots, nil
}

func (s *Service) GetSlot(ctx context.Context, slotID uuid.UUID) (*Slot, error) {
	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, opErr("get slot", err)
	}
	return slot, nil
}

// Reservation

// Reserve books a FREE slot for a patient. The slot row is locked for the
// whole transaction so that concurrent reservations of the same slot are
// totally ordered: the first one wins, every later one sees RESERVED and
// fails with ErrSlotUnavailable. Lock timeouts and other transient store
// failures are retried a bounded number of times.
func (s *Service) Reserve(ctx context.Context, slotID, patientID uuid.UUID, notes *string) (*Appointment, error) {
	notes = normalizeNotes(notes)
	attempts := s.cfg.ReserveRetries + 1

	for attempt := 1; ; attempt++ {
		appt, err := s.reserveOnce(ctx, slotID, patientID, notes)
		if err == nil {
			s.logger.Info("slot reserved",
				zap.String("slot_id", slotID.String()),
				zap.String("appointment_id", appt.ID.String()),
				zap.String("patient_id", patientID.String()),
				zap.Int("attempt", attempt),
			)
			return appt, nil
		}

		if !errors.Is(err, ErrTransient) || attempt >= attempts {
			if errors.Is(err, ErrConflict) {
				s.logger.Debug("reservation rejected",
					zap.String("slot_id", slotID.String()),
					zap.Error(err),
				)
			}
			return nil, opErr("reserve slot", err)
		}

		s.logger.Warn("transient reservation failure, retrying",
			zap.String("slot_id", slotID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		timer := time.NewTimer(s.cfg.ReserveRetryBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Service) reserveOnce(ctx context.Context, slotID, patientID uuid.UUID, notes *string) (*Appointment, error) {
	var created *Appointment

	err := s.repo.InTx(ctx, ReadCommitted, func(tx Repository) error {
		slot, err := tx.LockSlot(ctx, slotID)
		if err != nil {
			return err
		}
		if slot.Status != SlotFree {
			return ErrSlotUnavailable
		}

		now := s.clock.Now()
		actor := patientID
		if _, err := tx.UpdateSlotStatus(ctx, slotID, SlotReserved, &actor, now); err != nil {
			return err
		}

		appt := &Appointment{
			ID:        uuid.New(),
			SlotID:    slotID,
			PatientID: patientID,
			Status:    StatusScheduled,
			Notes:     notes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return err
		}
		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func normalizeNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// Lifecycle

// SetStatus closes a SCHEDULED appointment as COMPLETED or CANCELLED and moves
// its slot to the matching status in the same transaction. Locks are taken
// slot first, then appointment, the same order Reserve uses.
func (s *Service) SetStatus(ctx context.Context, appointmentID uuid.UUID, target AppointmentStatus) (*Appointment, error) {
	slotStatus, ok := slotStatusFor[target]
	if !ok {
		return nil, ErrInvalidTargetStatus
	}

	var updated *Appointment
	err := s.repo.InTx(ctx, ReadCommitted, func(tx Repository) error {
		current, err := tx.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return err
		}
		if _, err := tx.LockSlot(ctx, current.SlotID); err != nil {
			return err
		}

		appt, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return ErrAppointmentFinalized
		}

		now := s.clock.Now()
		updated, err = tx.UpdateAppointmentStatus(ctx, appointmentID, target, now)
		if err != nil {
			return err
		}
		_, err = tx.UpdateSlotStatus(ctx, appt.SlotID, slotStatus, nil, now)
		return err
	})
	if err != nil {
		return nil, opErr("set appointment status", err)
	}

	s.logger.Info("appointment status changed",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("status", string(target)),
	)
	return updated, nil
}

// UpdateNotes replaces the notes of a SCHEDULED appointment.
func (s *Service) UpdateNotes(ctx context.Context, appointmentID uuid.UUID, notes *string) (*Appointment, error) {
	notes = normalizeNotes(notes)

	var updated *Appointment
	err := s.repo.InTx(ctx, ReadCommitted, func(tx Repository) error {
		appt, err := tx.LockAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return ErrAppointmentFinalized
		}
		updated, err = tx.UpdateAppointmentNotes(ctx, appointmentID, notes, s.clock.Now())
		return err
	})
	if err != nil {
		return nil, opErr("update appointment notes", err)
	}
	return updated, nil
}

// GetAppointment returns the appointment together with its slot.
func (s *Service) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, opErr("get appointment", err)
	}
	slot, err := s.repo.GetSlotByID(ctx, appt.SlotID)
	if err != nil {
		return nil, opErr("get appointment slot", err)
	}
	return &AppointmentDetail{Appointment: *appt, Slot: slot}, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListAppointmentsByPatient returns the patient's appointments, newest first.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = normalizePage(limit, offset)
	appts, err := s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, opErr("list appointments by patient", err)
	}
	return appts, nil
}

// ListAppointmentsByProvider returns appointments on the provider's slots,
// newest first.
func (s *Service) ListAppointmentsByProvider(ctx context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = normalizePage(limit, offset)
	appts, err := s.repo.ListAppointmentsByProvider(ctx, providerID, limit, offset)
	if err != nil {
		return nil, opErr("list appointments by provider", err)
	}
	return appts, nil
}

// Payments

// Pay records the single payment of an appointment. Settlement always
// approves. The existence check gives a clean error on the common path; the
// unique constraint on appointment id is what actually rejects a concurrent
// duplicate.
func (s *Service) Pay(ctx context.Context, appointmentID, patientID uuid.UUID, amount Money, method string) (*Payment, error) {
	if amount < 0 {
		return nil, ErrNegativeAmount
	}
	if amount > MaxMoney {
		return nil, fmt.Errorf("%w: amount %s out of range", ErrValidation, amount)
	}
	method = strings.TrimSpace(method)
	if method == "" {
		method = DefaultPaymentMethod
	}

	var created *Payment
	err := s.repo.InTx(ctx, ReadCommitted, func(tx Repository) error {
		if _, err := tx.GetAppointmentByID(ctx, appointmentID); err != nil {
			return err
		}

		_, err := tx.GetPaymentByAppointment(ctx, appointmentID)
		switch {
		case err == nil:
			return ErrPaymentExists
		case !errors.Is(err, ErrPaymentNotFound):
			return err
		}

		p := &Payment{
			ID:            uuid.New(),
			AppointmentID: appointmentID,
			PatientID:     patientID,
			Amount:        amount,
			Status:        PaymentApproved,
			Method:        method,
			SettlementRef: s.settlementRef(),
			CreatedAt:     s.clock.Now(),
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, opErr("pay appointment", err)
	}

	s.logger.Info("payment approved",
		zap.String("payment_id", created.ID.String()),
		zap.String("appointment_id", appointmentID.String()),
		zap.Stringer("amount", created.Amount),
	)
	return created, nil
}

func (s *Service) GetPayment(ctx context.Context, paymentID uuid.UUID) (*Payment, error) {
	p, err := s.repo.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, opErr("get payment", err)
	}
	return p, nil
}

func (s *Service) ListPaymentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Payment, error) {
	limit, offset = normalizePage(limit, offset)
	payments, err := s.repo.ListPaymentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, opErr("list payments by patient", err)
	}
	return payments, nil
}

// Reporting

// ProviderStats aggregates the provider's agenda from since onwards. A zero
// since means the start of the current month.
func (s *Service) ProviderStats(ctx context.Context, providerID uuid.UUID, since time.Time) (*ProviderStats, error) {
	if since.IsZero() {
		now := s.clock.Now()
		since = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	}
	stats, err := s.repo.ProviderStats(ctx, providerID, since)
	if err != nil {
		return nil, opErr("provider stats", err)
	}
	return stats, nil
}

// PatientAppointmentReport counts the patient's appointments created within
// period.
func (s *Service) PatientAppointmentReport(ctx context.Context, patientID uuid.UUID, period Period) (*PatientAppointmentReport, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	report, err := s.repo.PatientAppointmentReport(ctx, patientID, period)
	if err != nil {
		return nil, opErr("patient appointment report", err)
	}
	return report, nil
}

// PatientPaymentReport totals the patient's payments created within period.
func (s *Service) PatientPaymentReport(ctx context.Context, patientID uuid.UUID, period Period) (*PatientPaymentReport, error) {
	if err := checkPeriod(period); err != nil {
		return nil, err
	}
	report, err := s.repo.PatientPaymentReport(ctx, patientID, period)
	if err != nil {
		return nil, opErr("patient payment report", err)
	}
	return report, nil
}

// MonthlyRevenue breaks the year's approved payments down by UTC calendar
// month. Months without payments are left out.
func (s *Service) MonthlyRevenue(ctx context.Context, year int) ([]MonthlyRevenue, error) {
	if year < 1 || year > 9999 {
		return nil, ErrInvalidYear
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	months, err := s.repo.MonthlyRevenue(ctx, from, from.AddDate(1, 0, 0))
	if err != nil {
		return nil, opErr("monthly revenue", err)
	}
	return months, nil
}

func checkPeriod(p Period) error {
	if p.From != nil && p.To != nil && !p.To.After(*p.From) {
		return ErrInvalidPeriod
	}
	return nil
}

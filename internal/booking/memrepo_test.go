package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/config"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

// -- In-memory repository --
//
// A transaction works on a copy of the committed state taken when it begins
// and records the rows it writes. Commit applies those rows to the latest
// committed state after re-running the overlap and uniqueness guards, the way
// the database constraints would. LockSlot and LockAppointment hold a per-row
// lock until the transaction ends and re-read the row once it is held, so
// transactions touching unrelated rows never wait on each other.

type memData struct {
	slots    map[uuid.UUID]Slot
	appts    map[uuid.UUID]Appointment
	payments map[uuid.UUID]Payment
}

func (d *memData) clone() *memData {
	c := &memData{
		slots:    make(map[uuid.UUID]Slot, len(d.slots)),
		appts:    make(map[uuid.UUID]Appointment, len(d.appts)),
		payments: make(map[uuid.UUID]Payment, len(d.payments)),
	}
	for k, v := range d.slots {
		c.slots[k] = v
	}
	for k, v := range d.appts {
		c.appts[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	return c
}

type rowKind int

const (
	slotRow rowKind = iota
	appointmentRow
	paymentRow
)

type memTx struct {
	data  *memData
	dirty map[rowKind]map[uuid.UUID]struct{}
	held  []uuid.UUID
}

func newMemTx(data *memData) *memTx {
	return &memTx{
		data: data,
		dirty: map[rowKind]map[uuid.UUID]struct{}{
			slotRow:        {},
			appointmentRow: {},
			paymentRow:     {},
		},
	}
}

type memStore struct {
	mu   sync.Mutex
	data *memData
	rows map[uuid.UUID]chan struct{}

	// lockFailures makes the next n LockSlot calls fail as lock timeouts.
	lockFailures int
	lockCalls    int
	// failAppointmentInsert makes CreateAppointment fail with a store error.
	failAppointmentInsert bool
	// failSlotInsert makes CreateSlot fail with a store error.
	failSlotInsert bool
}

func newMemStore() *memStore {
	return &memStore{
		data: &memData{
			slots:    make(map[uuid.UUID]Slot),
			appts:    make(map[uuid.UUID]Appointment),
			payments: make(map[uuid.UUID]Payment),
		},
		rows: make(map[uuid.UUID]chan struct{}),
	}
}

func (st *memStore) rowLock(id uuid.UUID) chan struct{} {
	st.mu.Lock()
	defer st.mu.Unlock()
	ch, ok := st.rows[id]
	if !ok {
		ch = make(chan struct{}, 1)
		st.rows[id] = ch
	}
	return ch
}

func (st *memStore) release(held []uuid.UUID) {
	for _, id := range held {
		<-st.rowLock(id)
	}
}

// commit applies the rows written by tx, failing the whole transaction if a
// guard rejects any of them.
func (st *memStore) commit(tx *memTx) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.data.clone()
	for id := range tx.dirty[slotRow] {
		s, ok := tx.data.slots[id]
		if !ok {
			delete(next.slots, id)
			continue
		}
		if s.Status != SlotCancelled {
			for otherID, other := range next.slots {
				if otherID != id && other.ProviderID == s.ProviderID && other.Status != SlotCancelled && other.Interval().Overlaps(s.Interval()) {
					return ErrSlotOverlap
				}
			}
		}
		next.slots[id] = s
	}
	for id := range tx.dirty[appointmentRow] {
		a, ok := tx.data.appts[id]
		if !ok {
			continue
		}
		for otherID, other := range next.appts {
			if otherID != id && other.SlotID == a.SlotID {
				return ErrSlotUnavailable
			}
		}
		next.appts[id] = a
	}
	for id := range tx.dirty[paymentRow] {
		p, ok := tx.data.payments[id]
		if !ok {
			continue
		}
		for otherID, other := range next.payments {
			if otherID != id && other.AppointmentID == p.AppointmentID {
				return ErrPaymentExists
			}
		}
		next.payments[id] = p
	}
	st.data = next
	return nil
}

type memRepo struct {
	st *memStore
	tx *memTx // nil outside a transaction
}

func newMemRepo() *memRepo {
	return &memRepo{st: newMemStore()}
}

func (r *memRepo) with(fn func(d *memData) error) error {
	if r.tx != nil {
		return fn(r.tx.data)
	}
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return fn(r.st.data)
}

// changed records a row written inside a transaction.
func (r *memRepo) changed(kind rowKind, id uuid.UUID) {
	if r.tx != nil {
		r.tx.dirty[kind][id] = struct{}{}
	}
}

// lockRow takes the row lock for the rest of the transaction. It reports
// whether the lock was newly acquired.
func (r *memRepo) lockRow(ctx context.Context, id uuid.UUID) (bool, error) {
	if r.tx == nil {
		return false, nil
	}
	for _, h := range r.tx.held {
		if h == id {
			return false, nil
		}
	}
	select {
	case r.st.rowLock(id) <- struct{}{}:
		r.tx.held = append(r.tx.held, id)
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (r *memRepo) InTx(ctx context.Context, _ IsolationLevel, fn func(tx Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.st.mu.Lock()
	tx := newMemTx(r.st.data.clone())
	r.st.mu.Unlock()
	defer func() { r.st.release(tx.held) }()

	if err := fn(&memRepo{st: r.st, tx: tx}); err != nil {
		return err
	}
	return r.st.commit(tx)
}

func (r *memRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	var out *Slot
	err := r.with(func(d *memData) error {
		s, ok := d.slots[id]
		if !ok {
			return ErrSlotNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *memRepo) LockSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	r.st.mu.Lock()
	r.st.lockCalls++
	fail := r.st.lockFailures > 0
	if fail {
		r.st.lockFailures--
	}
	r.st.mu.Unlock()
	if fail {
		return nil, transient("lock slot", errors.New("canceling statement due to lock timeout"))
	}

	acquired, err := r.lockRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if acquired {
		r.st.mu.Lock()
		s, ok := r.st.data.slots[id]
		r.st.mu.Unlock()
		if ok {
			r.tx.data.slots[id] = s
		} else {
			delete(r.tx.data.slots, id)
		}
	}
	return r.GetSlotByID(ctx, id)
}

func (r *memRepo) ListOccupyingSlots(_ context.Context, providerID uuid.UUID, window Interval) ([]Slot, error) {
	var out []Slot
	err := r.with(func(d *memData) error {
		for _, s := range d.slots {
			if s.ProviderID == providerID && s.Status != SlotCancelled && s.Interval().Overlaps(window) {
				out = append(out, s)
			}
		}
		return nil
	})
	sortSlots(out)
	return out, err
}

func (r *memRepo) ListSlotsByProvider(_ context.Context, providerID uuid.UUID, filter AgendaFilter) ([]Slot, error) {
	var out []Slot
	err := r.with(func(d *memData) error {
		for _, s := range d.slots {
			if s.ProviderID != providerID {
				continue
			}
			if filter.From != nil && s.StartAt.Before(*filter.From) {
				continue
			}
			if filter.To != nil && s.EndAt.After(*filter.To) {
				continue
			}
			out = append(out, s)
		}
		return nil
	})
	sortSlots(out)
	return out, err
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartAt.Before(slots[j].StartAt) })
}

func (r *memRepo) CreateSlot(_ context.Context, s *Slot) error {
	if r.st.failSlotInsert {
		return errors.New("connection reset by peer")
	}
	return r.with(func(d *memData) error {
		if s.Status != SlotCancelled {
			for _, other := range d.slots {
				if other.ProviderID == s.ProviderID && other.Status != SlotCancelled && other.Interval().Overlaps(s.Interval()) {
					return ErrSlotOverlap
				}
			}
		}
		d.slots[s.ID] = *s
		r.changed(slotRow, s.ID)
		return nil
	})
}

func (r *memRepo) UpdateSlotStatus(_ context.Context, id uuid.UUID, status SlotStatus, actorID *uuid.UUID, at time.Time) (*Slot, error) {
	var out *Slot
	err := r.with(func(d *memData) error {
		s, ok := d.slots[id]
		if !ok {
			return ErrSlotNotFound
		}
		s.Status = status
		if actorID != nil {
			s.UpdatedBy = actorID
		}
		s.UpdatedAt = at
		d.slots[id] = s
		r.changed(slotRow, id)
		out = &s
		return nil
	})
	return out, err
}

func (r *memRepo) DeleteSlot(_ context.Context, id uuid.UUID) error {
	return r.with(func(d *memData) error {
		if _, ok := d.slots[id]; !ok {
			return ErrSlotNotFound
		}
		delete(d.slots, id)
		r.changed(slotRow, id)
		return nil
	})
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	var out *Appointment
	err := r.with(func(d *memData) error {
		a, ok := d.appts[id]
		if !ok {
			return ErrAppointmentNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

func (r *memRepo) LockAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	acquired, err := r.lockRow(ctx, id)
	if err != nil {
		return nil, err
	}
	if acquired {
		r.st.mu.Lock()
		a, ok := r.st.data.appts[id]
		r.st.mu.Unlock()
		if ok {
			r.tx.data.appts[id] = a
		} else {
			delete(r.tx.data.appts, id)
		}
	}
	return r.GetAppointmentByID(ctx, id)
}

func (r *memRepo) CreateAppointment(_ context.Context, a *Appointment) error {
	return r.with(func(d *memData) error {
		if r.st.failAppointmentInsert {
			return errors.New("connection reset by peer")
		}
		for _, other := range d.appts {
			if other.SlotID == a.SlotID {
				return ErrSlotUnavailable
			}
		}
		d.appts[a.ID] = *a
		r.changed(appointmentRow, a.ID)
		return nil
	})
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, status AppointmentStatus, at time.Time) (*Appointment, error) {
	var out *Appointment
	err := r.with(func(d *memData) error {
		a, ok := d.appts[id]
		if !ok {
			return ErrAppointmentNotFound
		}
		a.Status = status
		a.UpdatedAt = at
		d.appts[id] = a
		r.changed(appointmentRow, id)
		out = &a
		return nil
	})
	return out, err
}

func (r *memRepo) UpdateAppointmentNotes(_ context.Context, id uuid.UUID, notes *string, at time.Time) (*Appointment, error) {
	var out *Appointment
	err := r.with(func(d *memData) error {
		a, ok := d.appts[id]
		if !ok {
			return ErrAppointmentNotFound
		}
		a.Notes = notes
		a.UpdatedAt = at
		d.appts[id] = a
		r.changed(appointmentRow, id)
		out = &a
		return nil
	})
	return out, err
}

func (r *memRepo) listAppointments(match func(d *memData, a Appointment) bool, limit, offset int) ([]Appointment, error) {
	var all []Appointment
	err := r.with(func(d *memData) error {
		for _, a := range d.appts {
			if match(d, a) {
				all = append(all, a)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), err
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(func(_ *memData, a Appointment) bool {
		return a.PatientID == patientID
	}, limit, offset)
}

func (r *memRepo) ListAppointmentsByProvider(_ context.Context, providerID uuid.UUID, limit, offset int) ([]Appointment, error) {
	return r.listAppointments(func(d *memData, a Appointment) bool {
		return d.slots[a.SlotID].ProviderID == providerID
	}, limit, offset)
}

func (r *memRepo) GetPaymentByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	var out *Payment
	err := r.with(func(d *memData) error {
		p, ok := d.payments[id]
		if !ok {
			return ErrPaymentNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *memRepo) GetPaymentByAppointment(_ context.Context, appointmentID uuid.UUID) (*Payment, error) {
	var out *Payment
	err := r.with(func(d *memData) error {
		for _, p := range d.payments {
			if p.AppointmentID == appointmentID {
				out = &p
				return nil
			}
		}
		return ErrPaymentNotFound
	})
	return out, err
}

func (r *memRepo) CreatePayment(_ context.Context, p *Payment) error {
	return r.with(func(d *memData) error {
		for _, other := range d.payments {
			if other.AppointmentID == p.AppointmentID {
				return ErrPaymentExists
			}
		}
		d.payments[p.ID] = *p
		r.changed(paymentRow, p.ID)
		return nil
	})
}

func (r *memRepo) ListPaymentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]Payment, error) {
	var all []Payment
	err := r.with(func(d *memData) error {
		for _, p := range d.payments {
			if p.PatientID == patientID {
				all = append(all, p)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, limit, offset), err
}

func (r *memRepo) ProviderStats(_ context.Context, providerID uuid.UUID, since time.Time) (*ProviderStats, error) {
	byStatus := make(map[SlotStatus]int)
	var revenue Money
	patients := make(map[uuid.UUID]struct{})

	err := r.with(func(d *memData) error {
		for _, s := range d.slots {
			if s.ProviderID == providerID && !s.StartAt.Before(since) {
				byStatus[s.Status]++
			}
		}
		for _, a := range d.appts {
			slot := d.slots[a.SlotID]
			if slot.ProviderID != providerID {
				continue
			}
			if !slot.StartAt.Before(since) {
				patients[a.PatientID] = struct{}{}
			}
			for _, p := range d.payments {
				if p.AppointmentID == a.ID && p.Status == PaymentApproved && !p.CreatedAt.Before(since) {
					revenue += p.Amount
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return newProviderStats(providerID, since, byStatus, revenue, len(patients)), nil
}

func (p Period) contains(t time.Time) bool {
	if p.From != nil && t.Before(*p.From) {
		return false
	}
	return p.To == nil || t.Before(*p.To)
}

func (r *memRepo) PatientAppointmentReport(_ context.Context, patientID uuid.UUID, period Period) (*PatientAppointmentReport, error) {
	report := &PatientAppointmentReport{PatientID: patientID, Period: period, ByStatus: make(map[AppointmentStatus]int)}
	err := r.with(func(d *memData) error {
		for _, a := range d.appts {
			if a.PatientID == patientID && period.contains(a.CreatedAt) {
				report.ByStatus[a.Status]++
				report.Total++
			}
		}
		return nil
	})
	return report, err
}

func (r *memRepo) PatientPaymentReport(_ context.Context, patientID uuid.UUID, period Period) (*PatientPaymentReport, error) {
	report := &PatientPaymentReport{PatientID: patientID, Period: period}
	err := r.with(func(d *memData) error {
		for _, p := range d.payments {
			if p.PatientID == patientID && period.contains(p.CreatedAt) {
				report.Payments++
				report.Amount += p.Amount
			}
		}
		return nil
	})
	return report, err
}

func (r *memRepo) MonthlyRevenue(_ context.Context, from, to time.Time) ([]MonthlyRevenue, error) {
	byMonth := make(map[string]*MonthlyRevenue)
	window := Period{From: &from, To: &to}
	err := r.with(func(d *memData) error {
		for _, p := range d.payments {
			if p.Status != PaymentApproved || !window.contains(p.CreatedAt) {
				continue
			}
			key := p.CreatedAt.UTC().Format("2006-01")
			m, ok := byMonth[key]
			if !ok {
				m = &MonthlyRevenue{Month: key}
				byMonth[key] = m
			}
			m.Payments++
			m.Amount += p.Amount
		}
		return nil
	})

	months := make([]MonthlyRevenue, 0, len(byMonth))
	for _, m := range byMonth {
		months = append(months, *m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Month < months[j].Month })
	return months, err
}

// snapshot returns a copy of the committed state for assertions.
func (r *memRepo) snapshot() *memData {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	return r.st.data.clone()
}

// -- Locker --

type memLocker struct {
	mu    sync.Mutex
	keys  map[string]*sync.Mutex
	fail  error
	calls []string
}

func newMemLocker() *memLocker {
	return &memLocker{keys: make(map[string]*sync.Mutex)}
}

func (l *memLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	l.calls = append(l.calls, key)
	if l.fail != nil {
		l.mu.Unlock()
		return l.fail
	}
	m, ok := l.keys[key]
	if !ok {
		m = &sync.Mutex{}
		l.keys[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

var _ redisclient.Locker = (*memLocker)(nil)

// -- Clock --

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// -- Fixture --

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	repo   *memRepo
	locker *memLocker
	clock  *fixedClock
	svc    *Service
}

func newFixture() *fixture {
	repo := newMemRepo()
	locker := newMemLocker()
	clock := &fixedClock{t: t0.Add(-24 * time.Hour)}
	cfg := config.Config{ReserveRetries: 3, ReserveRetryBackoff: time.Millisecond}
	svc := NewService(repo, locker, cfg, nil, WithClock(clock))
	return &fixture{repo: repo, locker: locker, clock: clock, svc: svc}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	StatusRatio  float64
	PayRatio     float64
	ReadRatio    float64
	PatientCount int
	SlotLimit    int
	HotSlots     int
	WorkerRPS    float64
	PostgresDSN  string
}

type bookedAppointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Patients     []uuid.UUID
	Slots        []uuid.UUID
	Providers    []uuid.UUID
	mu           sync.RWMutex
	appointments []bookedAppointment
}

func (dp *DataPool) AddAppointment(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeConflict
	outcomeTransient
	outcomeError
)

func classify(resp *http.Response, err error, okStatus int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case resp.StatusCode == okStatus:
		return outcomeSuccess
	case resp.StatusCode == http.StatusConflict:
		return outcomeConflict
	case resp.StatusCode == http.StatusServiceUnavailable:
		return outcomeTransient
	default:
		return outcomeError
	}
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Transient int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeSuccess:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeTransient:
		atomic.AddInt64(&om.Transient, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking     OperationMetrics
	Status      OperationMetrics
	Payment     OperationMetrics
	ReadByID    OperationMetrics
	ListPatient OperationMetrics
	Agenda      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load base config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(baseCfg.Env, baseCfg.LogLevel)
	defer func() { _ = log.Sync() }()

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Int("hot_slots", cfg.HotSlots),
		zap.Float64("worker_rps", cfg.WorkerRPS),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("status", cfg.StatusRatio),
		zap.Float64("pay", cfg.PayRatio),
		zap.Float64("read", cfg.ReadRatio),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatal("load data pool", zap.Error(err))
	}
	log.Info("data pool loaded",
		zap.Int("patients", len(dataPool.Patients)),
		zap.Int("slots", len(dataPool.Slots)),
		zap.Int("providers", len(dataPool.Providers)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	auditCtx, cancelAudit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelAudit()
	violations, err := audit(auditCtx, pgPool)
	if err != nil {
		log.Fatal("audit failed", zap.Error(err))
	}
	if violations > 0 {
		log.Error("consistency audit failed", zap.Int("violations", violations))
		os.Exit(2)
	}
	log.Info("consistency audit passed")
}

func loadConfig(baseCfg config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.1),
		PayRatio:     getFloat("SIM_PAY_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		PatientCount: getInt("SIM_PATIENTS", 500),
		SlotLimit:    getInt("SIM_SLOT_LIMIT", 2400),
		HotSlots:     getInt("SIM_HOT_SLOTS", 0),
		WorkerRPS:    getFloat("SIM_WORKER_RPS", 0),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.StatusRatio + cfg.PayRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.PayRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.PatientCount <= 0 {
		return fmt.Errorf("SIM_PATIENTS must be > 0")
	}
	return nil
}

// loadDataPool picks FREE future slots to fight over. With HotSlots set only
// that many slots are used, so every worker contends on the same rows.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	limit := cfg.SlotLimit
	if cfg.HotSlots > 0 {
		limit = cfg.HotSlots
	}

	rows, err := pool.Query(ctx, `
		SELECT id, provider_id FROM slots
		WHERE status = 'FREE' AND start_at > now()
		ORDER BY start_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	providers := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id, providerID uuid.UUID
		if err := rows.Scan(&id, &providerID); err != nil {
			return nil, err
		}
		dataPool.Slots = append(dataPool.Slots, id)
		if _, ok := providers[providerID]; !ok {
			providers[providerID] = struct{}{}
			dataPool.Providers = append(dataPool.Providers, providerID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}

	if len(dataPool.Slots) == 0 {
		return nil, fmt.Errorf("no FREE future slots loaded, run cmd/seed first")
	}

	dataPool.Patients = make([]uuid.UUID, cfg.PatientCount)
	for i := range dataPool.Patients {
		dataPool.Patients[i] = uuid.New()
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	// zero means unpaced
	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.config.WorkerRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.config.WorkerRPS), 1)
	}

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.StatusRatio:
			s.doStatus(ctx, rng)
		case r < s.config.BookingRatio+s.config.StatusRatio+s.config.PayRatio:
			s.doPayment(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doAgenda(ctx, rng)
			}
		}
	}
}

func (s *Simulator) send(ctx context.Context, method, path string, body any) (*http.Response, []byte, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, nil, 0, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, nil, latency, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp, data, latency, err
}

// finished reports whether the request failed only because the run ended.
func finished(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() != nil
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	resp, data, latency, err := s.send(ctx, http.MethodPost, "/appointments", map[string]string{
		"slot_id":    slotID.String(),
		"patient_id": patientID.String(),
	})
	if finished(ctx, err) {
		return
	}

	o := classify(resp, err, http.StatusCreated)
	if o == outcomeSuccess {
		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(data, &appt) == nil && appt.ID != uuid.Nil {
			s.pool.AddAppointment(bookedAppointment{ID: appt.ID, PatientID: patientID})
		}
	}
	s.metrics.Booking.Record(latency, o)
}

func (s *Simulator) doStatus(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	target := "COMPLETED"
	if rng.Intn(2) == 0 {
		target = "CANCELLED"
	}

	resp, _, latency, err := s.send(ctx, http.MethodPatch,
		fmt.Sprintf("/appointments/%s/status", appt.ID), map[string]string{"status": target})
	if finished(ctx, err) {
		return
	}
	s.metrics.Status.Record(latency, classify(resp, err, http.StatusOK))
}

func (s *Simulator) doPayment(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	resp, _, latency, err := s.send(ctx, http.MethodPost, "/payments", map[string]string{
		"appointment_id": appt.ID.String(),
		"patient_id":     appt.PatientID.String(),
		"amount":         fmt.Sprintf("%d.00", 100+rng.Intn(200)),
	})
	if finished(ctx, err) {
		return
	}
	s.metrics.Payment.Record(latency, classify(resp, err, http.StatusCreated))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	resp, _, latency, err := s.send(ctx, http.MethodGet, "/appointments/"+appt.ID.String(), nil)
	if finished(ctx, err) {
		return
	}
	s.metrics.ReadByID.Record(latency, classify(resp, err, http.StatusOK))
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	resp, _, latency, err := s.send(ctx, http.MethodGet,
		fmt.Sprintf("/patients/%s/appointments?limit=20&offset=0", patientID), nil)
	if finished(ctx, err) {
		return
	}
	s.metrics.ListPatient.Record(latency, classify(resp, err, http.StatusOK))
}

func (s *Simulator) doAgenda(ctx context.Context, rng *rand.Rand) {
	providerID := s.pool.Providers[rng.Intn(len(s.pool.Providers))]
	day := time.Now().UTC().AddDate(0, 0, 1+rng.Intn(5)).Format("2006-01-02")

	resp, _, latency, err := s.send(ctx, http.MethodGet,
		fmt.Sprintf("/providers/%s/agenda?start=%s&end=%s", providerID, day, day), nil)
	if finished(ctx, err) {
		return
	}
	s.metrics.Agenda.Record(latency, classify(resp, err, http.StatusOK))
}

// audit checks the stored state for double bookings and for slots whose
// status disagrees with their appointment.
func audit(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	checks := []struct {
		name  string
		query string
	}{
		{"slots with more than one appointment", `
			SELECT count(*) FROM (
				SELECT slot_id FROM appointments GROUP BY slot_id HAVING count(*) > 1
			) d`},
		{"scheduled appointments on a non-RESERVED slot", `
			SELECT count(*) FROM appointments a JOIN slots s ON s.id = a.slot_id
			WHERE a.status = 'SCHEDULED' AND s.status <> 'RESERVED'`},
		{"finalized appointments out of step with their slot", `
			SELECT count(*) FROM appointments a JOIN slots s ON s.id = a.slot_id
			WHERE a.status IN ('COMPLETED', 'CANCELLED') AND s.status::text <> a.status::text`},
		{"RESERVED slots without an appointment", `
			SELECT count(*) FROM slots s
			WHERE s.status = 'RESERVED'
			  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.slot_id = s.id)`},
		{"appointments with more than one payment", `
			SELECT count(*) FROM (
				SELECT appointment_id FROM payments GROUP BY appointment_id HAVING count(*) > 1
			) d`},
	}

	fmt.Println("CONSISTENCY AUDIT")
	fmt.Println(strings.Repeat("=", 80))

	violations := 0
	for _, c := range checks {
		var n int
		if err := pool.QueryRow(ctx, c.query).Scan(&n); err != nil {
			return 0, fmt.Errorf("%s: %w", c.name, err)
		}
		fmt.Printf("  %-55s %d\n", c.name+":", n)
		violations += n
	}
	fmt.Println()
	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Slots in play: %d\n", len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.Status)
	printOperationReport("Payment", &s.metrics.Payment)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListPatient)
	printOperationReport("Agenda", &s.metrics.Agenda)

	booked := atomic.LoadInt64(&s.metrics.Booking.Success)
	if booked > int64(len(s.pool.Slots)) {
		fmt.Printf("WARNING: %d bookings succeeded for %d slots\n\n", booked, len(s.pool.Slots))
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	transient := atomic.LoadInt64(&om.Transient)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if transient > 0 {
		fmt.Printf("  Transient: %d (%.1f%%)\n", transient, pct(transient))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

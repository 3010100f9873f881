package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

type seedOptions struct {
	Providers   int
	Patients    int
	Days        int
	From        time.Time
	BookRatio   float64
	Concurrency int
}

type seedCounts struct {
	slots    atomic.Int64
	booked   atomic.Int64
	rejected atomic.Int64
}

var slotLengths = []time.Duration{30 * time.Minute, 45 * time.Minute, time.Hour}

func main() {
	opts := seedOptions{}
	var from string
	flag.IntVar(&opts.Providers, "providers", 20, "number of providers to seed")
	flag.IntVar(&opts.Patients, "patients", 200, "size of the patient pool used for bookings")
	flag.IntVar(&opts.Days, "days", 5, "number of days of agenda per provider")
	flag.StringVar(&from, "from", "", "first agenda day (YYYY-MM-DD), default tomorrow")
	flag.Float64Var(&opts.BookRatio, "book-ratio", 0.3, "share of seeded slots to reserve")
	flag.IntVar(&opts.Concurrency, "concurrency", 4, "providers seeded in parallel")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	opts.From = time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	if from != "" {
		day, err := time.ParseInLocation("2006-01-02", from, time.UTC)
		if err != nil {
			log.Fatal("invalid -from", zap.String("from", from), zap.Error(err))
		}
		opts.From = day
	}

	if err := run(cfg, log, opts); err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger, opts seedOptions) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	repo := booking.NewPgRepository(pool, cfg.DBLockTimeout)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
	svc := booking.NewService(repo, locker, cfg, log.Named("booking"))

	patients := make([]uuid.UUID, opts.Patients)
	for i := range patients {
		patients[i] = uuid.New()
	}

	log.Info("seed starting",
		zap.Int("providers", opts.Providers),
		zap.Int("days", opts.Days),
		zap.Time("from", opts.From),
	)

	var counts seedCounts
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, opts.Concurrency))

	for i := 0; i < opts.Providers; i++ {
		g.Go(func() error {
			return seedProvider(gctx, svc, log, opts, patients, &counts)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("seed complete",
		zap.Int64("slots", counts.slots.Load()),
		zap.Int64("booked", counts.booked.Load()),
		zap.Int64("rejected", counts.rejected.Load()),
	)
	return nil
}

// seedProvider lays out a working day of back-to-back slots with occasional
// gaps, 08:00 to 18:00 UTC, for each requested day.
func seedProvider(ctx context.Context, svc *booking.Service, log *zap.Logger, opts seedOptions, patients []uuid.UUID, counts *seedCounts) error {
	faker := gofakeit.New(0)
	providerID := uuid.New()
	log = log.With(zap.String("provider_id", providerID.String()), zap.String("provider", "Dr. "+faker.LastName()))

	var created int
	for d := 0; d < opts.Days; d++ {
		day := opts.From.AddDate(0, 0, d)
		cursor := day.Add(8 * time.Hour)
		closing := day.Add(18 * time.Hour)

		for {
			length := slotLengths[faker.Number(0, len(slotLengths)-1)]
			if cursor.Add(length).After(closing) {
				break
			}
			if faker.Number(1, 10) == 1 {
				cursor = cursor.Add(15 * time.Minute)
				continue
			}

			slot, err := svc.CreateSlot(ctx, providerID, cursor, cursor.Add(length), providerID)
			switch {
			case errors.Is(err, booking.ErrConflict), errors.Is(err, booking.ErrTransient):
				counts.rejected.Add(1)
				cursor = cursor.Add(length)
				continue
			case err != nil:
				return fmt.Errorf("create slot for %s: %w", providerID, err)
			}
			counts.slots.Add(1)
			created++
			cursor = slot.EndAt

			if len(patients) == 0 || faker.Float64Range(0, 1) >= opts.BookRatio {
				continue
			}
			patient := patients[faker.Number(0, len(patients)-1)]
			if _, err := svc.Reserve(ctx, slot.ID, patient, nil); err != nil {
				if errors.Is(err, booking.ErrConflict) || errors.Is(err, booking.ErrTransient) {
					counts.rejected.Add(1)
					continue
				}
				return fmt.Errorf("reserve slot %s: %w", slot.ID, err)
			}
			counts.booked.Add(1)
		}
	}

	log.Debug("provider seeded", zap.Int("slots", created))
	return nil
}

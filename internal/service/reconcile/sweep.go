package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Domenick1991/airbooking-payments/internal/domain"
	"github.com/Domenick1991/airbooking-payments/internal/gateway"
	"github.com/Domenick1991/airbooking-payments/internal/metrics"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Locker interface {
	AcquireSweepLock(ctx context.Context, ttl time.Duration) (string, bool, error)
	ReleaseSweepLock(ctx context.Context, token string) error
}

type SweepConfig struct {
	BatchSize   int
	StaleAfter  time.Duration
	Concurrency int
	LockTTL     time.Duration
}

type SweepReport struct {
	Skipped    bool `json:"skipped"`
	Repaired   int  `json:"repaired"`
	Conflicts  int  `json:"conflicts"`
	Verified   int  `json:"verified"`
	Settled    int  `json:"settled"`
	Mismatches int  `json:"mismatches"`
	Failures   int  `json:"failures"`
}

// Sweeper repairs what a crash between the payment and booking writes left
// behind, and re-verifies payments whose callback never came. Overlapping
// runs are harmless; the lock only saves gateway calls.
type Sweeper struct {
	engine   *Engine
	store    repository.Store
	verifier gateway.Verifier
	locker   Locker
	cfg      SweepConfig
	log      logrus.FieldLogger
}

type SweeperOption func(*Sweeper)

func WithVerifier(v gateway.Verifier) SweeperOption {
	return func(s *Sweeper) {
		s.verifier = v
	}
}

func WithLocker(l Locker) SweeperOption {
	return func(s *Sweeper) {
		s.locker = l
	}
}

func NewSweeper(engine *Engine, store repository.Store, cfg SweepConfig, log logrus.FieldLogger, opts ...SweeperOption) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	s := &Sweeper{engine: engine, store: store, cfg: cfg, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if s.locker != nil {
		token, ok, err := s.locker.AcquireSweepLock(ctx, s.cfg.LockTTL)
		if err != nil {
			// Redis being down must not stop repairs.
			s.log.WithError(err).Warn("sweep lock unavailable, running without it")
		} else if !ok {
			s.log.Debug("another sweep is running")
			report.Skipped = true
			return report, nil
		} else {
			defer func() {
				if err := s.locker.ReleaseSweepLock(context.WithoutCancel(ctx), token); err != nil {
					s.log.WithError(err).Warn("failed to release sweep lock")
				}
			}()
		}
	}

	if err := s.RepairBookings(ctx, &report); err != nil {
		return report, err
	}
	if s.verifier != nil && s.cfg.StaleAfter > 0 {
		if err := s.VerifyStale(ctx, &report); err != nil {
			return report, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"repaired":   report.Repaired,
		"conflicts":  report.Conflicts,
		"verified":   report.Verified,
		"settled":    report.Settled,
		"mismatches": report.Mismatches,
		"failures":   report.Failures,
	}).Info("sweep finished")
	return report, nil
}

// RepairBookings settles bookings of approved payments that were left pending.
func (s *Sweeper) RepairBookings(ctx context.Context, report *SweepReport) error {
	payments, err := s.store.ListApprovedWithPendingBooking(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range payments {
		p := &payments[i]
		_, repaired, err := s.engine.RepairBooking(ctx, p)
		switch {
		case errors.Is(err, domain.ErrReconciliationConflict):
			report.Conflicts++
		case err != nil:
			s.log.WithError(err).WithField("payment_id", p.ID).Error("booking repair failed")
			report.Failures++
		case repaired:
			metrics.SweepRepairs.Inc()
			report.Repaired++
		}
	}
	return nil
}

// VerifyStale asks the gateway about payments pending longer than StaleAfter
// and reconciles the settled ones.
func (s *Sweeper) VerifyStale(ctx context.Context, report *SweepReport) error {
	cutoff := time.Now().UTC().Add(-s.cfg.StaleAfter)
	payments, err := s.store.ListStalePendingPayments(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	tally := func(f func(r *SweepReport)) {
		mu.Lock()
		f(report)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range payments {
		p := payments[i]
		g.Go(func() error {
			result := s.verifyOne(gctx, &p)
			metrics.SweepVerifications.WithLabelValues(result).Inc()
			tally(func(r *SweepReport) {
				r.Verified++
				switch result {
				case "settled":
					r.Settled++
				case "mismatch":
					r.Mismatches++
				case "conflict":
					r.Conflicts++
				case "error":
					r.Failures++
				}
			})
			return nil
		})
	}
	return g.Wait()
}

func (s *Sweeper) verifyOne(ctx context.Context, p *domain.Payment) string {
	log := s.log.WithFields(logrus.Fields{"transaction_ref": p.TransactionRef, "payment_id": p.ID})

	res, err := s.verifier.VerifyCharge(ctx, p.TransactionRef)
	if err != nil {
		log.WithError(err).Warn("stale payment verification failed")
		return "error"
	}
	if !res.Verified || res.Outcome == domain.ChargePending {
		return "pending"
	}
	if res.TransactionRef != "" && res.TransactionRef != p.TransactionRef {
		log.WithField("verified_ref", res.TransactionRef).Warn("gateway answered for a different reference")
		return "error"
	}

	_, err = s.engine.Reconcile(ctx, p.TransactionRef, res.Evidence(domain.SourceSweep))
	switch {
	case errors.Is(err, domain.ErrValidationMismatch):
		return "mismatch"
	case errors.Is(err, domain.ErrReconciliationConflict):
		return "conflict"
	case err != nil:
		log.WithError(err).Error("stale payment reconcile failed")
		return "error"
	}
	return "settled"
}

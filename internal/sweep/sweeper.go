// Package sweep escalates overdue intake records to missed. The sweep is
// best-effort and idempotent: a failed or interrupted run leaves the ledger
// consistent and the next run picks up where it left off.
package sweep

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/medtrack/go-intake/internal/domain/intake"
)

// Sweeper walks due ledger records and applies the missed transition
type Sweeper struct {
	repo     intake.Repository
	notifier intake.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a sweeper. notifier may be nil.
func New(repo intake.Repository, notifier intake.Notifier, logger *zap.Logger) *Sweeper {
	if notifier == nil {
		notifier = intake.NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the sweeper clock
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Report summarizes a sweep run
type Report struct {
	Examined int
	Missed   int
	Skipped  int
	Failed   int
}

// Run sweeps all due records once. Records still inside their grace window
// stay untouched, and per-record failures never abort the run.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	now := s.now().UTC()

	due, err := s.repo.ListDue(ctx, now)
	if err != nil {
		return Report{}, err
	}

	report := Report{Examined: len(due)}
	for _, l := range due {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		default:
		}

		if err := s.sweepOne(ctx, l, now); err != nil {
			if intake.IsRuleError(err) {
				// Inside grace, still deferred, or already terminal
				report.Skipped++
				continue
			}
			if errors.Is(err, intake.ErrConflict) {
				// Lost the race to a concurrent mark-taken; the patient wins
				report.Skipped++
				continue
			}
			report.Failed++
			s.logger.Error("sweep record failed",
				zap.String("id", l.ID), zap.Error(err))
			continue
		}
		report.Missed++
	}

	if report.Missed > 0 || report.Failed > 0 {
		s.logger.Info("missed-dose sweep complete",
			zap.Int("examined", report.Examined),
			zap.Int("missed", report.Missed),
			zap.Int("skipped", report.Skipped),
			zap.Int("failed", report.Failed))
	}
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, l *intake.IntakeLog, now time.Time) error {
	if err := l.SweepMissed(now); err != nil {
		return err
	}

	evt, err := intake.TransitionEvent(l, intake.EventDoseMissed)
	if err != nil {
		return err
	}
	if err := s.repo.UpdateTransition(ctx, l, intake.Active(), evt); err != nil {
		return err
	}

	// Stale reminder for a dose nobody will take
	s.notifier.CancelFor(ctx, l)
	return nil
}

package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
	"github.com/noah-isme/lesson-grid-api/pkg/jobs"
)

const completionJobType = "session.complete"

type completionSource interface {
	Window(ctx context.Context, filter models.SessionFilter, includeVirtual bool) ([]models.LessonSession, error)
}

type sessionCompleter interface {
	Complete(ctx context.Context, id, actor string) (*models.LessonSession, error)
}

type jobQueue interface {
	Enqueue(job jobs.Job) (bool, error)
}

// CompletionSweeperConfig controls the background completion of finished lessons.
type CompletionSweeperConfig struct {
	// Interval between sweeps; zero disables Run.
	Interval time.Duration
	// Lookback is how far into the past a sweep searches for lessons still marked scheduled.
	Lookback time.Duration
}

// CompletionSweeper is the time-driven side of the lifecycle: it finds scheduled sessions whose
// end has passed and queues a Complete for each.
type CompletionSweeper struct {
	source    completionSource
	completer sessionCompleter
	clock     Clock
	logger    *zap.Logger
	cfg       CompletionSweeperConfig
}

// NewCompletionSweeper constructs the sweeper.
func NewCompletionSweeper(source completionSource, completer sessionCompleter, clock Clock, logger *zap.Logger, cfg CompletionSweeperConfig) *CompletionSweeper {
	if clock == nil {
		clock = NewSystemClock(time.UTC)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 48 * time.Hour
	}
	return &CompletionSweeper{source: source, completer: completer, clock: clock, logger: logger, cfg: cfg}
}

// Sweep queues every ended, still scheduled session in the lookback window and returns how many
// were accepted. Sessions already queued are skipped by the queue.
func (s *CompletionSweeper) Sweep(ctx context.Context, queue jobQueue) (int, error) {
	to := today(s.clock)
	from := to.AddDays(-int(s.cfg.Lookback / (24 * time.Hour)))
	sessions, err := s.source.Window(ctx, models.SessionFilter{
		DateFrom: from,
		DateTo:   to,
		Statuses: []models.SessionStatus{models.SessionStatusScheduled},
	}, true)
	if err != nil {
		return 0, err
	}

	now := nowTimeOfDay(s.clock)
	queued := 0
	for _, session := range sessions {
		if session.LessonDate.Equal(to) && session.EndTime > now {
			continue
		}
		accepted, err := queue.Enqueue(jobs.Job{ID: session.ID, Type: completionJobType})
		if err != nil {
			s.logger.Warn("completion not queued", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		if accepted {
			queued++
		}
	}
	if queued > 0 {
		s.logger.Info("completion sweep queued sessions", zap.Int("count", queued), zap.String("from", from.String()), zap.String("to", to.String()))
	}
	return queued, nil
}

// Handle completes the session named by job.ID. Sessions that were cancelled, completed or
// removed in the meantime are dropped without retry.
func (s *CompletionSweeper) Handle(ctx context.Context, job jobs.Job) error {
	_, err := s.completer.Complete(ctx, job.ID, models.SystemActor)
	if err == nil {
		return nil
	}
	if appErrors.HasCode(err, appErrors.ErrValidation.Code) || appErrors.HasCode(err, appErrors.ErrNotFound.Code) {
		s.logger.Debug("completion skipped", zap.String("session_id", job.ID), zap.Error(err))
		return nil
	}
	return err
}

// Run sweeps every Interval until ctx is done.
func (s *CompletionSweeper) Run(ctx context.Context, queue jobQueue) {
	if s.cfg.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx, queue); err != nil && ctx.Err() == nil {
			s.logger.Error("completion sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

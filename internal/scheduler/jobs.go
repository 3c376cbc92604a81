package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// RosterRefresher re-reads title, handle and invite link of every known group.
type RosterRefresher interface {
	RefreshGroups(ctx context.Context) error
}

// Checkpointer folds the store's pending writes into its compact form.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

type JobsConfig struct {
	RosterRefresh   time.Duration // 0 disables
	CheckpointEvery time.Duration // 0 disables
}

// Start registers the maintenance jobs on a gocron scheduler sharing the
// given clock and starts it. The caller owns Shutdown.
func Start(ctx context.Context, clock clockwork.Clock, log *zap.Logger, cfg JobsConfig, roster RosterRefresher, store Checkpointer) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLogger(gocronLogger{log.Sugar()}),
		gocron.WithGlobalJobOptions(
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithError(func(jobID uuid.UUID, jobName string, err error) {
					log.Error("job failed", zap.String("job", jobName), zap.Stringer("job_id", jobID), zap.Error(err))
				}),
				gocron.AfterJobRunsWithPanic(func(jobID uuid.UUID, jobName string, recoverData any) {
					log.Error("job panicked", zap.String("job", jobName), zap.Stringer("job_id", jobID), zap.Any("panic", recoverData))
				}),
			),
		),
	)
	if err != nil {
		return nil, err
	}

	if cfg.RosterRefresh > 0 && roster != nil {
		_, err = s.NewJob(
			gocron.DurationJob(cfg.RosterRefresh),
			gocron.NewTask(func() error { return roster.RefreshGroups(ctx) }),
			gocron.WithName("roster-refresh"),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, err
		}
	}

	if cfg.CheckpointEvery > 0 && store != nil {
		_, err = s.NewJob(
			gocron.DurationJob(cfg.CheckpointEvery),
			gocron.NewTask(func() error { return store.Checkpoint(ctx) }),
			gocron.WithName("checkpoint"),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, err
		}
	}

	s.Start()
	return s, nil
}

// gocronLogger routes gocron's key/value logging into zap.
type gocronLogger struct{ l *zap.SugaredLogger }

func (g gocronLogger) Debug(msg string, args ...any) { g.l.Debugw(msg, args...) }
func (g gocronLogger) Info(msg string, args ...any)  { g.l.Infow(msg, args...) }
func (g gocronLogger) Warn(msg string, args ...any)  { g.l.Warnw(msg, args...) }
func (g gocronLogger) Error(msg string, args ...any) { g.l.Errorw(msg, args...) }

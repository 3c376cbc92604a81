// Package scheduler drives time: the minute-aligned delivery tick and the
// periodic maintenance jobs.
package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Tick is one firing of the minute loop. At is the UTC minute it stands for.
type Tick struct {
	ID string
	At time.Time
}

type TickFunc func(ctx context.Context, t Tick)

// Clock fires once per wall-clock minute, at HH:MM:00.
type Clock struct {
	clock  clockwork.Clock
	log    *zap.Logger
	onTick TickFunc
}

func NewClock(c clockwork.Clock, log *zap.Logger, onTick TickFunc) *Clock {
	return &Clock{clock: c, log: log, onTick: onTick}
}

// Run blocks until ctx is canceled. The wait is recomputed from the wall
// clock every iteration, so slow ticks do not accumulate drift. A minute
// missed while onTick was still running is not replayed.
func (c *Clock) Run(ctx context.Context) {
	for {
		wait := untilNextMinute(c.clock.Now())
		select {
		case <-ctx.Done():
			c.log.Info("clock stopping")
			return
		case fired := <-c.clock.After(wait):
			t := Tick{ID: uuid.NewString(), At: fired.UTC().Truncate(time.Minute)}
			c.log.Debug("tick", zap.String("tick_id", t.ID), zap.Time("at", t.At))
			c.fire(ctx, t)
		}
	}
}

// fire runs onTick and contains a panic so the next minute still fires.
func (c *Clock) fire(ctx context.Context, t Tick) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in tick handler",
				zap.String("tick_id", t.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	c.onTick(ctx, t)
}

func untilNextMinute(now time.Time) time.Duration {
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

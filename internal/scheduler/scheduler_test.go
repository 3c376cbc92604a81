package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

func TestUntilNextMinute(t *testing.T) {
	cases := []struct {
		now  time.Time
		want time.Duration
	}{
		{time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC), time.Minute},
		{time.Date(2026, 10, 19, 6, 0, 59, 500e6, time.UTC), 500 * time.Millisecond},
		{time.Date(2026, 10, 19, 6, 0, 12, 0, time.UTC), 48 * time.Second},
	}
	for _, c := range cases {
		if got := untilNextMinute(c.now); got != c.want {
			t.Errorf("untilNextMinute(%s) = %s, want %s", c.now.Format(time.StampMilli), got, c.want)
		}
	}
}

func TestClockFiresOnMinuteBoundaries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Date(2026, 10, 19, 5, 59, 42, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(start)
	ticks := make(chan Tick, 4)
	c := NewClock(fc, zap.NewNop(), func(_ context.Context, t Tick) { ticks <- t })

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	want := []string{"06:00", "06:01"}
	for i, w := range want {
		if err := fc.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for timer: %v", err)
		}
		// some processing jitter after the first tick
		if i == 0 {
			fc.Advance(18 * time.Second)
		} else {
			fc.Advance(3 * time.Second)
			if err := fc.BlockUntilContext(ctx, 1); err != nil {
				t.Fatal(err)
			}
			fc.Advance(57 * time.Second)
		}
		select {
		case tk := <-ticks:
			if got := tk.At.Format("15:04"); got != w {
				t.Fatalf("tick %d at %s, want %s", i, got, w)
			}
			if tk.At.Second() != 0 || tk.ID == "" {
				t.Fatalf("tick %d = %+v", i, tk)
			}
		case <-ctx.Done():
			t.Fatalf("tick %d never fired", i)
		}
	}

	cancel()
	<-done
	if len(ticks) != 0 {
		t.Fatalf("unexpected extra tick %+v", <-ticks)
	}
}

type countingJob struct{ n atomic.Int32 }

func (c *countingJob) RefreshGroups(context.Context) error { c.n.Add(1); return nil }
func (c *countingJob) Checkpoint(context.Context) error    { c.n.Add(1); return nil }

func TestClockSurvivesPanickingTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	fc := clockwork.NewFakeClockAt(time.Date(2026, 10, 19, 5, 59, 59, 0, time.UTC))
	ticks := make(chan Tick, 1)
	calls := 0
	c := NewClock(fc, zap.NewNop(), func(_ context.Context, t Tick) {
		calls++
		if calls == 1 {
			panic("delivery blew up")
		}
		ticks <- t
	})
	go c.Run(ctx)

	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	fc.Advance(time.Second)
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("clock stopped after panic: %v", err)
	}
	fc.Advance(time.Minute)

	select {
	case got := <-ticks:
		if got.At.Format("15:04") != "06:01" {
			t.Fatalf("tick at %s, want 06:01", got.At.Format("15:04"))
		}
	case <-ctx.Done():
		t.Fatal("no tick after the panicking one")
	}
}

func TestStartRunsMaintenanceJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := clockwork.NewFakeClock()
	roster, store := &countingJob{}, &countingJob{}
	s, err := Start(ctx, fc, zap.NewNop(), JobsConfig{RosterRefresh: time.Hour, CheckpointEvery: time.Minute}, roster, store)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()

	if len(s.Jobs()) != 2 {
		t.Fatalf("jobs = %d, want 2", len(s.Jobs()))
	}

	deadline := time.Now().Add(3 * time.Second)
	for store.n.Load() == 0 || roster.n.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not run: roster=%d checkpoint=%d", roster.n.Load(), store.n.Load())
		}
		fc.Advance(time.Minute)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartSkipsDisabledJobs(t *testing.T) {
	s, err := Start(context.Background(), clockwork.NewFakeClock(), zap.NewNop(), JobsConfig{}, &countingJob{}, &countingJob{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown()
	if n := len(s.Jobs()); n != 0 {
		t.Fatalf("jobs = %d, want 0", n)
	}
}

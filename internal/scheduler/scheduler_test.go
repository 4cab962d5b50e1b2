package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/intelbrief/intelbrief/config"
)

func newTestScheduler() *Scheduler {
	return New(config.SchedulerConfig{TickInterval: time.Minute}, nil, nil, prometheus.NewRegistry())
}

func TestTriggerNowUnknownKind(t *testing.T) {
	s := newTestScheduler()
	if err := s.TriggerNow(context.Background(), "nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("err = %v, want ErrUnknownJob", err)
	}
}

func TestTriggerNowRunsRegisteredJob(t *testing.T) {
	s := newTestScheduler()
	ran := 0
	s.Register("process", "@hourly", func(ctx context.Context) error {
		ran++
		return nil
	})
	if err := s.TriggerNow(context.Background(), "process"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if ran != 1 {
		t.Fatalf("runs = %d, want 1", ran)
	}
}

func TestSingleFlightSkipsAndCounts(t *testing.T) {
	s := newTestScheduler()
	started := make(chan struct{})
	release := make(chan struct{})
	var startedOnce sync.Once
	s.Register("process", "@hourly", func(ctx context.Context) error {
		startedOnce.Do(func() { close(started) })
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.TriggerNow(context.Background(), "process") }()
	<-started

	// overlapping trigger for the same kind is rejected, not queued
	if err := s.TriggerNow(context.Background(), "process"); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("overlapping trigger err = %v, want ErrJobRunning", err)
	}
	if got := testutil.ToFloat64(s.skippedTotal.WithLabelValues("process")); got != 1 {
		t.Fatalf("skipped counter = %v, want 1", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first run: %v", err)
	}

	// kinds are independent: the lock is per kind, so a fresh run goes through
	if err := s.TriggerNow(context.Background(), "process"); err != nil {
		t.Fatalf("run after release: %v", err)
	}
}

func TestTickFiresDueJobs(t *testing.T) {
	s := newTestScheduler()
	ran := make(chan string, 2)
	s.Register("collect:feed-a", "@hourly", func(ctx context.Context) error {
		ran <- "collect:feed-a"
		return nil
	})
	s.Register("process", "@hourly", func(ctx context.Context) error {
		ran <- "process"
		return nil
	})

	s.tick(context.Background())
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case k := <-ran:
			seen[k] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("tick did not fire all due jobs, got %v", seen)
		}
	}
	if !seen["collect:feed-a"] || !seen["process"] {
		t.Fatalf("fired = %v, want both kinds", seen)
	}
}

func TestDueAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)

	if !dueAt("@hourly", nil, now) {
		t.Fatalf("never-run job must be due")
	}
	recent := now.Add(-30 * time.Minute)
	if dueAt("@hourly", &recent, now) {
		t.Fatalf("job run 30m ago is not hourly-due")
	}
	stale := now.Add(-61 * time.Minute)
	if !dueAt("@hourly", &stale, now) {
		t.Fatalf("job run 61m ago is hourly-due")
	}

	yesterday := now.Add(-25 * time.Hour)
	if !dueAt("@daily", &yesterday, now) {
		t.Fatalf("job run 25h ago is daily-due")
	}

	// cron: every day at noon; last run before today's noon means due
	beforeNoon := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if !dueAt("0 12 * * *", &beforeNoon, now) {
		t.Fatalf("cron job past its next fire time must be due")
	}
	afterNoon := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	if dueAt("0 12 * * *", &afterNoon, now) {
		t.Fatalf("cron job already run after noon must not be due")
	}
}

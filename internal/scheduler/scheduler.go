package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/intelbrief/intelbrief/config"
)

// ErrJobRunning is returned by TriggerNow when the job kind already has
// a run in flight.
var ErrJobRunning = errors.New("job already running")

// ErrUnknownJob is returned by TriggerNow for an unregistered kind.
var ErrUnknownJob = errors.New("unknown job kind")

// Runner executes one run of a job kind.
type Runner func(ctx context.Context) error

type job struct {
	kind     string
	schedule string
	run      Runner

	// flight guards single-flight execution per kind; TryLock failure
	// means a run is in progress and the trigger must be skipped.
	flight sync.Mutex

	mu      sync.Mutex
	lastRun *time.Time
}

// Scheduler fires registered jobs on their schedules. Each job kind runs
// single-flight: a trigger arriving while the previous run of the same
// kind is still in flight is skipped and counted, never queued.
type Scheduler struct {
	cfg    config.SchedulerConfig
	rdb    *redis.Client
	logger *log.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*job
	keys []string

	skippedTotal *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
}

// New builds a scheduler. rdb may be nil (no distributed lock); reg may
// be nil to use the default Prometheus registerer.
func New(cfg config.SchedulerConfig, rdb *redis.Client, logger *log.Logger, reg prometheus.Registerer) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Scheduler{
		cfg:    cfg,
		rdb:    rdb,
		logger: logger,
		stop:   make(chan struct{}),
		now:    time.Now,
		jobs:   make(map[string]*job),
		skippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intelbrief_scheduler_skipped_triggers_total",
			Help: "Triggers skipped because the previous run was still in flight.",
		}, []string{"kind"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "intelbrief_scheduler_runs_total",
			Help: "Job runs started per kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
}

// Register adds a job kind with its schedule spec ("@hourly", "@daily"
// or a 5-field cron expression).
func (s *Scheduler) Register(kind, schedule string, run Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[kind]; !ok {
		s.keys = append(s.keys, kind)
	}
	s.jobs[kind] = &job{kind: kind, schedule: schedule, run: run}
}

// Start launches the tick loop. Stop() waits for in-flight runs.
func (s *Scheduler) Start() {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick(context.Background())
			}
		}
	}()
}

// Stop halts the tick loop and blocks until in-flight runs finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	due := make([]*job, 0, len(s.keys))
	for _, kind := range s.keys {
		j := s.jobs[kind]
		j.mu.Lock()
		isDue := dueAt(j.schedule, j.lastRun, s.now())
		j.mu.Unlock()
		if isDue {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.fire(ctx, j)
	}
}

// fire starts one run of j unless a run is already in flight.
func (s *Scheduler) fire(ctx context.Context, j *job) {
	if !j.flight.TryLock() {
		s.skippedTotal.WithLabelValues(j.kind).Inc()
		s.logger.Printf("job %s: previous run still in flight, skipping trigger", j.kind)
		return
	}

	unlock, ok := s.acquireDistributed(ctx, j.kind)
	if !ok {
		j.flight.Unlock()
		s.skippedTotal.WithLabelValues(j.kind).Inc()
		s.logger.Printf("job %s: held elsewhere, skipping trigger", j.kind)
		return
	}

	started := s.now()
	j.mu.Lock()
	j.lastRun = &started
	j.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer j.flight.Unlock()
		defer unlock()
		if err := j.run(ctx); err != nil {
			s.runsTotal.WithLabelValues(j.kind, "error").Inc()
			s.logger.Printf("job %s: %v", j.kind, err)
			return
		}
		s.runsTotal.WithLabelValues(j.kind, "ok").Inc()
	}()
}

// TriggerNow runs a job kind immediately, sharing the same single-flight
// lock as scheduled triggers. It blocks until the run finishes.
func (s *Scheduler) TriggerNow(ctx context.Context, kind string) error {
	s.mu.Lock()
	j, ok := s.jobs[kind]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	return s.Do(ctx, kind, j.run)
}

// Do runs fn under the kind's single-flight lock in place of the
// registered runner. Manual triggers that need the run's result use
// this to stay mutually exclusive with scheduled runs.
func (s *Scheduler) Do(ctx context.Context, kind string, fn Runner) error {
	s.mu.Lock()
	j, ok := s.jobs[kind]
	s.mu.Unlock()
	if !ok {
		return ErrUnknownJob
	}
	if !j.flight.TryLock() {
		s.skippedTotal.WithLabelValues(kind).Inc()
		return ErrJobRunning
	}
	defer j.flight.Unlock()

	unlock, acquired := s.acquireDistributed(ctx, kind)
	if !acquired {
		s.skippedTotal.WithLabelValues(kind).Inc()
		return ErrJobRunning
	}
	defer unlock()

	started := s.now()
	j.mu.Lock()
	j.lastRun = &started
	j.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.runsTotal.WithLabelValues(kind, "error").Inc()
		return err
	}
	s.runsTotal.WithLabelValues(kind, "ok").Inc()
	return nil
}

// acquireDistributed takes the cross-process Redis lock for a kind.
// Returns a release func and whether the lock was won. With no Redis
// client or a zero TTL the lock is a no-op.
func (s *Scheduler) acquireDistributed(ctx context.Context, kind string) (func(), bool) {
	if s.rdb == nil || s.cfg.LockTTL <= 0 {
		return func() {}, true
	}
	key := "sched:lock:" + kind
	ok, err := s.rdb.SetNX(ctx, key, "1", s.cfg.LockTTL).Result()
	if err != nil {
		// Redis being down must not stall the pipeline
		s.logger.Printf("job %s: distributed lock unavailable: %v", kind, err)
		return func() {}, true
	}
	if !ok {
		return func() {}, false
	}
	return func() { s.rdb.Del(context.Background(), key) }, true
}

// dueAt reports whether a job with the given spec should run now.
// Supports "@hourly", "@daily" and standard cron expressions. A job
// that never ran is due immediately.
func dueAt(spec string, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch spec {
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	default:
		expr, err := cronexpr.Parse(spec)
		if err != nil {
			return now.Sub(*last) >= time.Hour
		}
		return !expr.Next(*last).After(now)
	}
}

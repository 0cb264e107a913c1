package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cerebric/cerebric/internal/audit"
	"github.com/cerebric/cerebric/internal/metrics"
)

// TransitionFunc moves a firing's job to a new state, persisting and
// auditing the change. A firing stops pushing states after an error.
type TransitionFunc func(to State, summary string) error

// Runner executes one job firing. Implementations drive the job
// through its states via the transition callback.
type Runner interface {
	RunJob(ctx context.Context, job *Job, transition TransitionFunc)
}

// Config tunes the scheduler.
type Config struct {
	// Workers is the fixed pool size.
	Workers int

	// MisfireGrace is how late a firing may start before it is dropped.
	MisfireGrace time.Duration

	// TickInterval is the trigger scan period.
	TickInterval time.Duration

	// QueueDepth bounds firings waiting for a worker; beyond it new
	// firings coalesce.
	QueueDepth int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      5,
		MisfireGrace: 60 * time.Second,
		TickInterval: time.Second,
		QueueDepth:   16,
	}
}

func (c Config) normalized() Config {
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if c.MisfireGrace <= 0 {
		c.MisfireGrace = 60 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 16
	}
	return c
}

// armed is a trigger with its next computed firing instant.
type armed struct {
	trigger Trigger
	next    time.Time
}

// Status summarises the scheduler for the status endpoint and CLI.
type Status struct {
	Running   bool          `json:"running"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Scheduled int           `json:"scheduled"`
	Counts    map[State]int `json:"counts"`
}

// Scheduler owns jobs, their triggers, and the worker pool.
type Scheduler struct {
	cfg    Config
	store  *Store
	runner Runner
	trail  audit.Logger
	log    *zap.Logger

	mu       sync.Mutex
	jobs     map[string]*Job
	armedSet map[string]*armed
	inflight map[string]bool

	queue     chan *Job
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	startedAt time.Time

	// now is swappable for tests.
	now func() time.Time
}

// New creates a stopped scheduler.
func New(cfg Config, store *Store, runner Runner, trail audit.Logger, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cfg:      cfg.normalized(),
		store:    store,
		runner:   runner,
		trail:    trail,
		log:      log,
		jobs:     make(map[string]*Job),
		armedSet: make(map[string]*armed),
		inflight: make(map[string]bool),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AddJob registers and persists the job. Re-adding an id replaces the
// previous record and trigger.
func (s *Scheduler) AddJob(job *Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id required")
	}
	if job.Task == "" {
		return fmt.Errorf("job %s: task required", job.ID)
	}
	trig, err := triggerFor(job)
	if err != nil {
		return err
	}
	if job.Priority == 0 {
		job.Priority = 5
	}
	if job.State == "" {
		job.State = StatePending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job
	s.arm(job, trig)

	if err := s.store.Save(job); err != nil {
		return err
	}
	if s.trail != nil {
		s.trail.StateTransition(job.ID, string(job.State), "registered "+trig.Description())
	}
	s.log.Info("job registered",
		zap.String("job_id", job.ID),
		zap.String("task", job.Task),
		zap.String("trigger", trig.Description()),
	)
	return nil
}

// ScheduleCron registers a recurring job.
func (s *Scheduler) ScheduleCron(id, task, expr string, maxRetries, timeoutSecs int, description string) (*Job, error) {
	job := &Job{
		ID:          id,
		Task:        task,
		Description: description,
		CronExpr:    expr,
		MaxRetries:  maxRetries,
		TimeoutSecs: timeoutSecs,
	}
	if err := s.AddJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// ScheduleOneTime registers a job firing once at the given instant.
func (s *Scheduler) ScheduleOneTime(id, task string, at time.Time, maxRetries, timeoutSecs int) (*Job, error) {
	when := at.UTC()
	job := &Job{
		ID:          id,
		Task:        task,
		RunAt:       &when,
		MaxRetries:  maxRetries,
		TimeoutSecs: timeoutSecs,
	}
	if err := s.AddJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Cancel marks the job cancelled and disarms its trigger. Terminal jobs
// are left alone; a running instance finishes its current firing but
// its result no longer changes the record.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: not found", id)
	}
	if job.State.Terminal() {
		return nil
	}

	if err := job.Transition(StateCancelled); err != nil {
		return err
	}
	delete(s.armedSet, id)
	if err := s.store.Save(job); err != nil {
		s.log.Warn("cancelled job not persisted", zap.String("job_id", id), zap.Error(err))
	}
	if s.trail != nil {
		s.trail.StateTransition(id, string(StateCancelled), "cancelled by user")
	}
	s.log.Info("job cancelled", zap.String("job_id", id))
	return nil
}

// Get returns a copy of the job record.
func (s *Scheduler) Get(id string) (*Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// List returns job copies ordered by (priority ascending, created_at
// ascending), optionally filtered to one state.
func (s *Scheduler) List(state State) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if state != "" && job.State != state {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Status reports counts by state plus lifecycle info.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[State]int)
	for _, job := range s.jobs {
		counts[job.State]++
	}
	return Status{
		Running:   s.running,
		StartedAt: s.startedAt,
		Scheduled: len(s.armedSet),
		Counts:    counts,
	}
}

// Start loads persisted jobs, arms their triggers, and launches the
// worker pool and the trigger scan loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}

	loaded, err := s.store.LoadAll()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load jobs: %w", err)
	}
	for _, job := range loaded {
		s.jobs[job.ID] = job
		trig, err := triggerFor(job)
		if err != nil {
			s.log.Warn("job has no usable trigger", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		s.arm(job, trig)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.queue = make(chan *Job, s.cfg.QueueDepth)
	s.stopCh = make(chan struct{})
	s.running = true
	s.startedAt = s.now()

	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(runCtx)
	}
	s.wg.Add(1)
	go s.produce(runCtx)

	s.log.Info("scheduler started",
		zap.Int("workers", s.cfg.Workers),
		zap.Int("jobs", len(s.jobs)),
		zap.Int("armed", len(s.armedSet)),
	)
	s.mu.Unlock()
	return nil
}

// Stop halts trigger scanning. With wait=true, running firings finish
// first; otherwise their contexts are cancelled.
func (s *Scheduler) Stop(wait bool) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	if !wait {
		s.cancel()
	}
	s.wg.Wait()
	s.cancel()
	s.log.Info("scheduler stopped", zap.Bool("waited", wait))
}

// arm installs the trigger, handling a one-shot whose instant already
// passed: within the grace it fires immediately, beyond it the firing
// is dropped as a misfire. Callers hold s.mu.
func (s *Scheduler) arm(job *Job, trig Trigger) {
	if job.State == StateCancelled || (!job.Recurring() && job.State.Terminal()) {
		delete(s.armedSet, job.ID)
		return
	}

	now := s.now()
	next := trig.Next(now)
	if next.IsZero() {
		ot, ok := trig.(OneTimeTrigger)
		if !ok || job.State != StatePending {
			delete(s.armedSet, job.ID)
			return
		}
		late := now.Sub(ot.At)
		if late > s.cfg.MisfireGrace {
			if s.trail != nil {
				s.trail.Misfire(job.ID, fmt.Sprintf("one-shot missed by %s, beyond grace", late.Round(time.Second)))
			}
			metrics.MisfiresTotal.Inc()
			if err := job.Transition(StateSkipped); err == nil {
				if err := s.store.Save(job); err != nil {
					s.log.Warn("skipped job not persisted", zap.String("job_id", job.ID), zap.Error(err))
				}
				if s.trail != nil {
					s.trail.StateTransition(job.ID, string(StateSkipped), "one-shot missed beyond grace")
				}
			}
			delete(s.armedSet, job.ID)
			return
		}
		next = now
	}
	s.armedSet[job.ID] = &armed{trigger: trig, next: next}
}

// produce scans triggers every tick and dispatches due firings.
func (s *Scheduler) produce(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.queue)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan()
		}
	}
}

// scan advances every armed trigger past now and dispatches at most one
// firing per job, applying coalesce and misfire-grace policies.
func (s *Scheduler) scan() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, a := range s.armedSet {
		if a.next.IsZero() || a.next.After(now) {
			continue
		}

		// Advance past every due instant; many missed firings coalesce
		// into the most recent one.
		missed := 0
		last := a.next
		next := a.next
		for !next.IsZero() && !next.After(now) {
			last = next
			missed++
			next = a.trigger.Next(next)
		}
		a.next = next
		if next.IsZero() {
			defer delete(s.armedSet, id)
		}

		lateBy := now.Sub(last)
		if lateBy > s.cfg.MisfireGrace {
			if s.trail != nil {
				s.trail.Misfire(id, fmt.Sprintf("firing late by %s, beyond grace", lateBy.Round(time.Second)))
			}
			metrics.MisfiresTotal.Inc()
			continue
		}
		if missed > 1 {
			if s.trail != nil {
				s.trail.Misfire(id, fmt.Sprintf("%d missed firings coalesced", missed))
			}
			metrics.MisfiresTotal.Inc()
		}

		s.dispatch(id)
	}
}

// dispatch queues one firing for the job. Callers hold s.mu.
func (s *Scheduler) dispatch(id string) {
	job, ok := s.jobs[id]
	if !ok {
		delete(s.armedSet, id)
		return
	}
	if s.inflight[id] {
		// max_instances=1: never run a second instance for the same id.
		if s.trail != nil {
			s.trail.Misfire(id, "previous instance still running, firing skipped")
		}
		metrics.MisfiresTotal.Inc()
		return
	}
	if job.State == StateCancelled {
		delete(s.armedSet, id)
		return
	}

	if job.State != StatePending {
		if !job.Recurring() {
			delete(s.armedSet, id)
			return
		}
		prev := job.State
		if err := job.Rearm(); err != nil {
			s.log.Warn("job cannot re-arm", zap.String("job_id", id), zap.Error(err))
			delete(s.armedSet, id)
			return
		}
		if err := s.store.Save(job); err != nil {
			s.log.Warn("re-armed job not persisted", zap.String("job_id", id), zap.Error(err))
		}
		if s.trail != nil {
			s.trail.StateTransition(id, string(StatePending), fmt.Sprintf("re-armed after %s firing", prev))
		}
	}

	select {
	case s.queue <- job:
		s.inflight[id] = true
		metrics.JobsQueued.Inc()
	default:
		if s.trail != nil {
			s.trail.Misfire(id, "dispatch queue full, firing coalesced")
		}
		metrics.MisfiresTotal.Inc()
	}
}

// worker executes queued firings one at a time.
func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for job := range s.queue {
		metrics.JobsQueued.Dec()
		metrics.JobsRunning.Inc()
		start := time.Now()

		s.runner.RunJob(ctx, job, s.transitionFunc(job))

		metrics.JobsRunning.Dec()
		metrics.JobDuration.WithLabelValues(job.Task).Observe(time.Since(start).Seconds())

		s.mu.Lock()
		metrics.JobRunsTotal.WithLabelValues(job.Task, string(job.State)).Inc()
		delete(s.inflight, job.ID)
		if !job.Recurring() {
			delete(s.armedSet, job.ID)
		}
		s.mu.Unlock()
	}
}

// transitionFunc binds the persistence-and-audit pipeline to one job.
func (s *Scheduler) transitionFunc(job *Job) TransitionFunc {
	return func(to State, summary string) error {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := job.Transition(to); err != nil {
			return err
		}
		if err := s.store.Save(job); err != nil {
			s.log.Warn("state change not persisted",
				zap.String("job_id", job.ID),
				zap.String("state", string(to)),
				zap.Error(err),
			)
		}
		if s.trail != nil {
			s.trail.StateTransition(job.ID, string(to), summary)
		}
		return nil
	}
}

// Package scheduler runs the recurring background jobs: the departed-applicant
// risk sweep and overdue inventory reminders.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/goatkit/phonedesk/internal/keylock"
	"github.com/goatkit/phonedesk/internal/metrics"
	"github.com/goatkit/phonedesk/internal/models"
)

// Handler executes one run of a scheduled job.
type Handler func(ctx context.Context, job *models.ScheduledJob) error

var (
	// ErrUnknownHandler is returned when a job names a handler nobody registered.
	ErrUnknownHandler = errors.New("scheduler: unknown handler")
	// ErrUnknownJob is returned for slugs that were never added.
	ErrUnknownJob = errors.New("scheduler: unknown job")
)

// JobStatus is the last known state of a job.
type JobStatus struct {
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Handler   string    `json:"handler"`
	Schedule  string    `json:"schedule"`
	Running   bool      `json:"running"`
	Runs      int       `json:"runs"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitempty"`
}

// Service schedules jobs on a cron engine and dispatches them to handlers.
type Service struct {
	logger    *zap.Logger
	cron      *cron.Cron
	parser    cron.Parser
	locker    keylock.Locker
	metrics   *metrics.Collectors
	sweep     *sweepMetrics
	clock     func() time.Time
	assets    riskSweeper
	inventory overdueReminder
	initial   []*models.ScheduledJob

	mu       sync.RWMutex
	handlers map[string]Handler
	jobs     map[string]*models.ScheduledJob
	entries  map[string]cron.EntryID
	status   map[string]*JobStatus
	started  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewService creates a scheduler with the built-in handlers registered.
func NewService(opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	engine := o.Cron
	if engine == nil {
		engine = cron.New(cron.WithLocation(o.Location), cron.WithParser(o.Parser))
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		logger:    o.Logger.Named("scheduler"),
		cron:      engine,
		parser:    o.Parser,
		locker:    o.Locker,
		metrics:   o.Metrics,
		sweep:     globalSweepMetrics(),
		clock:     o.Clock,
		assets:    o.Assets,
		inventory: o.Inventory,
		initial:   o.Jobs,
		handlers:  make(map[string]Handler),
		jobs:      make(map[string]*models.ScheduledJob),
		entries:   make(map[string]cron.EntryID),
		status:    make(map[string]*JobStatus),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.registerBuiltinHandlers()
	return s
}

func (s *Service) now() time.Time {
	return s.clock()
}

// RegisterHandler binds name to h, replacing any previous binding.
func (s *Service) RegisterHandler(name string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = h
}

// AddJob validates job and puts it on the cron engine.
func (s *Service) AddJob(job *models.ScheduledJob) error {
	if job == nil || job.Slug == "" {
		return errors.New("scheduler: job slug is required")
	}
	schedule, err := s.parser.Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", job.Schedule, job.Slug, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[job.Handler]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, job.Handler)
	}
	if _, exists := s.entries[job.Slug]; exists {
		return fmt.Errorf("scheduler: job %s already added", job.Slug)
	}
	s.entries[job.Slug] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		_ = s.execute(s.ctx, job)
	}))
	s.jobs[job.Slug] = job
	s.status[job.Slug] = &JobStatus{Slug: job.Slug, Name: job.Name, Handler: job.Handler, Schedule: job.Schedule}
	s.logger.Info("job scheduled", zap.String("slug", job.Slug), zap.String("schedule", job.Schedule))
	return nil
}

// RemoveJob takes a job off the engine. Runs in flight are not interrupted.
func (s *Service) RemoveJob(slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[slug]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, slug)
	}
	s.cron.Remove(id)
	delete(s.entries, slug)
	delete(s.jobs, slug)
	delete(s.status, slug)
	return nil
}

// Start adds the configured jobs, or the defaults, and starts the engine.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	jobs := s.initial
	if jobs == nil {
		jobs = DefaultJobs()
	}
	for _, job := range jobs {
		if err := s.AddJob(job); err != nil {
			return err
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(jobs)))
	return nil
}

// Stop halts the engine and waits for running jobs to finish or ctx to end.
func (s *Service) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
	s.logger.Info("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Stop(stopCtx)
	return nil
}

// RunNow executes the job registered under slug synchronously.
func (s *Service) RunNow(ctx context.Context, slug string) error {
	s.mu.RLock()
	job, ok := s.jobs[slug]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, slug)
	}
	return s.execute(ctx, job)
}

// RunHandler executes a handler once outside any schedule, e.g. from the CLI.
func (s *Service) RunHandler(ctx context.Context, handler string, cfg map[string]any) error {
	return s.execute(ctx, &models.ScheduledJob{Slug: handler, Name: handler, Handler: handler, Config: cfg})
}

// Status reports every scheduled job ordered by slug.
func (s *Service) Status() []JobStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobStatus, 0, len(s.status))
	for slug, st := range s.status {
		c := *st
		if id, ok := s.entries[slug]; ok {
			c.NextRun = s.cron.Entry(id).Next
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

func (s *Service) execute(ctx context.Context, job *models.ScheduledJob) (err error) {
	s.mu.RLock()
	h, ok := s.handlers[job.Handler]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, job.Handler)
	}

	if job.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	if s.locker != nil {
		unlock, lerr := s.locker.Lock(ctx, keylock.JobKey(job.Slug))
		if lerr != nil {
			s.logger.Debug("job already running elsewhere, skipping", zap.String("slug", job.Slug), zap.Error(lerr))
			return nil
		}
		defer unlock()
	}

	s.markRunning(job.Slug, true)
	done := s.metrics.RecordJob(job.Handler)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: job %s panicked: %v", job.Slug, r)
		}
		done(err)
		s.finish(job.Slug, err)
		if err != nil {
			s.logger.Error("job failed", zap.String("slug", job.Slug), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
			return
		}
		s.logger.Debug("job finished", zap.String("slug", job.Slug), zap.Duration("elapsed", time.Since(start)))
	}()
	return h(ctx, job)
}

func (s *Service) markRunning(slug string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.status[slug]; ok {
		st.Running = running
	}
}

func (s *Service) finish(slug string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[slug]
	if !ok {
		return
	}
	st.Running = false
	st.Runs++
	st.LastRun = s.now()
	st.LastError = ""
	if err != nil {
		st.LastError = err.Error()
	}
}

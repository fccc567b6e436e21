package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

type entry struct {
	id       cron.EntryID
	schedule string
	job      Job
}

// Scheduler manages periodic tasks. A job whose previous run is still in
// progress is skipped rather than started twice.
type Scheduler struct {
	ctx        context.Context
	cron       *cron.Cron
	mu         sync.Mutex
	jobs       map[string]entry
	timezone   *time.Location
	jobTimeout time.Duration
	log        *zap.Logger
}

// New creates a new scheduler with the given timezone. Each job run is
// bounded by jobTimeout and cancelled when ctx is done.
func New(ctx context.Context, timezone string, jobTimeout time.Duration, log *zap.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("scheduler")

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log.Sugar()})),
	)

	return &Scheduler{
		ctx:        ctx,
		cron:       c,
		jobs:       make(map[string]entry),
		timezone:   loc,
		jobTimeout: jobTimeout,
		log:        log,
	}, nil
}

// AddJob adds a job with a cron schedule
// schedule format: "0 7 * * *" (at 7:00 AM daily)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(name, schedule, job)
}

func (s *Scheduler) add(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.run(name, job); err != nil {
			s.log.Error("Job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entry{id: entryID, schedule: schedule, job: job}
	s.log.Info("Added job", zap.String("job", name), zap.String("schedule", schedule))

	return nil
}

func (s *Scheduler) run(name string, job Job) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
	defer cancel()

	s.log.Info("Starting job", zap.String("job", name))
	start := time.Now()

	if err := job(ctx); err != nil {
		return err
	}
	s.log.Info("Job completed", zap.String("job", name), zap.Duration("took", time.Since(start)))
	return nil
}

func (s *Scheduler) remove(name string) {
	if e, ok := s.jobs[name]; ok {
		s.cron.Remove(e.id)
		delete(s.jobs, name)
		s.log.Info("Removed job", zap.String("job", name))
	}
}

// Reschedule moves an existing job to a new cron schedule. The job keeps its
// old schedule when the new one does not parse.
func (s *Scheduler) Reschedule(name, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	if e.schedule == schedule {
		return nil
	}
	s.remove(name)
	return s.add(name, schedule, e.job)
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.log.Info("Starting scheduler", zap.String("timezone", s.timezone.String()))
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info("Stopping scheduler")
	return s.cron.Stop()
}

// RunNow runs a job immediately and waits for it to finish. It goes through
// the same overlap guard as scheduled runs, so it is skipped when a run of
// the job is already in progress. Job errors are logged.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}

	s.cron.Entry(e.id).WrappedJob.Run()
	return nil
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, e := range s.jobs {
		ce := s.cron.Entry(e.id)
		if !ce.Valid() {
			continue
		}
		infos = append(infos, JobInfo{
			Name:     name,
			Schedule: e.schedule,
			NextRun:  ce.Next,
			LastRun:  ce.Prev,
		})
	}

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name     string
	Schedule string
	NextRun  time.Time
	LastRun  time.Time
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

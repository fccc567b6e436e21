package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ibeckermayer/instaflow/internal/automation"
	"github.com/ibeckermayer/instaflow/internal/browser"
	"github.com/ibeckermayer/instaflow/internal/config"
	"github.com/ibeckermayer/instaflow/internal/scheduler"
	"github.com/ibeckermayer/instaflow/internal/store"
	"github.com/ibeckermayer/instaflow/internal/types"
)

// Opener launches a browser page. browser.Open in production.
type Opener func(ctx context.Context, o browser.Options) (browser.Page, error)

// Notifier reports a finished run, e.g. by email.
type Notifier interface {
	NotifyRun(r *types.RunReport) error
}

// Override adjusts a freshly loaded config, e.g. with command line flags.
type Override func(cfg *config.Config)

// sequenceJob is the scheduler job name of the sequence.
const sequenceJob = "sequence"

// App holds the application state.
type App struct {
	mu       sync.RWMutex
	log      *zap.Logger // immutable after creation
	open     Opener      // immutable after creation
	history  *store.Store
	notify   Notifier
	override Override

	// Mutable - use currentConfig() for concurrent access.
	config *config.Config
	sched  *scheduler.Scheduler
}

// New creates a new App instance. history and notify may be nil to disable
// run history and run summaries.
func New(cfg *config.Config, open Opener, history *store.Store, notify Notifier, log *zap.Logger) *App {
	if open == nil {
		open = browser.Open
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &App{
		config:  cfg,
		open:    open,
		history: history,
		notify:  notify,
		log:     log,
	}
}

// SetOverride registers fn to be applied to every config loaded by
// ReloadConfig. The config passed to New is expected to have it applied
// already.
func (a *App) SetOverride(fn Override) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.override = fn
}

// currentConfig returns the config under read lock.
func (a *App) currentConfig() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config
}

// RunOnce launches a browser, runs the interaction sequence and records the
// report in history when enabled. The report is returned even when the run
// failed, as long as the browser could be started.
func (a *App) RunOnce(ctx context.Context) (*types.RunReport, error) {
	cfg := a.currentConfig()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Run.Duration)
	defer cancel()

	if cfg.Account.Username == "" || cfg.Account.Password == "" {
		a.log.Warn("Instagram credentials are empty; set INSTAGRAM_USERNAME and INSTAGRAM_PASSWORD")
	}

	a.log.Info("Launching browser",
		zap.String("driver", cfg.Browser.Driver),
		zap.Bool("headless", cfg.Browser.Headless))
	page, err := a.open(ctx, cfg.BrowserOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open browser: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			a.log.Warn("Failed to close browser", zap.Error(err))
		}
	}()

	seq := automation.New(page, automation.OptionsFromConfig(cfg), a.log.Named("sequence"))
	report, runErr := seq.Run(ctx)

	if a.history != nil && report != nil {
		if err := a.history.SaveRun(report); err != nil {
			a.log.Error("Failed to record run", zap.String("run", report.ID), zap.Error(err))
		}
	}
	if a.notify != nil && report != nil {
		if err := a.notify.NotifyRun(report); err != nil {
			a.log.Error("Failed to send run summary", zap.String("run", report.ID), zap.Error(err))
		}
	}

	return report, runErr
}

// Schedule runs the sequence on the configured cron schedule until ctx is
// cancelled. With runNow set the sequence also runs once right away. Failed
// runs are logged and do not stop the schedule. Cancelling ctx aborts a run
// in progress.
func (a *App) Schedule(ctx context.Context, runNow bool) error {
	cfg := a.currentConfig()

	s, err := scheduler.New(ctx, cfg.Schedule.Timezone, cfg.Timeouts.Run.Duration, a.log)
	if err != nil {
		return err
	}

	job := func(ctx context.Context) error {
		_, err := a.RunOnce(ctx)
		return err
	}
	if err := s.AddJob(sequenceJob, cfg.Schedule.Cron, job); err != nil {
		return err
	}

	a.mu.Lock()
	a.sched = s
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.sched = nil
		a.mu.Unlock()
	}()

	s.Start()
	a.logNextRuns(s)

	if runNow {
		if err := s.RunNow(sequenceJob); err != nil {
			a.log.Error("Failed to start run", zap.Error(err))
		}
	}

	<-ctx.Done()
	<-s.Stop().Done()

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (a *App) logNextRuns(s *scheduler.Scheduler) {
	for _, j := range s.ListJobs() {
		a.log.Info("Next run scheduled",
			zap.String("job", j.Name),
			zap.String("cron", j.Schedule),
			zap.Time("at", j.NextRun))
	}
}

// History returns the most recent runs. It fails when history is disabled.
func (a *App) History(limit int) ([]types.RunReport, error) {
	if a.history == nil {
		return nil, errors.New("run history is disabled; set [history] enabled = true")
	}
	return a.history.RecentRuns(limit)
}

// ReloadConfig reloads the configuration from disk and re-applies the
// override. Runs already in progress keep the config they started with. A
// running schedule picks up a changed cron expression; a changed timezone
// needs a restart.
func (a *App) ReloadConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.override != nil {
		a.override(cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	if a.sched != nil {
		if err := a.sched.Reschedule(sequenceJob, cfg.Schedule.Cron); err != nil {
			return err
		}
		if cfg.Schedule.Timezone != a.config.Schedule.Timezone {
			a.log.Warn("Timezone change applies after a restart",
				zap.String("timezone", a.config.Schedule.Timezone))
		}
		a.logNextRuns(a.sched)
	}
	a.config = cfg

	a.log.Info("Configuration reloaded")
	return nil
}

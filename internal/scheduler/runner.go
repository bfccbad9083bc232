package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobInfo is the bookkeeping row per scheduled job, exposed through the ops
// API.
type JobInfo struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Schedule   string        `json:"schedule"`
	LastRun    time.Time     `json:"last_run"`
	NextRun    time.Time     `json:"next_run"`
	Status     string        `json:"status"`
	RunCount   int           `json:"run_count"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Runner drives the scheduler's operations at wall-clock times. The
// scheduler itself never sleeps; the cron owns frequency.
type Runner struct {
	scheduler *Scheduler
	cron      *cron.Cron
	logger    *logrus.Logger

	mu      sync.RWMutex
	jobs    map[string]JobInfo
	entries map[string]cron.EntryID
	running bool
}

// NewRunner builds the cron wrapper around a scheduler.
func NewRunner(s *Scheduler, logger *logrus.Logger) *Runner {
	return &Runner{
		scheduler: s,
		cron:      cron.New(cron.WithLogger(cron.VerbosePrintfLogger(logger))),
		logger:    logger,
		jobs:      make(map[string]JobInfo),
		entries:   make(map[string]cron.EntryID),
	}
}

// Start schedules every job and starts the cron. The price pulses bracket
// the nightly price-change window (around 01:30 UTC).
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("scheduler runner already running")
	}

	jobs := []struct {
		id       string
		schedule string
		name     string
		fn       func(context.Context) error
	}{
		{"deadline_check", "0 * * * *", "Hourly deadline check", r.scheduler.CheckDeadlines},
		{"daily_refresh", "0 7 * * *", "Daily data refresh", r.scheduler.DailyRefresh},
		{"price_pre", "45 0 * * *", "Pre-window price pulse", func(ctx context.Context) error {
			return r.scheduler.PricePulse(ctx, "pre")
		}},
		{"price_post", "45 2 * * *", "Post-window price pulse", func(ctx context.Context) error {
			return r.scheduler.PricePulse(ctx, "post")
		}},
		{"weekly_review", "30 * * * *", "Gameweek completion sweep", r.scheduler.WeeklyReview},
		{"health_pulse", "*/15 * * * *", "Health check publish", r.scheduler.HealthPulse},
	}

	for _, job := range jobs {
		if err := r.addJob(ctx, job.id, job.schedule, job.name, job.fn); err != nil {
			return err
		}
	}

	r.cron.Start()
	r.running = true
	r.logger.WithField("jobs", len(jobs)).Info("Scheduler runner started")
	return nil
}

// Stop halts the cron, waiting briefly for running jobs.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		r.logger.Warn("Scheduler jobs did not finish within grace period")
	}
	r.running = false
	r.logger.Info("Scheduler runner stopped")
}

func (r *Runner) addJob(ctx context.Context, id, schedule, name string, fn func(context.Context) error) error {
	entryID, err := r.cron.AddFunc(schedule, func() {
		r.runJob(ctx, id, fn)
	})
	if err != nil {
		return fmt.Errorf("failed to add job %s: %w", id, err)
	}
	r.entries[id] = entryID
	r.jobs[id] = JobInfo{
		ID:       id,
		Name:     name,
		Schedule: schedule,
		Status:   "scheduled",
	}
	r.logger.WithFields(logrus.Fields{
		"job":      id,
		"schedule": schedule,
	}).Info("Scheduled job added")
	return nil
}

func (r *Runner) runJob(ctx context.Context, id string, fn func(context.Context) error) {
	r.mu.Lock()
	job := r.jobs[id]
	job.Status = "running"
	job.LastRun = time.Now().UTC()
	job.RunCount++
	r.jobs[id] = job
	r.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	started := time.Now()
	err := fn(jobCtx)
	duration := time.Since(started)

	r.mu.Lock()
	job = r.jobs[id]
	job.Duration = duration
	if entryID, ok := r.entries[id]; ok {
		job.NextRun = r.cron.Entry(entryID).Next
	}
	if err != nil {
		job.Status = "error"
		job.ErrorCount++
		job.LastError = err.Error()
	} else {
		job.Status = "ok"
		job.LastError = ""
	}
	r.jobs[id] = job
	r.mu.Unlock()

	entry := r.logger.WithFields(logrus.Fields{
		"job":      id,
		"duration": duration.Round(time.Millisecond),
	})
	if err != nil {
		entry.WithError(err).Error("Scheduled job failed")
	} else {
		entry.Debug("Scheduled job completed")
	}
}

// Jobs returns a snapshot of job bookkeeping.
func (r *Runner) Jobs() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobInfo, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out
}

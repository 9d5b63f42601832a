// Package scheduler provides cron-based scheduling for KawalObat.
//
// It drives the periodic followup dispatch cycle and the conversation
// expiry sweep using cron expressions.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/SehatKit/KawalObat/internal/models"
)

// Default cron expressions for the periodic jobs.
const (
	DefaultProcessCronSpec = "* * * * *"    // every minute
	DefaultSweepCronSpec   = "*/10 * * * *" // every 10 minutes
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// FollowupProcessor drains and dispatches due followups.
type FollowupProcessor interface {
	ProcessPendingFollowups(ctx context.Context) (*models.ProcessResult, error)
}

// ConversationSweeper deactivates expired conversation states.
type ConversationSweeper interface {
	CleanupExpired(ctx context.Context) (int, error)
}

// Driver wires the periodic jobs onto a Scheduler. Each job holds a
// single-flight guard: if a previous run is still in progress the new
// tick is skipped rather than stacked.
type Driver struct {
	processor FollowupProcessor
	sweeper   ConversationSweeper

	processing atomic.Bool
	sweeping   atomic.Bool
}

// NewDriver creates a driver for the given processor and sweeper.
// The sweeper may be nil, in which case no sweep job is registered.
func NewDriver(processor FollowupProcessor, sweeper ConversationSweeper) *Driver {
	return &Driver{processor: processor, sweeper: sweeper}
}

// Register adds the process and sweep jobs to the scheduler. Empty
// expressions fall back to the package defaults.
func (d *Driver) Register(s *Scheduler, processExpr, sweepExpr string) error {
	if processExpr == "" {
		processExpr = DefaultProcessCronSpec
	}
	if sweepExpr == "" {
		sweepExpr = DefaultSweepCronSpec
	}

	if err := s.AddJob(processExpr, func() { d.RunProcessCycle(context.Background()) }); err != nil {
		return err
	}
	slog.Info("Scheduler registered followup processing job", "cron", processExpr)

	if d.sweeper != nil {
		if err := s.AddJob(sweepExpr, func() { d.RunSweepCycle(context.Background()) }); err != nil {
			return err
		}
		slog.Info("Scheduler registered conversation sweep job", "cron", sweepExpr)
	}
	return nil
}

// RunProcessCycle runs a single followup dispatch cycle. Concurrent
// invocations beyond the first are skipped.
func (d *Driver) RunProcessCycle(ctx context.Context) {
	if !d.processing.CompareAndSwap(false, true) {
		slog.Warn("Scheduler skipping followup cycle, previous cycle still running")
		return
	}
	defer d.processing.Store(false)

	result, err := d.processor.ProcessPendingFollowups(ctx)
	if err != nil {
		slog.Error("Scheduler followup cycle failed", "error", err)
		return
	}
	if result.Due > 0 {
		slog.Info("Scheduler followup cycle complete",
			"due", result.Due, "sent", result.Sent, "failed", result.Failed,
			"skipped", result.Skipped, "dequeued", result.Dequeued)
	} else {
		slog.Debug("Scheduler followup cycle complete, nothing due")
	}
}

// RunSweepCycle runs a single conversation expiry sweep.
func (d *Driver) RunSweepCycle(ctx context.Context) {
	if !d.sweeping.CompareAndSwap(false, true) {
		slog.Warn("Scheduler skipping conversation sweep, previous sweep still running")
		return
	}
	defer d.sweeping.Store(false)

	cleaned, err := d.sweeper.CleanupExpired(ctx)
	if err != nil {
		slog.Error("Scheduler conversation sweep failed", "error", err)
		return
	}
	if cleaned > 0 {
		slog.Info("Scheduler conversation sweep complete", "deactivated", cleaned)
	}
}

package scanner

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronRunner wraps a Scanner in a standalone robfig/cron schedule, running
// RunCycle on a fixed interval and refusing to overlap a cycle still in
// flight.
type CronRunner struct {
	scanner *Scanner
	opts    CycleOptions
	cron    *cron.Cron

	mu      sync.Mutex
	running bool

	lastReport CycleReport
	lastErr    error
}

// NewCronRunner builds a CronRunner that invokes scanner.RunCycle(opts) on
// the given standard five-field cron expression (e.g. "*/5 * * * *").
func NewCronRunner(scanner *Scanner, opts CycleOptions, expr string) (*CronRunner, error) {
	r := &CronRunner{
		scanner: scanner,
		opts:    opts,
		cron:    cron.New(),
	}
	if _, err := r.cron.AddFunc(expr, r.tick); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins the cron schedule. It does not block.
func (r *CronRunner) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for any in-flight cycle to finish.
func (r *CronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *CronRunner) tick() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.scanner.logger.Warn("skipping cron tick: previous cycle still running")
		return
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	report, err := r.scanner.RunCycle(context.Background(), r.opts)

	r.mu.Lock()
	r.lastReport = report
	r.lastErr = err
	r.mu.Unlock()

	if err != nil {
		r.scanner.logger.Error("task cron cycle failed", zap.Error(err))
		return
	}
	r.scanner.logger.Info("task cron cycle complete",
		zap.Int("scanned_tasks", report.ScannedTasks),
		zap.Int("todo_tasks", report.TodoTasks),
		zap.Int("blocked_tasks", report.BlockedTasks),
		zap.Int("inactive_agents", report.InactiveAgents),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
	)
}

// LastReport returns the most recently completed cycle's report and error,
// for health/diagnostics endpoints.
func (r *CronRunner) LastReport() (CycleReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReport, r.lastErr
}

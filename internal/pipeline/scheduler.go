package pipeline

import (
	"context"

	"github.com/robfig/cron/v3"

	appLog "cityfeed/internal/log"
)

// Scheduler triggers Runner.Refresh on a cron schedule. A refresh that is
// still running when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler validates spec (standard 5-field cron) and registers the
// refresh job. Jobs run with ctx, so cancelling it aborts in-flight fetches.
func NewScheduler(ctx context.Context, spec string, runner *Runner) (*Scheduler, error) {
	logger := cronLogger{}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := c.AddFunc(spec, func() {
		if _, err := runner.Refresh(ctx); err != nil {
			appLog.Error("scheduled refresh finished with errors", err)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: c}, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running job to finish.
func (s *Scheduler) Run(ctx context.Context) {
	s.cron.Start()
	appLog.Info("refresh scheduler started", "entries", len(s.cron.Entries()))

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	appLog.Info("refresh scheduler stopped")
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}

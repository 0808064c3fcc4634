package cronjob

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bloodlink/bloodlink-backend/internal/funding/service"
)

// Reconciler is the part of the funding service the schedule drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (service.ReconcileResult, error)
}

// Scheduler periodically settles checkout sessions whose payer never
// returned to the success page.
type Scheduler struct {
	cron    *cron.Cron
	job     Reconciler
	spec    string
	timeout time.Duration
	log     *zap.Logger
}

func NewScheduler(job Reconciler, spec string, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		job:     job,
		spec:    spec,
		timeout: 2 * time.Minute,
		log:     log,
	}
}

// Start registers the job and starts the scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.RunOnce); err != nil {
		return err
	}
	s.log.Info("checkout reconciler scheduled", zap.String("spec", s.spec))
	s.cron.Start()
	return nil
}

// Stop waits for a running pass to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// RunOnce performs a single reconciliation pass.
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.job.Reconcile(ctx)
	if err != nil {
		s.log.Error("checkout reconcile failed", zap.Error(err))
		return
	}
	s.log.Info("checkout reconcile completed",
		zap.Int("confirmed", res.Confirmed),
		zap.Int("dropped", res.Dropped),
		zap.Int("waiting", res.Waiting),
		zap.Duration("took", time.Since(start)))
}

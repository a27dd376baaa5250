package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Report is the outcome of a RunOnce call.
type Report struct {
	RunID    string `json:"runId"`
	Logs     Result `json:"logs"`
	Contexts Result `json:"contexts"`
}

// Scheduler runs the reconciler's passes periodically.
type Scheduler struct {
	reconciler      *Reconciler
	logInterval     time.Duration
	contextInterval time.Duration
	logger          *zap.Logger
}

// NewScheduler creates a Scheduler. Non-positive intervals default to one hour.
func NewScheduler(r *Reconciler, logInterval, contextInterval time.Duration, logger *zap.Logger) *Scheduler {
	if logInterval <= 0 {
		logInterval = time.Hour
	}
	if contextInterval <= 0 {
		contextInterval = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		reconciler:      r,
		logInterval:     logInterval,
		contextInterval: contextInterval,
		logger:          logger,
	}
}

// Run runs both passes immediately and then each on its own ticker until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("backfill scheduler started",
		zap.Duration("log_interval", s.logInterval),
		zap.Duration("context_interval", s.contextInterval),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.loop(ctx, "logs", s.logInterval, s.reconciler.LogPass)
	}()
	s.loop(ctx, "contexts", s.contextInterval, s.reconciler.ContextPass)
	wg.Wait()

	s.logger.Info("backfill scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, pass func(context.Context) (Result, error)) {
	s.runPass(ctx, name, pass)

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(ctx, name, pass)
		}
	}
}

func (s *Scheduler) runPass(ctx context.Context, name string, pass func(context.Context) (Result, error)) {
	runID := ulid.Make().String()
	start := time.Now()
	res, err := pass(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("backfill pass failed", zap.String("run_id", runID), zap.String("pass", name), zap.Error(err))
		return
	}
	s.logger.Debug("backfill pass",
		zap.String("run_id", runID),
		zap.String("pass", name),
		zap.Int64("created", res.Created),
		zap.Duration("took", time.Since(start)),
	)
}

// RunOnce runs both passes concurrently and waits for them.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	rep := Report{RunID: ulid.Make().String()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rep.Logs, err = s.reconciler.LogPass(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		rep.Contexts, err = s.reconciler.ContextPass(gctx)
		return err
	})
	err := g.Wait()

	s.logger.Info("backfill run",
		zap.String("run_id", rep.RunID),
		zap.Int64("log_stubs", rep.Logs.Created),
		zap.Int64("context_stubs", rep.Contexts.Created),
		zap.Error(err),
	)
	return rep, err
}

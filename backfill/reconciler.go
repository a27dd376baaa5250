// Package backfill creates embedding stubs that the request path did not write,
// for logs recorded before stubs existed and for context sets.
package backfill

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ineyio/inferhub"
)

// Result counts the work done by one pass.
type Result struct {
	Scanned int64 `json:"scanned"`
	Created int64 `json:"created"`
	Failed  int64 `json:"failed"`
}

// Reconciler compares logs and context sets with their stubs and fills the gaps.
// A pass is idempotent: stubs are upserted, so rerunning it creates nothing new.
type Reconciler struct {
	logs     inferhub.LogStore
	contexts inferhub.ContextSetStore
	stubs    inferhub.StubStore
	recorder *inferhub.LogRecorder

	pageSize int
	workers  int
	project  string
	logger   *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPageSize sets how many logs are read per page.
func WithPageSize(n int) Option {
	return func(r *Reconciler) { r.pageSize = n }
}

// WithWorkers bounds the number of owners reconciled at once.
func WithWorkers(n int) Option {
	return func(r *Reconciler) { r.workers = n }
}

// WithContextProject sets the project stamped on CONTEXT stubs.
func WithContextProject(p string) Option {
	return func(r *Reconciler) { r.project = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// NewReconciler creates a Reconciler.
func NewReconciler(logs inferhub.LogStore, contexts inferhub.ContextSetStore, stubs inferhub.StubStore, recorder *inferhub.LogRecorder, opts ...Option) *Reconciler {
	r := &Reconciler{
		logs:     logs,
		contexts: contexts,
		stubs:    stubs,
		recorder: recorder,
		pageSize: 200,
		workers:  4,
		project:  "mcp",
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pageSize < 1 {
		r.pageSize = 200
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

// LogPass walks every log in id order and creates the missing PROMPT, QUERY
// and RESULT stubs of successful logs. A failure on one log is counted and
// logged; the pass continues with the rest.
func (r *Reconciler) LogPass(ctx context.Context) (Result, error) {
	var scanned, created, failed atomic.Int64
	var afterID int64

	for {
		page, err := r.logs.ListLogs(ctx, inferhub.LogFilter{AfterID: afterID, Limit: r.pageSize})
		if err != nil {
			return snapshot(&scanned, &created, &failed), fmt.Errorf("inferhub/backfill: list logs after %d: %w", afterID, err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.workers)
		for _, l := range page {
			scanned.Add(1)
			if l.Status != inferhub.LogStatusOK {
				continue
			}
			g.Go(func() error {
				n, err := r.reconcileLog(gctx, l)
				created.Add(int64(n))
				if err != nil {
					failed.Add(1)
					r.logger.Warn("log backfill failed", zap.Int64("log_id", l.ID), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return snapshot(&scanned, &created, &failed), err
		}
		afterID = page[len(page)-1].ID
		if len(page) < r.pageSize {
			break
		}
	}

	res := snapshot(&scanned, &created, &failed)
	r.logger.Info("log backfill pass done",
		zap.Int64("scanned", res.Scanned),
		zap.Int64("created", res.Created),
		zap.Int64("failed", res.Failed),
	)
	return res, nil
}

func (r *Reconciler) reconcileLog(ctx context.Context, l inferhub.InferenceLog) (int, error) {
	existing, err := r.stubs.ListStubs(ctx, inferhub.StubKindLog, l.ID)
	if err != nil {
		return 0, err
	}
	if len(existing) >= len(inferhub.LogContentTypes) {
		return 0, nil
	}
	created, err := r.recorder.EnsureLogStubs(ctx, l, existing)
	return len(created), err
}

// ContextPass creates a CONTEXT stub for every context set that has none.
// Sets that already have a stub are left as they are, even if edited since.
func (r *Reconciler) ContextPass(ctx context.Context) (Result, error) {
	var scanned, created, failed atomic.Int64

	sets, err := r.contexts.ListContextSets(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("inferhub/backfill: list context sets: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, cs := range sets {
		scanned.Add(1)
		g.Go(func() error {
			existing, err := r.stubs.ListStubs(gctx, inferhub.StubKindContext, cs.ID)
			if err == nil && len(existing) > 0 {
				return nil
			}
			var ok bool
			if err == nil {
				ok, err = r.recorder.EnsureContextStub(gctx, cs, r.project)
			}
			if err != nil {
				failed.Add(1)
				r.logger.Warn("context backfill failed", zap.Int64("context_set_id", cs.ID), zap.Error(err))
				return nil
			}
			if ok {
				created.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := snapshot(&scanned, &created, &failed)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	r.logger.Info("context backfill pass done",
		zap.Int64("scanned", res.Scanned),
		zap.Int64("created", res.Created),
		zap.Int64("failed", res.Failed),
	)
	return res, nil
}

func snapshot(scanned, created, failed *atomic.Int64) Result {
	return Result{Scanned: scanned.Load(), Created: created.Load(), Failed: failed.Load()}
}

// Package scheduler executes a forest of runners with bounded parallelism
// and a uniform lifecycle (spec §4.1).
//
// Grounded on internal/dag/executor.go's RunSerial/RunParallel: the
// teacher dispatches a static DAG depth-stage by depth-stage with a worker
// channel pool; this package keeps that "launch eagerly, gate the work
// body, wait for all" shape but drives a dynamically-constructed forest
// (before() registers children lazily) instead of a precomputed graph, and
// gates with golang.org/x/sync/semaphore instead of a hand-rolled channel
// pool, matching how bartekus-stagecraft and nevindra-oasis bound
// concurrent work in the rest of the retrieval pack.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"execengine/internal/tree"
)

// Pre is whatever a runner's before() produces for its own run()/after()/
// error()/skipped() calls. It is opaque to the scheduler.
type Pre any

// Runner is the uniform lifecycle every dynamic node drives through.
type Runner interface {
	// Before constructs the runner's dynamic node/children and decides
	// whether this runner should be skipped instead of run.
	Before(ctx context.Context) (pre Pre, skip bool, err error)
	Run(ctx context.Context, pre Pre) error
	After(ctx context.Context, pre Pre) error
	Error(ctx context.Context, pre Pre, cause error) error
	Skipped(ctx context.Context, pre Pre) error
}

// Gate is the process-wide MAX_CONCURRENCY semaphore. It is acquired
// around Run only; Before/After/Error/Skipped are never gated, so dynamic
// children can still be registered under saturation (spec §4.1, §5).
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate builds a gate with the given capacity.
func NewGate(capacity int64) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{sem: semaphore.NewWeighted(capacity)}
}

// Drive runs a single Runner through its full lifecycle, honoring the
// skip decision from Before and never re-raising to the caller: every
// outcome is signaled through the node's status instead (spec §4.1
// "Error discipline").
func (g *Gate) Drive(ctx context.Context, r Runner) {
	pre, skip, err := r.Before(ctx)
	if err != nil {
		_ = r.Error(ctx, pre, err)
		return
	}
	if skip {
		_ = r.Skipped(ctx, pre)
		return
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		_ = r.Error(ctx, pre, err)
		return
	}
	runErr := r.Run(ctx, pre)
	g.sem.Release(1)

	if runErr != nil {
		_ = r.Error(ctx, pre, runErr)
		return
	}
	_ = r.After(ctx, pre)
}

// RunSequentially processes runners strictly in FIFO order, awaiting each
// before starting the next (spec §4.1).
func (g *Gate) RunSequentially(ctx context.Context, runners []Runner) {
	for _, r := range runners {
		g.Drive(ctx, r)
	}
}

// RunConcurrently drains the queue, launching every runner eagerly; the
// gate itself bounds how many Run bodies execute at once (spec §4.1).
func (g *Gate) RunConcurrently(ctx context.Context, runners []Runner) {
	var wg sync.WaitGroup
	wg.Add(len(runners))
	for _, r := range runners {
		r := r
		go func() {
			defer wg.Done()
			g.Drive(ctx, r)
		}()
	}
	wg.Wait()
}

// CheckAndChangeStatus evaluates whether n or any of its ancestor
// categories is in a terminal non-running state; if so it transitions n to
// skipped and reports true, so the caller can replace run with skipped
// (spec §4.1 "Skipped check").
func CheckAndChangeStatus(n *tree.DynamicNode) bool {
	if tree.IsSkipLike(n.Status) {
		return true
	}
	if tree.AncestorCategories(n) {
		if n.Status == tree.StatusPending {
			_ = tree.Transition(n, tree.StatusPending, tree.StatusSkipped)
		}
		return true
	}
	return false
}

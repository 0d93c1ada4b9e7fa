package orchestrator

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// CaseOutcome is one file's result, produced by RunSuite for the caller
// (typically a reporter) to render.
type CaseOutcome struct {
	Path     string
	Result   *Result
	Err      error
	Duration time.Duration
}

// RunSuite discovers .gctf files under roots, orders them per sort, and
// drives up to parallel of them concurrently with errgroup plus a buffered
// semaphore — each worker runs one file's cooperative state machine through
// runOne and reports its outcome via onResult as soon as it finishes,
// so a streaming reporter can emit events incrementally instead of waiting
// for the whole suite.
func RunSuite(
	ctx context.Context,
	roots []string,
	sortBy string,
	parallel int,
	runOne func(ctx context.Context, path string) (*Result, error),
	onResult func(CaseOutcome),
) error {
	files, err := Discover(roots, sortBy)
	if err != nil {
		return err
	}
	if parallel <= 0 {
		parallel = runtime.NumCPU()
	}

	sem := make(chan struct{}, parallel)
	g, gctx := errgroup.WithContext(ctx)

	for _, f := range files {
		f := f
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			start := time.Now()
			res, err := runOne(gctx, f)
			onResult(CaseOutcome{Path: f, Result: res, Err: err, Duration: time.Since(start)})
			return nil // a single test failure must not cancel the rest of the suite
		})
	}
	return g.Wait()
}

// ExitCode maps suite outcomes to a process exit code (0 all passed, 1 any
// failed or errored), the convention every CLI in the pack follows.
func ExitCode(outcomes []CaseOutcome) int {
	for _, o := range outcomes {
		if o.Err != nil || (o.Result != nil && !o.Result.Passed) {
			return 1
		}
	}
	return 0
}

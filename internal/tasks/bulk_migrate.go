package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/desertthunder/dsx/internal/services"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is how many datasets a batch migrates at once.
const DefaultWorkers = 2

// BatchOpts contains configuration for migrating several datasets.
type BatchOpts struct {
	Workers int     // Concurrent runs (default: 2, max: 8)
	Run     RunOpts // Applied to every run; Detach is implied
}

// BatchItem is the result of one dataset in a batch.
type BatchItem struct {
	Key     string   `json:"key" yaml:"key"`
	Outcome *Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Error   string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// BatchResult summarizes a batch migration. Items keep the order of the requested keys.
type BatchResult struct {
	Items     []BatchItem   `json:"items" yaml:"items"`
	Succeeded int           `json:"succeeded" yaml:"succeeded"`
	Failed    int           `json:"failed" yaml:"failed"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
}

// MigrateBatch runs an independent migration per key with bounded concurrency.
//
// One dataset failing does not stop the others. Publishes are detached so a worker is free for
// the next dataset while the publish delay runs; all of them are awaited before MigrateBatch returns. Only cancellation of ctx is returned as an error.
func (e *Engine) MigrateBatch(
	ctx context.Context,
	source, target services.Catalog,
	keys []string,
	opts BatchOpts,
	progress chan<- ProgressUpdate,
) (*BatchResult, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Workers > 8 {
		opts.Workers = 8
	}
	runOpts := opts.Run
	runOpts.Detach = true

	start := e.now()
	result := &BatchResult{Items: make([]BatchItem, len(keys))}

	var (
		mu        sync.Mutex
		completed int
	)
	report := func(i int, out *Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		result.Items[i] = BatchItem{Key: keys[i], Outcome: out}
		if err != nil {
			result.Items[i].Error = err.Error()
			result.Failed++
			e.sendProgress(progress, batchFailedUpdate(completed, len(keys), keys[i], err))
			return
		}
		result.Succeeded++
		e.sendProgress(progress, batchCompletedUpdate(completed, len(keys), keys[i], out))
	}

	var g errgroup.Group
	g.SetLimit(opts.Workers)

	scheduled := make([]*Outcome, len(keys))
	for i, key := range keys {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				report(i, nil, err)
				return err
			}
			out, err := e.Run(ctx, source, target, key, runOpts, nil)
			if err != nil || out.Pending == nil {
				report(i, out, err)
				return nil
			}
			scheduled[i] = out
			return nil
		})
	}
	err := g.Wait()

	for i, out := range scheduled {
		if out == nil {
			continue
		}
		report(i, out, e.Resolve(ctx, out))
	}

	result.Elapsed = e.now().Sub(start)
	return result, err
}

package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dsx/internal/services"
	"github.com/desertthunder/dsx/internal/shared"
)

const (
	DefaultPublishDelay    = 20 * time.Second
	DefaultPublishAttempts = 3
	defaultPublishBackoff  = 2 * time.Second
)

// Publisher flips a dataset to public after a delay, giving the catalog time to settle
// the resources and tables written just before.
type Publisher struct {
	Delay    time.Duration
	Attempts int
	Backoff  time.Duration
	logger   *log.Logger
}

// NewPublisher creates a Publisher. A non-positive attempts value uses [DefaultPublishAttempts].
func NewPublisher(delay time.Duration, attempts int, logger *log.Logger) *Publisher {
	if attempts <= 0 {
		attempts = DefaultPublishAttempts
	}
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}
	return &Publisher{Delay: delay, Attempts: attempts, Backoff: defaultPublishBackoff, logger: logger}
}

// PendingPublish is a scheduled publish that can be awaited or cancelled.
type PendingPublish struct {
	DatasetID string

	done     chan struct{}
	cancel   context.CancelFunc
	mu       sync.Mutex
	err      error
	attempts int
}

// Schedule starts the delayed publish of datasetID in the background and returns immediately.
//
// Cancelling ctx, or calling [PendingPublish.Cancel], before the patch lands leaves the dataset private.
func (p *Publisher) Schedule(ctx context.Context, target services.Catalog, datasetID string) *PendingPublish {
	ctx, cancel := context.WithCancel(ctx)
	pending := &PendingPublish{DatasetID: datasetID, done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(pending.done)
		defer cancel()
		pending.finish(p.run(ctx, target, pending))
	}()
	return pending
}

func (p *Publisher) run(ctx context.Context, target services.Catalog, pending *PendingPublish) error {
	if err := sleep(ctx, p.Delay); err != nil {
		return fmt.Errorf("%w: %w", shared.ErrPublishCanceled, err)
	}

	payload := map[string]any{"id": pending.DatasetID, "private": false}
	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		pending.mu.Lock()
		pending.attempts = attempt
		pending.mu.Unlock()

		_, last = target.PackagePatch(ctx, payload)
		if last == nil {
			p.logger.Info("dataset published", "id", pending.DatasetID, "attempt", attempt)
			return nil
		}
		p.logger.Warn("publish attempt failed", "id", pending.DatasetID, "attempt", attempt, "error", last)

		if errors.Is(last, shared.ErrNotFound) || ctx.Err() != nil {
			break
		}
		if attempt < p.Attempts {
			if err := sleep(ctx, p.Backoff*time.Duration(attempt)); err != nil {
				return fmt.Errorf("%w: %w", shared.ErrPublishCanceled, err)
			}
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", shared.ErrPublishCanceled, ctx.Err())
	}
	return fmt.Errorf("%w: %s after %d attempt(s): %w", shared.ErrPublishFailed, pending.DatasetID, pending.Attempts(), last)
}

func (pp *PendingPublish) finish(err error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	pp.err = err
}

// Wait blocks until the publish finished or ctx is done. A done ctx cancels the publish.
func (pp *PendingPublish) Wait(ctx context.Context) error {
	select {
	case <-pp.done:
	case <-ctx.Done():
		pp.Cancel()
		<-pp.done
	}
	return pp.Err()
}

// Cancel stops a publish that has not been sent yet.
func (pp *PendingPublish) Cancel() {
	pp.cancel()
}

// Done is closed once the publish finished, failed or was cancelled.
func (pp *PendingPublish) Done() <-chan struct{} {
	return pp.done
}

// Err is the publish result; nil until Done is closed, and nil on success.
func (pp *PendingPublish) Err() error {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.err
}

// Attempts is how many patch requests were sent.
func (pp *PendingPublish) Attempts() int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	return pp.attempts
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/offline-maps/internal/offline"
)

// resourceFunc fetches resource i of a load.
type resourceFunc func(ctx context.Context, i int) error

// startLoad runs a batched load in its own goroutine. Every Step it
// completes up to BatchSize resources and reports progress. finish runs
// once all resources are in place. onDone is called exactly once.
func (b *Backend) startLoad(ctx context.Context, total int, fetch resourceFunc, finish func(context.Context) error, onProgress offline.ProgressFunc, onDone offline.CompletionFunc) offline.Cancelable {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		err := b.runLoad(ctx, total, fetch, finish, onProgress)
		if err != nil && errors.Is(ctx.Err(), context.Canceled) {
			err = fmt.Errorf("%w: %d resources pending", offline.ErrCanceled, total)
		}
		onDone(err)
	}()
	return offline.CancelFunc(cancel)
}

func (b *Backend) runLoad(ctx context.Context, total int, fetch resourceFunc, finish func(context.Context) error, onProgress offline.ProgressFunc) error {
	required := uint64(total)
	onProgress(offline.LoadProgress{RequiredResourceCount: required})

	ticker := time.NewTicker(b.cfg.Step)
	defer ticker.Stop()

	completed := 0
	for completed < total {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		end := min(completed+b.cfg.BatchSize, total)
		for ; completed < end; completed++ {
			if err := fetch(ctx, completed); err != nil {
				return err
			}
		}
		onProgress(offline.LoadProgress{
			CompletedResourceCount: uint64(completed),
			RequiredResourceCount:  required,
		})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return finish(ctx)
}

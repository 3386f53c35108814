package session

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// BatchStart launches a session for every id with at most BatchConcurrency
// launches in flight at once. Per-profile failures never abort the batch;
// the returned map holds one entry per id, nil on success.
func (o *Orchestrator) BatchStart(ctx context.Context, profileIDs []string) map[string]error {
	return o.BatchStartWithLimit(ctx, profileIDs, o.opts.BatchConcurrency)
}

// BatchStartWithLimit is BatchStart with a per-call parallelism cap instead
// of the configured default.
func (o *Orchestrator) BatchStartWithLimit(ctx context.Context, profileIDs []string, limit int) map[string]error {
	if limit <= 0 {
		limit = o.opts.BatchConcurrency
	}

	results := make(map[string]error, len(profileIDs))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(limit)
	for _, id := range profileIDs {
		g.Go(func() error {
			_, err := o.Launch(ctx, id)
			mu.Lock()
			results[id] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// BatchStop stops every id's session in parallel. Ids with no live session
// are no-ops. It returns the first error encountered, if any; individual
// stop timeouts do not abort the rest of the batch.
func (o *Orchestrator) BatchStop(profileIDs []string) error {
	var (
		mu    sync.Mutex
		first error
	)

	var g errgroup.Group
	g.SetLimit(o.opts.BatchConcurrency)
	for _, id := range profileIDs {
		g.Go(func() error {
			if err := o.Stop(id); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
				o.log.Warnf("batch stop for %s: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return first
}

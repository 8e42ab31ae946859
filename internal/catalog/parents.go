package catalog

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ResolveParents looks up the lineage parent of every file, using up to
// workers concurrent lookups, and returns parents in the order of files.
// progress, when non-nil, is called with the running count of finished
// lookups. The first lookup error cancels the rest and is returned.
func ResolveParents(ctx context.Context, c Catalog, files []string, workers int, progress func(done int)) ([]string, error) {
	if workers < 1 {
		workers = 1
	}
	parents := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var done atomic.Int64
	for i, f := range files {
		g.Go(func() error {
			p, err := c.Parent(gctx, f)
			if err != nil {
				return err
			}
			parents[i] = p
			n := done.Add(1)
			if progress != nil {
				progress(int(n))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parents, nil
}

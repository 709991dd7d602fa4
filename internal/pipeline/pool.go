package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/sunzc-sunny/RDAnnotator/internal/stage"
)

// forEach runs fn once per item with at most workers items in flight. Work
// is partitioned by item, so no two goroutines ever touch the same ledger
// key. fn handles its own failures; forEach only stops early when ctx is
// cancelled, in which case items not yet started are skipped.
func forEach(ctx context.Context, workers int, items []stage.Item, fn func(ctx context.Context, item stage.Item)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, item)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

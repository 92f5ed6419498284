package commission

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Batch runs ProcessPeriod for many collectors with bounded parallelism.
// Each collector is isolated: one failing does not stop the others.
type Batch struct {
	Orchestrator *Orchestrator
	Workers      int
}

// BatchItem is the outcome for one collector.
type BatchItem struct {
	CollectorID string
	Result      *Result
	Err         error
}

// Run returns one item per collector id, in input order.
func (b *Batch) Run(ctx context.Context, collectorIDs []string, p Period, force bool) []BatchItem {
	items := make([]BatchItem, len(collectorIDs))

	workers := b.Workers
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i, id := range collectorIDs {
		i, id := i, id
		g.Go(func() error {
			items[i].CollectorID = id
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			res, err := b.Orchestrator.ProcessPeriod(ctx, PeriodRequest{CollectorID: id, Period: p, Force: force})
			items[i].Result = res
			items[i].Err = err
			if err != nil {
				b.Orchestrator.logger().Error("collector commission run failed", "collector", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return items
}

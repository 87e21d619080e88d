package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"

	"github.com/aaronlmathis/noderes/internal/metrics"
	"github.com/aaronlmathis/noderes/internal/report"
)

// CollectAll runs Collect for every node in the snapshot on a pool of at most
// Options.Concurrency workers. The returned channel holds exactly one record
// per node and is closed; it is only returned once every worker has finished.
func (c *Collector) CollectAll(ctx context.Context, snap *Snapshot) <-chan report.NodeRecord {
	start := time.Now()
	records := make(chan report.NodeRecord, len(snap.Nodes))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for i := range snap.Nodes {
		node := &snap.Nodes[i]
		g.Go(func() error {
			records <- c.collectSafely(ctx, node, snap)
			return nil
		})
	}

	_ = g.Wait()
	close(records)

	c.logger.Debug("Collected node records",
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("concurrency", c.opts.Concurrency),
		zap.Duration("duration", time.Since(start)),
	)
	return records
}

// collectSafely isolates a worker so one node's bad data cannot take down the cycle
func (c *Collector) collectSafely(ctx context.Context, node *corev1.Node, snap *Snapshot) (record report.NodeRecord) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Node collection panicked",
				zap.String("node", node.Name),
				zap.Error(fmt.Errorf("%v", r)),
			)
			metrics.RecordDegradedNode()
			record = report.UnknownRecord(node.Name)
		}
	}()
	return c.Collect(ctx, node, snap)
}

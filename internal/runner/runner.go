package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"

	"github.com/aaronlmathis/noderes/internal/aggregator"
	"github.com/aaronlmathis/noderes/internal/collector"
	kubemetrics "github.com/aaronlmathis/noderes/internal/kube/metrics"
	"github.com/aaronlmathis/noderes/internal/metrics"
	"github.com/aaronlmathis/noderes/internal/presenter"
	"github.com/aaronlmathis/noderes/internal/report"
)

// ErrMetricsUnavailable is returned when the cluster does not serve metrics.k8s.io
var ErrMetricsUnavailable = errors.New("metrics API (metrics.k8s.io) is not available; install metrics-server")

// clearScreen moves the cursor home and clears the terminal
const clearScreen = "\033[H\033[2J"

// Cluster is the batch view of the cluster plus the per-node source used by workers
type Cluster interface {
	collector.Source
	HasMetricsAPI(ctx context.Context) bool
	ListNodes(ctx context.Context, filter kubemetrics.NodeFilter) ([]corev1.Node, error)
	UsageSnapshot(ctx context.Context) (map[string]kubemetrics.NodeUsage, error)
}

// Publisher receives every completed report
type Publisher interface {
	Publish(r *report.Report)
}

// Options configures the cycle runner
type Options struct {
	NodeFilter      kubemetrics.NodeFilter
	Sort            aggregator.Options
	RefreshInterval time.Duration
	// OutputFile, when set, receives each report atomically instead of the writer
	OutputFile string
}

// Runner executes collection cycles and renders their reports
type Runner struct {
	logger     *zap.Logger
	cluster    Cluster
	collector  *collector.Collector
	presenter  *presenter.Presenter
	out        io.Writer
	opts       Options
	publishers []Publisher
}

// New creates a runner
func New(
	logger *zap.Logger,
	cluster Cluster,
	coll *collector.Collector,
	pres *presenter.Presenter,
	out io.Writer,
	opts Options,
	publishers ...Publisher,
) *Runner {
	return &Runner{
		logger:     logger,
		cluster:    cluster,
		collector:  coll,
		presenter:  pres,
		out:        out,
		opts:       opts,
		publishers: publishers,
	}
}

// Preflight verifies the usage source before the first cycle
func (r *Runner) Preflight(ctx context.Context) error {
	if !r.cluster.HasMetricsAPI(ctx) {
		return ErrMetricsUnavailable
	}
	return nil
}

// Cycle runs one full collection: batch prefetch, the per-node worker pool and
// aggregation. A batch query failure aborts the cycle; per-node failures only
// degrade the affected records.
func (r *Runner) Cycle(ctx context.Context) (*report.Report, error) {
	start := time.Now()

	nodes, err := r.cluster.ListNodes(ctx, r.opts.NodeFilter)
	if err != nil {
		metrics.RecordCycleError()
		return nil, err
	}

	usage, err := r.cluster.UsageSnapshot(ctx)
	if err != nil {
		metrics.RecordCycleError()
		return nil, err
	}

	records := r.collector.CollectAll(ctx, &collector.Snapshot{Nodes: nodes, Usage: usage})
	result := aggregator.Aggregate(records, r.opts.Sort)

	duration := time.Since(start)
	metrics.RecordCycle(duration, result.Totals.NodeCount, result.Totals.CPURequested, result.Totals.MemRequested)
	r.logger.Info("Collection cycle complete",
		zap.Int("nodes", result.Totals.NodeCount),
		zap.Int("usageSamples", len(usage)),
		zap.Duration("duration", duration),
	)

	for _, p := range r.publishers {
		p.Publish(result)
	}
	return result, nil
}

// Run performs the preflight check and then one cycle, or keeps refreshing
// every RefreshInterval until ctx is cancelled. In watch mode a failed cycle
// is logged and retried on the next tick.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.Preflight(ctx); err != nil {
		return err
	}

	watch := r.opts.RefreshInterval > 0
	for {
		result, err := r.Cycle(ctx)
		switch {
		case err != nil && !watch:
			return fmt.Errorf("collection cycle failed: %w", err)
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Error("Collection cycle failed", zap.Error(err))
		default:
			if err := r.emit(result, watch); err != nil {
				return err
			}
		}

		if !watch {
			return nil
		}

		select {
		case <-ctx.Done():
			r.logger.Debug("Refresh loop stopped")
			return nil
		case <-time.After(r.opts.RefreshInterval):
		}
	}
}

func (r *Runner) emit(result *report.Report, watch bool) error {
	if r.opts.OutputFile != "" {
		if err := WriteFileAtomic(r.opts.OutputFile, func(w io.Writer) error {
			return r.presenter.Render(w, result)
		}); err != nil {
			return fmt.Errorf("failed to write report to %s: %w", r.opts.OutputFile, err)
		}
		r.logger.Debug("Report written", zap.String("path", r.opts.OutputFile))
		return nil
	}

	if watch && r.presenter.Format() == presenter.FormatTable {
		if _, err := io.WriteString(r.out, clearScreen); err != nil {
			return err
		}
	}
	return r.presenter.Render(r.out, result)
}

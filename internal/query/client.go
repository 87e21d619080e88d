package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/aaronlmathis/noderes/internal/metrics"
)

// Kind separates queries whose failure aborts a cycle from those that only
// degrade a single node.
type Kind int

const (
	// Batch queries (node list, usage snapshot) are fatal to the cycle on failure
	Batch Kind = iota
	// PerNode queries degrade the affected node to zeroed fields on failure
	PerNode
)

func (k Kind) String() string {
	if k == Batch {
		return "batch"
	}
	return "per-node"
}

var (
	// ErrBatchFailed wraps the last error of a batch query that exhausted its retries
	ErrBatchFailed = errors.New("batch query failed")
	// ErrNodeQueryFailed wraps the last error of a per-node query that exhausted its retries
	ErrNodeQueryFailed = errors.New("per-node query failed")
)

// Operation names a query and how its failures are reported
type Operation struct {
	Name string
	Kind Kind
	// Quiet suppresses retry warnings and the final failure log. Used for
	// per-node queries that are expected to fail on some clusters.
	Quiet bool
}

// Options configures retry and client-side rate limiting
type Options struct {
	Attempts       int
	InitialBackoff time.Duration
	Factor         float64
	QPS            float64
	Burst          int
}

// DefaultOptions returns three attempts with a 2s backoff doubling each time
func DefaultOptions() Options {
	return Options{
		Attempts:       3,
		InitialBackoff: 2 * time.Second,
		Factor:         2.0,
		QPS:            20,
		Burst:          40,
	}
}

// Client issues read-only cluster queries with bounded retry and backoff
type Client struct {
	logger  *zap.Logger
	opts    Options
	limiter *rate.Limiter
}

// NewClient creates a new query client
func NewClient(logger *zap.Logger, opts Options) *Client {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Factor < 1 {
		opts.Factor = 1
	}

	c := &Client{
		logger: logger,
		opts:   opts,
	}
	if opts.QPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.QPS), burst)
	}
	return c
}

// Do runs fn until it succeeds, returns a non-retriable error, or the attempts
// are exhausted. The returned error wraps ErrBatchFailed or ErrNodeQueryFailed
// depending on the operation's kind.
func (c *Client) Do(ctx context.Context, op Operation, fn func(ctx context.Context) error) error {
	start := time.Now()
	backoff := wait.Backoff{
		Duration: c.opts.InitialBackoff,
		Factor:   c.opts.Factor,
		Steps:    c.opts.Attempts,
	}

	attempt := 0
	var lastErr error
	err := wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return false, err
			}
		}

		err := fn(ctx)
		metrics.RecordQueryAttempt(op.Name, op.Kind.String(), err)
		if err == nil {
			return true, nil
		}
		lastErr = err
		if !Retriable(err) {
			return false, err
		}
		if attempt < c.opts.Attempts {
			metrics.RecordQueryRetry(op.Name)
			c.logRetry(op, attempt, err)
		}
		return false, nil
	})

	if err != nil && wait.Interrupted(err) && ctx.Err() == nil && lastErr != nil {
		err = lastErr
	}
	metrics.RecordQuery(op.Name, op.Kind.String(), err, time.Since(start))

	if err == nil {
		return nil
	}
	return c.fail(op, attempt, err)
}

func (c *Client) logRetry(op Operation, attempt int, err error) {
	if op.Quiet {
		c.logger.Debug("Retrying query",
			zap.String("operation", op.Name),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return
	}
	c.logger.Warn("Query failed, retrying",
		zap.String("operation", op.Name),
		zap.String("kind", op.Kind.String()),
		zap.Int("attempt", attempt),
		zap.Int("maxAttempts", c.opts.Attempts),
		zap.Error(err))
}

func (c *Client) fail(op Operation, attempts int, err error) error {
	if op.Kind == Batch {
		c.logger.Error("Batch query failed",
			zap.String("operation", op.Name),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return fmt.Errorf("%w: %s: %w", ErrBatchFailed, op.Name, err)
	}

	if op.Quiet {
		c.logger.Debug("Per-node query failed",
			zap.String("operation", op.Name),
			zap.Int("attempts", attempts),
			zap.Error(err))
	} else {
		c.logger.Warn("Per-node query failed",
			zap.String("operation", op.Name),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
	return fmt.Errorf("%w: %s: %w", ErrNodeQueryFailed, op.Name, err)
}

// Retriable reports whether a failed query is worth repeating. Missing
// objects, authorization failures and cancellation are not.
func Retriable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case apierrors.IsNotFound(err), apierrors.IsForbidden(err), apierrors.IsUnauthorized(err),
		apierrors.IsBadRequest(err), apierrors.IsMethodNotSupported(err):
		return false
	default:
		return true
	}
}

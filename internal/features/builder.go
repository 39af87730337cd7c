package features

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"txn-anomaly-lab/internal/domain"
	"txn-anomaly-lab/internal/ingestion"
)

// OrderingPolicy decides what happens when an account's transactions do not
// arrive in time order.
type OrderingPolicy string

// Ordering policies
const (
	// OrderingSort stable-sorts each account timeline before the scan.
	OrderingSort OrderingPolicy = "sort"
	// OrderingStrict rejects input whose account timelines are out of order.
	OrderingStrict OrderingPolicy = "strict"
)

// ErrUnorderedInput is wrapped in the MalformedInputError returned under
// OrderingStrict when an account's transactions arrive out of time order.
var ErrUnorderedInput = errors.New("account transactions are not in time order")

// ErrInvalidWindow is returned by Build when the configured window is negative.
var ErrInvalidWindow = errors.New("feature window must be positive")

// BuildStats summarises a Build call.
type BuildStats struct {
	Transactions      int
	Accounts          int
	ReorderedAccounts int
}

// Builder computes per-account temporal features for a transaction log.
type Builder struct {
	window   time.Duration
	workers  int
	ordering OrderingPolicy
}

// Options for creating Builder.
type Options struct {
	Window   time.Duration  // trailing window for the tx count (zero means 5m)
	Workers  int            // parallel account scans (default GOMAXPROCS)
	Ordering OrderingPolicy // default OrderingSort
}

// NewBuilder creates a new feature builder.
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		window:   opts.Window,
		workers:  opts.Workers,
		ordering: opts.Ordering,
	}
	if b.window == 0 {
		b.window = DefaultWindow
	}
	if b.workers <= 0 {
		b.workers = runtime.GOMAXPROCS(0)
	}
	if b.ordering == "" {
		b.ordering = OrderingSort
	}
	return b
}

// Build returns one feature vector per record, in input order.
// Timelines are built once, scanned in parallel (accounts share no state)
// and discarded; results are stitched back by input index.
func (b *Builder) Build(ctx context.Context, records []*domain.TransactionRecord) ([]*domain.FeatureVector, *BuildStats, error) {
	stats := &BuildStats{Transactions: len(records)}
	if b.window < 0 {
		return nil, stats, fmt.Errorf("%w: %v", ErrInvalidWindow, b.window)
	}
	if len(records) == 0 {
		return nil, stats, nil
	}

	timelines := BuildTimelines(records)
	stats.Accounts = len(timelines)

	var firstUnordered *AccountTimeline
	for _, tl := range timelines {
		if !tl.Reordered {
			continue
		}
		stats.ReorderedAccounts++
		if firstUnordered == nil || tl.Backstep < firstUnordered.Backstep {
			firstUnordered = tl
		}
	}
	if b.ordering == OrderingStrict && firstUnordered != nil {
		return nil, stats, &ingestion.MalformedInputError{
			Row:   firstUnordered.Backstep + 1,
			Field: "timestamp",
			Value: records[firstUnordered.Backstep].Timestamp.Format(time.RFC3339Nano),
			Err:   fmt.Errorf("%w: account %s", ErrUnorderedInput, firstUnordered.AccountID),
		}
	}

	result := make([]*domain.FeatureVector, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)

	for _, tl := range timelines {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vectors := ComputeTimelineFeatures(tl, b.window)
			// Each input index belongs to exactly one timeline, so the
			// writes below never overlap between goroutines.
			for i, e := range tl.Entries {
				result[e.Index] = vectors[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	return result, stats, nil
}

// Window returns the configured trailing window.
func (b *Builder) Window() time.Duration {
	return b.window
}

// Package scheduler drives the periodic side of the AMM core: opening a
// pool for a newly-due bucket and resolving/settling one that has closed.
// The core's only contract with an external finance scheduler is two
// calls, ensure_pool_initialized at bucket open and
// resolve_and_settle_market at bucket close. This package implements a
// minimal ticker loop against that contract; the bucket source itself
// (polling an external price feed, deciding when a bucket is due) is out
// of scope and stands in here as the BucketSource interface.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"ammcore/internal/poolsetup"
	"ammcore/internal/settlement"
)

// Bucket describes one scheduled market (or exclusive event) the
// scheduler is responsible for opening and closing.
type Bucket struct {
	// MarketID is set for a standalone market bucket; EventID for an
	// exclusive-event bucket. Exactly one is non-nil.
	MarketID *uuid.UUID
	EventID  *uuid.UUID

	Params poolsetup.ParamsInput

	// WinningOptionID is read at close time; a bucket with a nil value
	// here is not yet resolvable and is skipped until the next poll.
	WinningOptionID *uuid.UUID
}

// BucketSource supplies the buckets due to open or close on this poll.
// Implementations own whatever external state (price feed, clock, config)
// decides bucket timing; the scheduler only acts on what comes back.
type BucketSource interface {
	DueToOpen(ctx context.Context, now time.Time) ([]Bucket, error)
	DueToClose(ctx context.Context, now time.Time) ([]Bucket, error)
}

// NoopSource is a BucketSource that never has anything due. It lets
// cmd/ammd wire a Scheduler before a real price-feed-backed BucketSource
// exists, matching cache.Noop's role as a zero-value stand-in for an
// out-of-scope collaborator.
type NoopSource struct{}

func (NoopSource) DueToOpen(ctx context.Context, now time.Time) ([]Bucket, error)  { return nil, nil }
func (NoopSource) DueToClose(ctx context.Context, now time.Time) ([]Bucket, error) { return nil, nil }

// Scheduler polls a BucketSource and drives poolsetup/settlement for each
// due bucket.
type Scheduler struct {
	source      BucketSource
	poolsetup   *poolsetup.Engine
	settlement  *settlement.Engine
	logger      *slog.Logger
	pollInterval time.Duration
	sem         *semaphore.Weighted
	sf          singleflight.Group

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a scheduler. concurrency bounds how many bucket closes are
// settled at once; it has no effect on bucket opens, which are cheap and
// run sequentially.
func New(source BucketSource, ps *poolsetup.Engine, se *settlement.Engine, pollInterval time.Duration, concurrency int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Scheduler{
		source:       source,
		poolsetup:    ps,
		settlement:   se,
		logger:       logger.With("component", "scheduler"),
		pollInterval: pollInterval,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		now:          time.Now,
	}
}

// Start launches the poll loop in a background goroutine.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

// Stop cancels the poll loop and waits for any in-flight poll to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll(s.ctx)
		}
	}
}

// poll opens every due bucket and settles every closeable one. Errors are
// logged and skipped rather than aborting the rest of the batch -- one
// bad bucket must not block the others from opening or settling on
// schedule.
func (s *Scheduler) poll(ctx context.Context) {
	now := s.now()

	opens, err := s.source.DueToOpen(ctx, now)
	if err != nil {
		s.logger.Error("bucket source: due to open", "error", err)
	}
	for _, b := range opens {
		s.openBucket(ctx, b)
	}

	closes, err := s.source.DueToClose(ctx, now)
	if err != nil {
		s.logger.Error("bucket source: due to close", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, b := range closes {
		b := b
		if b.WinningOptionID == nil {
			s.logger.Warn("bucket due to close has no winning option yet, skipping", "bucket", bucketKey(b))
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.logger.Error("settle semaphore acquire", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.sem.Release(1)
			s.closeBucket(ctx, b)
		}()
	}
	wg.Wait()
}

// openBucket calls ensure_pool_initialized for one bucket, collapsing
// duplicate concurrent calls for the same bucket onto a single in-flight
// call via singleflight -- mirroring the idempotent create-or-fetch
// pattern ensure_pool_initialized already guarantees at the storage layer,
// one level up, so a slow poll doesn't pile up redundant calls.
func (s *Scheduler) openBucket(ctx context.Context, b Bucket) {
	key := bucketKey(b)
	_, err, _ := s.sf.Do(key, func() (any, error) {
		if b.MarketID != nil {
			return s.poolsetup.EnsurePoolInitializedForMarket(ctx, *b.MarketID, b.Params, nil)
		}
		return s.poolsetup.EnsurePoolInitializedForEvent(ctx, *b.EventID, b.Params, nil)
	})
	if err != nil {
		s.logger.Error("ensure pool initialized failed", "bucket", key, "error", err)
		return
	}
	s.logger.Info("bucket opened", "bucket", key)
}

// closeBucket calls resolve_and_settle_market for one market bucket.
// resolve_and_settle_market is scoped to a single market id, so a bucket
// without a MarketID (an event bucket) is logged as an error and skipped:
// the scheduler does not settle an event's markets. Event-status cascading
// is left to settlement's own event-status logic.
func (s *Scheduler) closeBucket(ctx context.Context, b Bucket) {
	if b.MarketID == nil {
		s.logger.Error("event bucket close requires a market id, skipping", "bucket", bucketKey(b))
		return
	}
	key := bucketKey(b)
	_, summary, err := s.settlement.ResolveAndSettleMarket(ctx, *b.MarketID, b.WinningOptionID, nil)
	if err != nil {
		s.logger.Error("resolve and settle failed", "bucket", key, "error", err)
		return
	}
	s.logger.Info("bucket settled", "bucket", key, "wallets_paid", summary.WalletsPaid, "wallets_partial", summary.WalletsPartial)
}

func bucketKey(b Bucket) string {
	if b.MarketID != nil {
		return "market:" + b.MarketID.String()
	}
	if b.EventID != nil {
		return "event:" + b.EventID.String()
	}
	return "unknown"
}

package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ammcore/internal/ledger"
	"ammcore/internal/poolsetup"
	"ammcore/internal/settlement"
	"ammcore/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeSource hands back its fixed open list on the first DueToOpen call and
// its fixed close list on the first DueToClose call; later calls return
// nothing.
type fakeSource struct {
	mu      sync.Mutex
	opens   []Bucket
	opened  bool
	closes  []Bucket
	closed  bool
}

func (f *fakeSource) DueToOpen(ctx context.Context, now time.Time) ([]Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened {
		return nil, nil
	}
	f.opened = true
	return f.opens, nil
}

func (f *fakeSource) DueToClose(ctx context.Context, now time.Time) ([]Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, nil
	}
	f.closed = true
	return f.closes, nil
}

func seedActiveMarket(t *testing.T, store *ledger.Store) (uuid.UUID, uuid.UUID) {
	t.Helper()
	now := time.Now().UTC()
	marketID := uuid.New()
	optionID := uuid.New()

	tx, err := store.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.CreateMarket(&types.Market{
		ID: marketID, Slug: marketID.String(), Title: "Scheduled Market", Status: types.MarketStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.CreateMarketOption(&types.MarketOption{
		ID: optionID, MarketID: marketID, OptionIndex: 0, Side: types.OptionSideYes,
		Label: "Yes", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.Commit())
	return marketID, optionID
}

func TestSchedulerOpensBucket(t *testing.T) {
	store := openStore(t)
	marketID, _ := seedActiveMarket(t, store)

	ps := poolsetup.New(store, testLogger())
	se := settlement.New(store, testLogger())
	source := &fakeSource{opens: []Bucket{{MarketID: &marketID}}}

	sched := New(source, ps, se, 10*time.Millisecond, 2, testLogger())
	sched.poll(context.Background())

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	pool, err := tx.GetPoolByMarket(marketID)
	require.NoError(t, err)
	require.NotNil(t, pool)
}

func TestSchedulerClosesBucket(t *testing.T) {
	store := openStore(t)
	marketID, optionID := seedActiveMarket(t, store)

	ps := poolsetup.New(store, testLogger())
	se := settlement.New(store, testLogger())

	_, err := ps.EnsurePoolInitializedForMarket(context.Background(), marketID, poolsetup.ParamsInput{}, nil)
	require.NoError(t, err)

	source := &fakeSource{closes: []Bucket{{MarketID: &marketID, WinningOptionID: &optionID}}}
	sched := New(source, ps, se, 10*time.Millisecond, 2, testLogger())
	sched.poll(context.Background())

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	market, err := tx.GetMarket(marketID)
	require.NoError(t, err)
	require.Equal(t, types.MarketStatusResolved, market.Status)
}

func TestSchedulerSkipsCloseWithoutWinningOption(t *testing.T) {
	store := openStore(t)
	marketID, _ := seedActiveMarket(t, store)

	ps := poolsetup.New(store, testLogger())
	se := settlement.New(store, testLogger())
	_, err := ps.EnsurePoolInitializedForMarket(context.Background(), marketID, poolsetup.ParamsInput{}, nil)
	require.NoError(t, err)

	source := &fakeSource{closes: []Bucket{{MarketID: &marketID}}}
	sched := New(source, ps, se, 10*time.Millisecond, 2, testLogger())
	sched.poll(context.Background())

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	market, err := tx.GetMarket(marketID)
	require.NoError(t, err)
	require.Equal(t, types.MarketStatusActive, market.Status)
}

func TestSchedulerStartStop(t *testing.T) {
	store := openStore(t)
	ps := poolsetup.New(store, testLogger())
	se := settlement.New(store, testLogger())
	source := &fakeSource{}

	sched := New(source, ps, se, 5*time.Millisecond, 1, testLogger())
	sched.Start()
	time.Sleep(20 * time.Millisecond)
	sched.Stop()
}

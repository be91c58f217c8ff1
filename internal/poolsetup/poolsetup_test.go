package poolsetup

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammcore/internal/ledger"
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

func TestComputeBFromFunding(t *testing.T) {
	b, err := ComputeBFromFunding(decimal.RequireFromString("1000"), 2)
	require.NoError(t, err)
	// F / ln(2) ~= 1000 / 0.6931471805599453 ~= 1442.69504...
	assert.True(t, b.GreaterThan(decimal.RequireFromString("1442.6")))
	assert.True(t, b.LessThan(decimal.RequireFromString("1442.7")))
}

func TestComputeBFromFundingRejectsBadInput(t *testing.T) {
	_, err := ComputeBFromFunding(decimal.Zero, 2)
	assert.Error(t, err)

	_, err = ComputeBFromFunding(decimal.RequireFromString("100"), 1)
	assert.Error(t, err)
}

func TestNormalizeAmmParamsDefaults(t *testing.T) {
	p, err := NormalizeAmmParams(ParamsInput{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.Model)
	assert.True(t, p.B.Equal(DefaultB))
	assert.Equal(t, DefaultFeeBps, p.FeeBps)
	assert.Equal(t, DefaultCollateralToken, p.CollateralToken)
	assert.True(t, p.CollateralAmount.IsZero())
}

func TestNormalizeAmmParamsAutoComputesBFromFunding(t *testing.T) {
	funding := decimal.RequireFromString("1000")
	n := 2
	p, err := NormalizeAmmParams(ParamsInput{InitialFundingAmount: &funding}, &n)
	require.NoError(t, err)
	expected, err := ComputeBFromFunding(funding, 2)
	require.NoError(t, err)
	assert.True(t, p.B.Equal(expected))
	assert.True(t, p.CollateralAmount.Equal(funding))
}

func TestNormalizeAmmParamsRejectsBadFeeBps(t *testing.T) {
	bad := 10001
	_, err := NormalizeAmmParams(ParamsInput{FeeBps: &bad}, nil)
	assert.Error(t, err)
}

func TestNormalizeAmmParamsRejectsBadModel(t *testing.T) {
	bad := "cfmm"
	_, err := NormalizeAmmParams(ParamsInput{Model: &bad}, nil)
	assert.Error(t, err)
}

func seedStandaloneMarket(t *testing.T, store *ledger.Store, numOptions int) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	marketID := uuid.New()

	tx, err := store.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.CreateMarket(&types.Market{
		ID: marketID, Slug: "seeded-market", Title: "Seeded Market", Status: types.MarketStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}))
	for i := 0; i < numOptions; i++ {
		side := types.OptionSideYes
		if i > 0 {
			side = types.OptionSideNo
		}
		require.NoError(t, tx.CreateMarketOption(&types.MarketOption{
			ID: uuid.New(), MarketID: marketID, OptionIndex: i, Side: side,
			Label: "Option", IsActive: true, CreatedAt: now, UpdatedAt: now,
		}))
	}
	require.NoError(t, tx.Commit())
	return marketID
}

func TestEnsurePoolInitializedForMarketCreatesPoolAndStates(t *testing.T) {
	store := openStore(t)
	marketID := seedStandaloneMarket(t, store, 2)
	eng := New(store, testLogger())

	pool, err := eng.EnsurePoolInitializedForMarket(context.Background(), marketID, ParamsInput{}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, pool.ID)
	assert.Equal(t, marketID, *pool.MarketID)
	assert.True(t, pool.B.Equal(DefaultB))

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	states, err := tx.ListOptionStatesByPool(pool.ID)
	require.NoError(t, err)
	assert.Len(t, states, 2)
	for _, s := range states {
		assert.True(t, s.Q.IsZero())
	}
}

func TestEnsurePoolInitializedForMarketIsIdempotent(t *testing.T) {
	store := openStore(t)
	marketID := seedStandaloneMarket(t, store, 2)
	eng := New(store, testLogger())

	first, err := eng.EnsurePoolInitializedForMarket(context.Background(), marketID, ParamsInput{}, nil)
	require.NoError(t, err)

	second, err := eng.EnsurePoolInitializedForMarket(context.Background(), marketID, ParamsInput{}, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	states, err := tx.ListOptionStatesByPool(first.ID)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

func TestEnsurePoolInitializedForMarketComputesBFromFunding(t *testing.T) {
	store := openStore(t)
	marketID := seedStandaloneMarket(t, store, 2)
	eng := New(store, testLogger())

	funding := decimal.RequireFromString("2000")
	pool, err := eng.EnsurePoolInitializedForMarket(context.Background(), marketID, ParamsInput{InitialFundingAmount: &funding}, nil)
	require.NoError(t, err)
	expected, err := ComputeBFromFunding(funding, 2)
	require.NoError(t, err)
	assert.True(t, pool.B.Equal(expected))
	assert.True(t, pool.CollateralAmount.Equal(funding))
}

func seedExclusiveEvent(t *testing.T, store *ledger.Store, numMarkets int, omitYesOnFirst bool) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	eventID := uuid.New()

	tx, err := store.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.CreateEvent(&types.Event{
		ID: eventID, Slug: "seeded-event", Title: "Seeded Event", Status: types.EventStatusActive,
		GroupRule: types.GroupRuleExclusive, CreatedAt: now, UpdatedAt: now,
	}))
	for m := 0; m < numMarkets; m++ {
		marketID := uuid.New()
		require.NoError(t, tx.CreateMarket(&types.Market{
			ID: marketID, EventID: &eventID, Slug: marketID.String(), Title: "Market", Status: types.MarketStatusActive,
			SortWeight: m, CreatedAt: now, UpdatedAt: now,
		}))
		yesSide := types.OptionSideYes
		if omitYesOnFirst && m == 0 {
			yesSide = types.OptionSideNo
		}
		require.NoError(t, tx.CreateMarketOption(&types.MarketOption{
			ID: uuid.New(), MarketID: marketID, OptionIndex: 0, Side: yesSide,
			Label: "Yes", IsActive: true, CreatedAt: now, UpdatedAt: now,
		}))
		require.NoError(t, tx.CreateMarketOption(&types.MarketOption{
			ID: uuid.New(), MarketID: marketID, OptionIndex: 1, Side: types.OptionSideNo,
			Label: "No", IsActive: true, CreatedAt: now, UpdatedAt: now,
		}))
	}
	require.NoError(t, tx.Commit())
	return eventID
}

func TestEnsurePoolInitializedForEventTracksOneOptionPerMarket(t *testing.T) {
	store := openStore(t)
	eventID := seedExclusiveEvent(t, store, 3, false)
	eng := New(store, testLogger())

	pool, err := eng.EnsurePoolInitializedForEvent(context.Background(), eventID, ParamsInput{}, nil)
	require.NoError(t, err)
	assert.Equal(t, eventID, *pool.EventID)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	states, err := tx.ListOptionStatesByPool(pool.ID)
	require.NoError(t, err)
	assert.Len(t, states, 3)
}

func TestEnsurePoolInitializedForEventRejectsNonExclusive(t *testing.T) {
	store := openStore(t)
	now := time.Now().UTC()
	eventID := uuid.New()
	tx, err := store.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.CreateEvent(&types.Event{
		ID: eventID, Slug: "independent-event", Title: "Independent Event", Status: types.EventStatusActive,
		GroupRule: types.GroupRuleIndependent, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.Commit())

	eng := New(store, testLogger())
	_, err = eng.EnsurePoolInitializedForEvent(context.Background(), eventID, ParamsInput{}, nil)
	assert.Error(t, err)
}

func TestEnsurePoolInitializedForEventFallsBackWhenNoYesOption(t *testing.T) {
	store := openStore(t)
	eventID := seedExclusiveEvent(t, store, 2, true)
	eng := New(store, testLogger())

	pool, err := eng.EnsurePoolInitializedForEvent(context.Background(), eventID, ParamsInput{}, nil)
	require.NoError(t, err)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	states, err := tx.ListOptionStatesByPool(pool.ID)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}

package settlement

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

// fixture is a two-option standalone market with a funded pool and two
// wallets holding winning-option positions.
type fixture struct {
	marketID   uuid.UUID
	yesOption  uuid.UUID
	noOption   uuid.UUID
	poolID     uuid.UUID
	walletA    uuid.UUID
	walletB    uuid.UUID
}

func seedMarket(t *testing.T, store *ledger.Store, poolCash string) *fixture {
	t.Helper()
	now := time.Now().UTC()
	f := &fixture{
		marketID:  uuid.New(),
		yesOption: uuid.New(),
		noOption:  uuid.New(),
		poolID:    uuid.New(),
		walletA:   uuid.New(),
		walletB:   uuid.New(),
	}

	tx, err := store.BeginWrite(context.Background())
	require.NoError(t, err)

	require.NoError(t, tx.CreateMarket(&types.Market{
		ID: f.marketID, Slug: f.marketID.String(), Title: "Market", Status: types.MarketStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.CreateMarketOption(&types.MarketOption{
		ID: f.yesOption, MarketID: f.marketID, OptionIndex: 0, Side: types.OptionSideYes,
		Label: "Yes", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.CreateMarketOption(&types.MarketOption{
		ID: f.noOption, MarketID: f.marketID, OptionIndex: 1, Side: types.OptionSideNo,
		Label: "No", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.CreatePool(&types.AmmPool{
		ID: f.poolID, MarketID: &f.marketID, Model: "lmsr", Status: types.PoolStatusActive,
		B: decimal.RequireFromString("100"), FeeBps: 0, CollateralToken: "USDC",
		FundingAmount: decimal.RequireFromString(poolCash), CollectedFee: decimal.Zero,
		CollateralAmount: decimal.Zero, PoolCash: decimal.RequireFromString(poolCash),
		CreatedAt: now, UpdatedAt: now,
	}))

	for _, w := range []uuid.UUID{f.walletA, f.walletB} {
		user := uuid.New()
		require.NoError(t, tx.CreateUser(&types.User{ID: user, Username: w.String(), CreatedAt: now}))
		require.NoError(t, tx.CreateWallet(&types.Wallet{
			ID: w, UserID: user, Address: w.String(), Kind: types.WalletKindWeb2Virtual, IsPrimary: true, CreatedAt: now,
		}))
	}

	require.NoError(t, tx.UpsertPosition(&types.Position{
		ID: uuid.New(), WalletID: f.walletA, OptionID: f.yesOption,
		Shares: decimal.RequireFromString("40"), CostBasis: decimal.RequireFromString("20"), UpdatedAt: now,
	}))
	require.NoError(t, tx.UpsertPosition(&types.Position{
		ID: uuid.New(), WalletID: f.walletB, OptionID: f.yesOption,
		Shares: decimal.RequireFromString("60"), CostBasis: decimal.RequireFromString("30"), UpdatedAt: now,
	}))

	require.NoError(t, tx.Commit())
	return f
}

func TestResolveMarketSetsWinningOption(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "1000")
	eng := New(store, testLogger())

	res, err := eng.ResolveMarket(context.Background(), f.marketID, &f.yesOption, nil)
	require.NoError(t, err)
	assert.False(t, res.AlreadyResolved)
	assert.Equal(t, f.yesOption, res.ResolvedOptionID)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	market, err := tx.GetMarket(f.marketID)
	require.NoError(t, err)
	assert.Equal(t, types.MarketStatusResolved, market.Status)
	require.NotNil(t, market.ResolvedOptionID)
	assert.Equal(t, f.yesOption, *market.ResolvedOptionID)
}

// A resolved-but-not-yet-settled market is a valid recovery state (e.g. a
// crash between ResolveMarket and SettleMarket), so ResolveMarket must not
// treat it as already final -- a second call is free to pick a different
// winning option.
func TestResolveMarketOnUnsettledMarketIsNotIdempotent(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "1000")
	eng := New(store, testLogger())

	first, err := eng.ResolveMarket(context.Background(), f.marketID, &f.yesOption, nil)
	require.NoError(t, err)
	require.False(t, first.AlreadyResolved)

	second, err := eng.ResolveMarket(context.Background(), f.marketID, &f.noOption, nil)
	require.NoError(t, err)
	assert.False(t, second.AlreadyResolved)
	assert.Equal(t, f.noOption, second.ResolvedOptionID)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	market, err := tx.GetMarket(f.marketID)
	require.NoError(t, err)
	require.NotNil(t, market.ResolvedOptionID)
	assert.Equal(t, f.noOption, *market.ResolvedOptionID)
}

// Once a market is both resolved and settled, ResolveMarket's idempotent
// shortcut takes over and a second call with a different option is ignored,
// matching settle_market's own already-settled idempotency.
func TestResolveMarketOnSettledMarketIsIdempotent(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "1000")
	eng := New(store, testLogger())

	first, err := eng.ResolveMarket(context.Background(), f.marketID, &f.yesOption, nil)
	require.NoError(t, err)
	require.False(t, first.AlreadyResolved)

	_, err = eng.SettleMarket(context.Background(), f.marketID)
	require.NoError(t, err)

	second, err := eng.ResolveMarket(context.Background(), f.marketID, &f.noOption, nil)
	require.NoError(t, err)
	assert.True(t, second.AlreadyResolved)
	assert.Equal(t, f.yesOption, second.ResolvedOptionID)
}

func TestSettleMarketRequiresResolved(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "1000")
	eng := New(store, testLogger())

	_, err := eng.SettleMarket(context.Background(), f.marketID)
	assert.Error(t, err)
}

func TestSettleMarketPaysWinningPositions(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "1000")
	eng := New(store, testLogger())

	_, err := eng.ResolveMarket(context.Background(), f.marketID, &f.yesOption, nil)
	require.NoError(t, err)

	summary, err := eng.SettleMarket(context.Background(), f.marketID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.WalletsPaid)
	assert.Equal(t, 0, summary.WalletsPartial)
	assert.True(t, summary.TotalPayout.Equal(decimal.RequireFromString("100")))

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	balA, err := tx.GetBalance(f.walletA, "USDC")
	require.NoError(t, err)
	assert.True(t, balA.Amount.Equal(decimal.RequireFromString("40")))

	_, err = tx.GetPosition(f.walletA, f.yesOption)
	assert.Equal(t, ledger.ErrNotFound, err)
}

func TestSettleMarketIsIdempotent(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "1000")
	eng := New(store, testLogger())

	_, err := eng.ResolveMarket(context.Background(), f.marketID, &f.yesOption, nil)
	require.NoError(t, err)

	first, err := eng.SettleMarket(context.Background(), f.marketID)
	require.NoError(t, err)

	second, err := eng.SettleMarket(context.Background(), f.marketID)
	require.NoError(t, err)
	assert.True(t, second.AlreadySettled)
	assert.True(t, second.TotalPayout.Equal(first.TotalPayout))
}

func TestSettleMarketInsufficientFunds(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "50")
	eng := New(store, testLogger())

	_, err := eng.ResolveMarket(context.Background(), f.marketID, &f.yesOption, nil)
	require.NoError(t, err)

	_, err = eng.SettleMarket(context.Background(), f.marketID)
	assert.Error(t, err)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	settlements, err := tx.ListSettlementsByMarket(f.marketID)
	require.NoError(t, err)
	assert.Empty(t, settlements)
}

func TestResolveAndSettleMarketAtomicOnFailure(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "50")
	eng := New(store, testLogger())

	_, _, err := eng.ResolveAndSettleMarket(context.Background(), f.marketID, &f.yesOption, nil)
	assert.Error(t, err)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	market, err := tx.GetMarket(f.marketID)
	require.NoError(t, err)
	assert.Equal(t, types.MarketStatusActive, market.Status)
	assert.Nil(t, market.ResolvedOptionID)
}

func TestResolveAndSettleMarketSucceeds(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "1000")
	eng := New(store, testLogger())

	resolveRes, summary, err := eng.ResolveAndSettleMarket(context.Background(), f.marketID, &f.yesOption, nil)
	require.NoError(t, err)
	assert.Equal(t, f.yesOption, resolveRes.ResolvedOptionID)
	assert.Equal(t, 2, summary.WalletsPaid)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()
	market, err := tx.GetMarket(f.marketID)
	require.NoError(t, err)
	assert.Equal(t, types.MarketStatusResolved, market.Status)
}

func TestResolveAndSettleMarketPartialReducesPosition(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "50")
	eng := New(store, testLogger())

	_, summary, err := eng.ResolveAndSettleMarketPartial(
		context.Background(), f.marketID, &f.yesOption, nil, []uuid.UUID{f.walletA},
	)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.WalletsPaid)
	assert.Equal(t, 0, summary.WalletsPartial)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	market, err := tx.GetMarket(f.marketID)
	require.NoError(t, err)
	// This batch had no partial wallets, so the market flips to resolved
	// even though wallet B's position in the same market was untouched --
	// a later partial call against the remaining wallets is expected.
	assert.Equal(t, types.MarketStatusResolved, market.Status)

	balA, err := tx.GetBalance(f.walletA, "USDC")
	require.NoError(t, err)
	assert.True(t, balA.Amount.Equal(decimal.RequireFromString("40")))

	_, err = tx.GetPosition(f.walletA, f.yesOption)
	assert.Equal(t, ledger.ErrNotFound, err)

	// Wallet B was never in this batch, so its position is untouched.
	posB, err := tx.GetPosition(f.walletB, f.yesOption)
	require.NoError(t, err)
	assert.True(t, posB.Shares.Equal(decimal.RequireFromString("60")))
}

func TestResolveAndSettleMarketPartialShortfall(t *testing.T) {
	store := openStore(t)
	f := seedMarket(t, store, "30")
	eng := New(store, testLogger())

	_, summary, err := eng.ResolveAndSettleMarketPartial(
		context.Background(), f.marketID, &f.yesOption, nil, []uuid.UUID{f.walletA},
	)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.WalletsPaid)
	assert.Equal(t, 1, summary.WalletsPartial)

	tx, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	pos, err := tx.GetPosition(f.walletA, f.yesOption)
	require.NoError(t, err)
	// 40 shares owed, only 30 available -- remaining 10 shares stay open
	// for a later retry once the pool is topped up.
	assert.True(t, pos.Shares.Equal(decimal.RequireFromString("10")))

	balA, err := tx.GetBalance(f.walletA, "USDC")
	require.NoError(t, err)
	assert.True(t, balA.Amount.Equal(decimal.RequireFromString("30")))

	market, err := tx.GetMarket(f.marketID)
	require.NoError(t, err)
	assert.Equal(t, types.MarketStatusActive, market.Status)
}

func TestEventCascadeWaitsForAllMarkets(t *testing.T) {
	store := openStore(t)
	now := time.Now().UTC()
	eventID := uuid.New()

	tx, err := store.BeginWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.CreateEvent(&types.Event{
		ID: eventID, Slug: "event", Title: "Event", Status: types.EventStatusActive,
		GroupRule: types.GroupRuleIndependent, CreatedAt: now, UpdatedAt: now,
	}))

	marketA := uuid.New()
	optionA := uuid.New()
	require.NoError(t, tx.CreateMarket(&types.Market{
		ID: marketA, EventID: &eventID, Slug: "market-a", Title: "Market A", Status: types.MarketStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.CreateMarketOption(&types.MarketOption{
		ID: optionA, MarketID: marketA, OptionIndex: 0, Side: types.OptionSideYes,
		Label: "Yes", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.CreatePool(&types.AmmPool{
		ID: uuid.New(), MarketID: &marketA, Model: "lmsr", Status: types.PoolStatusActive,
		B: decimal.RequireFromString("100"), CollateralToken: "USDC",
		FundingAmount: decimal.RequireFromString("100"), PoolCash: decimal.RequireFromString("100"),
		CreatedAt: now, UpdatedAt: now,
	}))

	marketB := uuid.New()
	optionB := uuid.New()
	require.NoError(t, tx.CreateMarket(&types.Market{
		ID: marketB, EventID: &eventID, Slug: "market-b", Title: "Market B", Status: types.MarketStatusActive,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.CreateMarketOption(&types.MarketOption{
		ID: optionB, MarketID: marketB, OptionIndex: 0, Side: types.OptionSideYes,
		Label: "Yes", IsActive: true, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.CreatePool(&types.AmmPool{
		ID: uuid.New(), MarketID: &marketB, Model: "lmsr", Status: types.PoolStatusActive,
		B: decimal.RequireFromString("100"), CollateralToken: "USDC",
		FundingAmount: decimal.RequireFromString("100"), PoolCash: decimal.RequireFromString("100"),
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, tx.Commit())

	eng := New(store, testLogger())

	_, _, err = eng.ResolveAndSettleMarket(context.Background(), marketA, &optionA, nil)
	require.NoError(t, err)

	tx2, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	event, err := tx2.GetEvent(eventID)
	require.NoError(t, err)
	tx2.Rollback()
	assert.Equal(t, types.EventStatusActive, event.Status)

	_, _, err = eng.ResolveAndSettleMarket(context.Background(), marketB, &optionB, nil)
	require.NoError(t, err)

	tx3, err := store.BeginRead(context.Background())
	require.NoError(t, err)
	defer tx3.Rollback()
	event, err = tx3.GetEvent(eventID)
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusResolved, event.Status)
}

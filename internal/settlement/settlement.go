// Package settlement resolves a market to its winning option and pays out
// winning positions from the backing pool's cash and collateral.
// ResolveMarket on its own flips the status without paying anyone; on the
// ResolveAndSettleMarket path the status only flips to resolved after the
// payout succeeds, so a failed settlement there never leaves a market
// stuck in a resolved-but-unpaid state.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammcore/internal/errs"
	"ammcore/internal/ledger"
	"ammcore/internal/types"
)

// Engine resolves and settles markets against a ledger.Store.
type Engine struct {
	store  *ledger.Store
	logger *slog.Logger
	now    func() time.Time
}

// New builds a settlement engine.
func New(store *ledger.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger.With("component", "settlement"), now: time.Now}
}

// ResolveResult reports the outcome of a resolve call.
type ResolveResult struct {
	MarketID         uuid.UUID
	ResolvedOptionID uuid.UUID
	AlreadyResolved  bool
}

// SettlementSummary reports the outcome of a settle call, aggregated
// across every wallet paid in this call.
type SettlementSummary struct {
	MarketID         uuid.UUID
	WinningOptionID  uuid.UUID
	TotalPayout      decimal.Decimal
	PoolCashUsed     decimal.Decimal
	CollateralUsed   decimal.Decimal
	WalletsPaid      int
	WalletsPartial   int
	AlreadySettled   bool
}

// ResolveMarket marks a market resolved with a winning option. It does not
// pay out winners -- call SettleMarket for that, or ResolveAndSettleMarket
// to do both atomically.
func (e *Engine) ResolveMarket(ctx context.Context, marketID uuid.UUID, winningOptionID *uuid.UUID, winningOptionIndex *int) (*ResolveResult, error) {
	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := e.resolveLocked(tx, marketID, winningOptionID, winningOptionIndex, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return res, nil
}

// resolveLocked performs the resolve step inside an already-open write
// transaction. skipStatusUpdate leaves market.Status untouched (used by
// ResolveAndSettleMarket, which only flips status after payout succeeds).
func (e *Engine) resolveLocked(tx *ledger.Tx, marketID uuid.UUID, winningOptionID *uuid.UUID, winningOptionIndex *int, skipStatusUpdate bool) (*ResolveResult, error) {
	if winningOptionID == nil && winningOptionIndex == nil {
		return nil, errs.InvalidParam("winning_option", "winning_option_id or winning_option_index is required")
	}

	market, err := tx.GetMarket(marketID)
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, errs.MarketNotFound(marketID.String())
		}
		return nil, err
	}

	if market.Status == types.MarketStatusResolved && market.ResolvedOptionID != nil && market.SettledAt != nil {
		return &ResolveResult{MarketID: market.ID, ResolvedOptionID: *market.ResolvedOptionID, AlreadyResolved: true}, nil
	}

	switch market.Status {
	case types.MarketStatusActive, types.MarketStatusClosed, types.MarketStatusResolved:
	default:
		return nil, errs.InvalidStatus("market", string(market.Status))
	}

	var winning *types.MarketOption
	if winningOptionID != nil {
		o, err := tx.GetMarketOption(*winningOptionID)
		if err != nil {
			if err == ledger.ErrNotFound {
				return nil, errs.OptionNotFound(winningOptionID.String())
			}
			return nil, err
		}
		if o.MarketID != marketID {
			return nil, errs.PoolMismatch(o.ID.String(), marketID.String())
		}
		winning = o
	} else {
		options, err := tx.ListActiveOptionsByMarket(marketID)
		if err != nil {
			return nil, err
		}
		for _, o := range options {
			if o.OptionIndex == *winningOptionIndex {
				winning = o
				break
			}
		}
		if winning == nil {
			return nil, errs.OptionNotFound(fmt.Sprintf("index %d", *winningOptionIndex))
		}
	}
	if !winning.IsActive {
		return nil, errs.OptionNotActive(winning.ID.String())
	}

	now := timeStr(e.now())
	status := market.Status
	if !skipStatusUpdate {
		status = types.MarketStatusResolved
	}
	if err := tx.UpdateMarketStatus(marketID, status, &winning.ID, now); err != nil {
		return nil, err
	}

	if !skipStatusUpdate && market.EventID != nil {
		if err := e.cascadeEventStatus(tx, *market.EventID); err != nil {
			return nil, err
		}
	}

	e.logger.Info("market resolved", "market_id", marketID, "winning_option_id", winning.ID)
	return &ResolveResult{MarketID: marketID, ResolvedOptionID: winning.ID, AlreadyResolved: false}, nil
}

// SettleMarket pays out every winning position for an already-resolved
// market, funding the payout from the pool's cash first and its
// collateral second. Idempotent: calling it again after a successful
// settlement returns the existing totals rather than paying twice.
func (e *Engine) SettleMarket(ctx context.Context, marketID uuid.UUID) (*SettlementSummary, error) {
	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	market, err := tx.GetMarket(marketID)
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, errs.MarketNotFound(marketID.String())
		}
		return nil, err
	}
	if market.Status != types.MarketStatusResolved {
		return nil, errs.NotResolved(marketID.String())
	}

	summary, err := e.settleLocked(tx, market, nil, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return summary, nil
}

// ResolveAndSettleMarket resolves and settles a market atomically: if
// settlement fails (e.g. insufficient funds), the market's status is never
// flipped to resolved, so a retry can pick a different winning option or
// wait for more collateral without the market appearing falsely finalized.
func (e *Engine) ResolveAndSettleMarket(ctx context.Context, marketID uuid.UUID, winningOptionID *uuid.UUID, winningOptionIndex *int) (*ResolveResult, *SettlementSummary, error) {
	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	resolveRes, err := e.resolveLocked(tx, marketID, winningOptionID, winningOptionIndex, true)
	if err != nil {
		return nil, nil, err
	}

	market, err := tx.GetMarket(marketID)
	if err != nil {
		return nil, nil, err
	}

	summary, err := e.settleLocked(tx, market, nil, true)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return resolveRes, summary, nil
}

// ResolveAndSettleMarketPartial is the same atomic resolve-then-settle
// operation as ResolveAndSettleMarket, scoped to a caller-supplied subset
// of wallets rather than every winning position at once. Unlike
// SettleMarket's all-or-nothing insufficient-funds error, a batch that
// runs out of pool funds mid-way pays what it can: wallets already paid in
// this call keep their full payout, the first wallet the remaining funds
// cannot cover in full receives whatever is left, and any later wallet in
// the batch receives zero. Each such wallet is recorded with
// SettlementStatusPartial and its position is reduced by the amount paid,
// so a later call (once the pool is topped up) can retry them without
// double-paying anyone already settled in full.
func (e *Engine) ResolveAndSettleMarketPartial(ctx context.Context, marketID uuid.UUID, winningOptionID *uuid.UUID, winningOptionIndex *int, walletIDs []uuid.UUID) (*ResolveResult, *SettlementSummary, error) {
	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	resolveRes, err := e.resolveLocked(tx, marketID, winningOptionID, winningOptionIndex, true)
	if err != nil {
		return nil, nil, err
	}

	market, err := tx.GetMarket(marketID)
	if err != nil {
		return nil, nil, err
	}

	summary, err := e.settleLocked(tx, market, walletIDs, true)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return resolveRes, summary, nil
}

// settleLocked performs the payout step inside an already-open write
// transaction. walletIDs, when non-nil, restricts the payout to that
// subset of wallets (the partial-settlement path); nil means every
// winning position. flipStatusOnFullSuccess sets the market (and,
// once every sibling market in its event has resolved or voided, the
// event) to resolved once settlement completes without any partial
// wallet, matching resolve-and-settle's "status flips only after payout
// succeeds" invariant.
func (e *Engine) settleLocked(tx *ledger.Tx, market *types.Market, walletIDs []uuid.UUID, flipStatusOnFullSuccess bool) (*SettlementSummary, error) {
	if market.ResolvedOptionID == nil {
		return nil, errs.NoResolvedOption(market.ID.String())
	}

	existing, err := tx.ListSettlementsByMarket(market.ID)
	if err != nil {
		return nil, err
	}
	if walletIDs == nil && len(existing) > 0 && !anyPartial(existing) {
		return summarizeExisting(market.ID, *market.ResolvedOptionID, existing), nil
	}
	alreadySettled := map[uuid.UUID]bool{}
	for _, s := range existing {
		if s.Status == types.SettlementStatusPaid {
			alreadySettled[s.WalletID] = true
		}
	}

	winningOption, err := tx.GetMarketOption(*market.ResolvedOptionID)
	if err != nil {
		return nil, err
	}

	pool, err := e.poolForMarket(tx, market)
	if err != nil {
		return nil, err
	}

	positions, err := tx.ListPositionsByMarketOrderedByWallet(market.ID)
	if err != nil {
		return nil, err
	}

	var wallets []uuid.UUID
	walletSet := map[uuid.UUID]bool{}
	if walletIDs != nil {
		for _, w := range walletIDs {
			walletSet[w] = true
		}
	}
	winningPositions := map[uuid.UUID]*types.Position{}
	for _, p := range positions {
		p := p
		if p.OptionID != winningOption.ID {
			continue
		}
		if alreadySettled[p.WalletID] {
			continue
		}
		if walletIDs != nil && !walletSet[p.WalletID] {
			continue
		}
		wallets = append(wallets, p.WalletID)
		winningPositions[p.WalletID] = p
	}

	now := timeStr(e.now())
	poolCash := pool.PoolCash
	collateral := pool.CollateralAmount
	token := pool.CollateralToken

	summary := &SettlementSummary{MarketID: market.ID, WinningOptionID: winningOption.ID}
	for _, s := range existing {
		summary.TotalPayout = summary.TotalPayout.Add(s.PayoutAmount)
	}

	for _, walletID := range wallets {
		position := winningPositions[walletID]
		shares := position.Shares
		if !shares.IsPositive() {
			continue
		}
		available := poolCash.Add(collateral)
		payout := shares
		status := types.SettlementStatusPaid
		if payout.GreaterThan(available) {
			if walletIDs == nil {
				return nil, errs.InsufficientFunds(payout.Sub(available).String())
			}
			payout = available
			if payout.Sign() <= 0 {
				payout = decimal.Zero
			}
			status = types.SettlementStatusPartial
			summary.WalletsPartial++
		}

		fromCash := decimal.Min(poolCash, payout)
		fromCollateral := payout.Sub(fromCash)
		poolCash = poolCash.Sub(fromCash)
		collateral = collateral.Sub(fromCollateral)

		if payout.IsPositive() {
			bal, err := e.getOrCreateBalance(tx, walletID, token, now)
			if err != nil {
				return nil, err
			}
			bal.Amount = bal.Amount.Add(payout)
			bal.UpdatedAt = e.now()
			if err := tx.UpsertBalance(bal); err != nil {
				return nil, err
			}
			if payout.Equal(shares) {
				if err := tx.DeletePosition(walletID, winningOption.ID); err != nil {
					return nil, err
				}
			} else {
				remainingShares := shares.Sub(payout)
				remainingCostBasis := position.CostBasis.Mul(remainingShares).Div(shares)
				if err := tx.UpsertPosition(&types.Position{
					ID: position.ID, WalletID: walletID, OptionID: winningOption.ID,
					Shares: remainingShares, CostBasis: remainingCostBasis, UpdatedAt: e.now(),
				}); err != nil {
					return nil, err
				}
			}
		}

		settlement := &types.MarketSettlement{
			ID:             uuid.New(),
			MarketID:       market.ID,
			WalletID:       walletID,
			OptionID:       winningOption.ID,
			Shares:         shares,
			PayoutAmount:   payout,
			Status:         status,
			SettlementTxID: fmt.Sprintf("settle:%s:%s", market.ID, walletID),
			CreatedAt:      e.now(),
		}
		if err := tx.CreateSettlement(settlement); err != nil {
			if err != ledger.ErrAlreadyExists {
				return nil, err
			}
		} else {
			if status == types.SettlementStatusPaid {
				summary.WalletsPaid++
			}
			summary.TotalPayout = summary.TotalPayout.Add(payout)
			summary.PoolCashUsed = summary.PoolCashUsed.Add(fromCash)
			summary.CollateralUsed = summary.CollateralUsed.Add(fromCollateral)
		}
	}

	if err := tx.UpdatePoolCashAndFee(pool.ID, poolCash, pool.CollectedFee, now); err != nil {
		return nil, err
	}
	poolStatus := pool.Status
	if summary.WalletsPartial == 0 {
		poolStatus = types.PoolStatusSettled
	} else {
		poolStatus = types.PoolStatusSettling
	}
	if err := tx.UpdatePoolStatus(pool.ID, poolStatus, now); err != nil {
		return nil, err
	}

	if flipStatusOnFullSuccess && summary.WalletsPartial == 0 {
		if err := tx.UpdateMarketStatus(market.ID, types.MarketStatusResolved, market.ResolvedOptionID, now); err != nil {
			return nil, err
		}
		if market.EventID != nil {
			if err := e.cascadeEventStatus(tx, *market.EventID); err != nil {
				return nil, err
			}
		}
	}

	// A market is only "settled" -- and safe for ResolveMarket's idempotent
	// shortcut to trust -- once every winning position has been paid with
	// nothing partial outstanding. A wallet-scoped partial-settlement batch
	// never reaches this regardless of how its own subset fared, since
	// other winning wallets may still be unpaid.
	if walletIDs == nil && summary.WalletsPartial == 0 {
		if err := tx.UpdateMarketSettledAt(market.ID, now); err != nil {
			return nil, err
		}
	}

	e.logger.Info("market settled", "market_id", market.ID, "wallets_paid", summary.WalletsPaid, "wallets_partial", summary.WalletsPartial)
	return summary, nil
}

// cascadeEventStatus flips an event to resolved once every constituent
// market has reached a terminal state (resolved or voided). A single
// market resolving inside a multi-market exclusive event does not mean
// the event is done -- its siblings may still be trading.
func (e *Engine) cascadeEventStatus(tx *ledger.Tx, eventID uuid.UUID) error {
	markets, err := tx.ListMarketsByEvent(eventID)
	if err != nil {
		return err
	}
	for _, m := range markets {
		if m.Status != types.MarketStatusResolved && m.Status != types.MarketStatusVoided {
			return nil
		}
	}
	return tx.UpdateEventStatus(eventID, types.EventStatusResolved, timeStr(e.now()))
}

// poolForMarket loads a market's pool, trying the market-level pool first
// and falling back to the event-level pool for exclusive events.
func (e *Engine) poolForMarket(tx *ledger.Tx, market *types.Market) (*types.AmmPool, error) {
	pool, err := tx.GetPoolByMarket(market.ID)
	if err == nil {
		return pool, nil
	}
	if err != ledger.ErrNotFound {
		return nil, err
	}
	if market.EventID == nil {
		return nil, errs.PoolNotFound(market.ID.String())
	}
	pool, err = tx.GetPoolByEvent(*market.EventID)
	if err != nil {
		if err == ledger.ErrNotFound {
			return nil, errs.PoolNotFound(market.ID.String())
		}
		return nil, err
	}
	return pool, nil
}

func (e *Engine) getOrCreateBalance(tx *ledger.Tx, walletID uuid.UUID, token string, now string) (*types.BalanceSnapshot, error) {
	bal, err := tx.GetBalance(walletID, token)
	if err == nil {
		return bal, nil
	}
	if err != ledger.ErrNotFound {
		return nil, err
	}
	bal = &types.BalanceSnapshot{WalletID: walletID, CollateralToken: token, Amount: decimal.Zero, UpdatedAt: e.now()}
	if err := tx.UpsertBalance(bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func anyPartial(settlements []*types.MarketSettlement) bool {
	for _, s := range settlements {
		if s.Status == types.SettlementStatusPartial {
			return true
		}
	}
	return false
}

func summarizeExisting(marketID, winningOptionID uuid.UUID, settlements []*types.MarketSettlement) *SettlementSummary {
	summary := &SettlementSummary{MarketID: marketID, WinningOptionID: winningOptionID, AlreadySettled: true}
	for _, s := range settlements {
		summary.TotalPayout = summary.TotalPayout.Add(s.PayoutAmount)
		summary.WalletsPaid++
	}
	return summary
}

func timeStr(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

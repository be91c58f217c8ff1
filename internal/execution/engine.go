// Package execution runs buy and sell trades against an AMM pool: it locks
// the rows execution touches in the order the ledger package documents,
// quotes the trade with the pure quote package, persists the result, and
// fires a best-effort set of side effects (stats, price history, cache
// invalidation) that must never roll back an otherwise-successful trade.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammcore/internal/cache"
	"ammcore/internal/errs"
	"ammcore/internal/ledger"
	"ammcore/internal/money"
	"ammcore/internal/poolstate"
	"ammcore/internal/quote"
	"ammcore/internal/types"
)

// dustThreshold is the residual share balance at or below which a sell-all is
// treated as cleanup rather than a real trade: no AMM math runs, the
// position is just zeroed.
var dustThreshold = decimal.RequireFromString("0.1")

// overshootTolerance is how far a requested sell can exceed the caller's
// actual position before it is rejected outright; below this the request is
// clamped to the position size to absorb float/decimal rounding drift.
var overshootTolerance = decimal.RequireFromString("0.01")

const priceSeriesBucket = 5 * time.Second

// Engine executes trades against a ledger.Store.
type Engine struct {
	store  *ledger.Store
	cache  cache.Invalidator
	logger *slog.Logger
	now    func() time.Time
}

// New builds a trade execution engine. cache may be nil, in which case
// invalidation events are discarded.
func New(store *ledger.Store, invalidator cache.Invalidator, logger *slog.Logger) *Engine {
	if invalidator == nil {
		invalidator = cache.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cache: invalidator, logger: logger.With("component", "execution"), now: time.Now}
}

// BuyRequest is a caller's request to spend collateral (or buy an exact
// number of shares) of one option in one market.
type BuyRequest struct {
	UserID         uuid.UUID
	MarketID       uuid.UUID
	OptionID       *uuid.UUID
	OptionIndex    *int
	WalletID       *uuid.UUID
	AmountIn       *decimal.Decimal
	Shares         *decimal.Decimal
	MinSharesOut   *decimal.Decimal
	MaxSlippageBps *int
}

// SellRequest is a caller's request to liquidate shares (or redeem for an
// exact amount of collateral) of one option in one market.
type SellRequest struct {
	UserID           uuid.UUID
	MarketID         uuid.UUID
	OptionID         *uuid.UUID
	OptionIndex      *int
	WalletID         *uuid.UUID
	Shares           *decimal.Decimal
	DesiredAmountOut *decimal.Decimal
	SellAll          bool
	MinAmountOut     *decimal.Decimal
	MaxSlippageBps   *int
}

// TradeResult reports the outcome of a committed trade. Only the fields
// relevant to the trade's side/branch are populated.
type TradeResult struct {
	TradeID      uuid.UUID
	MarketID     uuid.UUID
	OptionID     uuid.UUID
	WalletID     uuid.UUID
	Side         types.Side
	IsNoSide     bool
	AmountIn     decimal.Decimal
	SharesOut    decimal.Decimal
	AmountOut    decimal.Decimal
	SharesSold   decimal.Decimal
	FeeAmount    decimal.Decimal
	AvgPriceBps  int
	PreProbBps   []int
	PostProbBps  []int
	PositionShares    decimal.Decimal
	PositionCostBasis decimal.Decimal
	BalanceAfter      decimal.Decimal
	DustCleanup       bool
}

// lockedPool is everything execution needs out of the Market -> Event ->
// Pool lock chain before it can compute and apply a trade.
type lockedPool struct {
	market      *types.Market
	event       *types.Event
	pool        *types.AmmPool
	poolRows    []ledger.PoolOptionRow
	state       *poolstate.State
	isExclusive bool
}

// ExecuteBuy spends collateral from the caller's wallet for shares of one
// option, following lock order Market -> Event -> Pool -> Option -> Balance
// -> Position.
func (e *Engine) ExecuteBuy(ctx context.Context, req BuyRequest) (*TradeResult, error) {
	if (req.AmountIn == nil) == (req.Shares == nil) {
		return nil, errs.InvalidParam("amount_in/shares", "provide exactly one of amount_in or shares")
	}

	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lp, opt, err := e.lockMarketEventOptionPool(tx, req.MarketID, req.OptionID, req.OptionIndex)
	if err != nil {
		return nil, err
	}

	side := types.SideBuy
	qreq := quote.Request{OptionID: strPtr(opt.ID.String()), Side: side, AmountIn: req.AmountIn, Shares: req.Shares}
	res, err := quote.Quote(lp.state, qreq)
	if err != nil {
		return nil, err
	}

	targetIdx, isNoSide, err := lp.state.ResolveWithSide(strPtr(opt.ID.String()), nil)
	if err != nil {
		return nil, err
	}

	preTargetBps := res.PreProbBps[targetIdx]
	expected := preTargetBps
	if isNoSide {
		expected = 10000 - preTargetBps
	}
	if err := checkBuySlippage(req.MinSharesOut, req.MaxSlippageBps, res.SharesOut, res.AvgPriceBps, expected); err != nil {
		return nil, err
	}

	wallet, err := e.ensureWallet(tx, req.UserID, req.WalletID)
	if err != nil {
		return nil, err
	}

	// gross is what actually moves in the ledger. When the caller names an
	// amount_in, that raw value is booked as-is (only the quote's own
	// AmountIn field is quantized for display); a shares-given buy has no
	// caller-supplied amount, so the quote's computed gross is canonical.
	gross := res.AmountIn
	if req.AmountIn != nil {
		gross = *req.AmountIn
	}

	balance, err := e.getOrCreateBalance(tx, wallet.ID, lp.pool.CollateralToken)
	if err != nil {
		return nil, err
	}
	if balance.Amount.LessThan(gross) {
		return nil, errs.InsufficientBalance(balance.Amount.String(), gross.String())
	}

	nowT := e.now()
	nowStr := nowT.UTC().Format(time.RFC3339Nano)

	balance.Amount = balance.Amount.Sub(gross)
	balance.UpdatedAt = nowT
	if err := tx.UpsertBalance(balance); err != nil {
		return nil, err
	}

	position, err := e.getOrCreatePosition(tx, wallet.ID, opt.ID)
	if err != nil {
		return nil, err
	}
	position.Shares = position.Shares.Add(res.SharesOut)
	position.CostBasis = position.CostBasis.Add(gross)
	position.UpdatedAt = nowT
	if err := tx.UpsertPosition(position); err != nil {
		return nil, err
	}

	if err := e.applyQDeltas(tx, lp, targetIdx, isNoSide, res, side, nowStr); err != nil {
		return nil, err
	}

	newPoolCash := lp.pool.PoolCash.Add(gross)
	newCollected := lp.pool.CollectedFee.Add(res.FeeAmount)
	if err := tx.UpdatePoolCashAndFee(lp.pool.ID, newPoolCash, newCollected, nowStr); err != nil {
		return nil, err
	}

	orderIntent := &types.OrderIntent{
		ID: uuid.New(), MarketID: req.MarketID, OptionID: opt.ID, WalletID: &wallet.ID, Side: side,
		AmountIn: req.AmountIn, SharesIn: req.Shares, MinSharesOut: req.MinSharesOut, MaxSlippageBps: req.MaxSlippageBps,
		CreatedAt: nowT,
	}
	if err := tx.CreateOrderIntent(orderIntent); err != nil {
		return nil, err
	}

	trade := &types.Trade{
		ID: uuid.New(), MarketID: req.MarketID, OptionID: opt.ID, WalletID: wallet.ID, Side: side,
		SharesDelta: res.SharesOut, AmountGross: gross, FeeAmount: res.FeeAmount,
		AmountNet: gross.Sub(res.FeeAmount), PriceAfter: decimal.New(int64(res.PostProbBps[targetIdx]), -4),
		TxHash: "offchain:" + orderIntent.ID.String(), CreatedAt: nowT,
	}
	if err := tx.CreateTrade(trade); err != nil {
		return nil, err
	}

	e.recordBestEffortSideEffects(tx, lp, res, side, gross, nowT)

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.cache.InvalidateOnTrade(cache.Event{MarketID: req.MarketID, EventID: lp.eventID(), OptionID: opt.ID})

	return &TradeResult{
		TradeID: trade.ID, MarketID: req.MarketID, OptionID: opt.ID, WalletID: wallet.ID, Side: side, IsNoSide: isNoSide,
		AmountIn: gross, SharesOut: res.SharesOut, FeeAmount: res.FeeAmount, AvgPriceBps: res.AvgPriceBps,
		PreProbBps: res.PreProbBps, PostProbBps: res.PostProbBps, PositionShares: position.Shares,
		PositionCostBasis: position.CostBasis, BalanceAfter: balance.Amount,
	}, nil
}

// ExecuteSell liquidates shares (or redeems for a target amount) from the
// caller's position, following the same lock order as ExecuteBuy --
// Balance is locked before Position on both paths to avoid deadlocking
// against a concurrent buy.
func (e *Engine) ExecuteSell(ctx context.Context, req SellRequest) (*TradeResult, error) {
	if req.Shares != nil && req.DesiredAmountOut != nil {
		return nil, errs.InvalidParam("shares/amount_out", "provide at most one of shares or desired amount_out")
	}

	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	lp, opt, err := e.lockMarketEventOptionPool(tx, req.MarketID, req.OptionID, req.OptionIndex)
	if err != nil {
		return nil, err
	}

	wallet, err := e.ensureWallet(tx, req.UserID, req.WalletID)
	if err != nil {
		return nil, err
	}

	balance, err := e.getOrCreateBalance(tx, wallet.ID, lp.pool.CollateralToken)
	if err != nil {
		return nil, err
	}

	position, err := tx.GetPosition(wallet.ID, opt.ID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, errs.NoPosition(wallet.ID.String(), opt.ID.String())
	}
	if err != nil {
		return nil, err
	}

	nowT := e.now()
	nowStr := nowT.UTC().Format(time.RFC3339Nano)

	if req.SellAll && position.Shares.LessThanOrEqual(dustThreshold) {
		position.Shares = decimal.Zero
		position.CostBasis = decimal.Zero
		position.UpdatedAt = nowT
		if err := tx.DeletePosition(wallet.ID, opt.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &TradeResult{
			MarketID: req.MarketID, OptionID: opt.ID, WalletID: wallet.ID, Side: types.SideSell,
			DustCleanup: true, PositionShares: decimal.Zero, PositionCostBasis: decimal.Zero, BalanceAfter: balance.Amount,
		}, nil
	}

	sharesToSell := req.Shares
	if req.SellAll {
		s := position.Shares
		sharesToSell = &s
	}
	if sharesToSell != nil {
		if sharesToSell.GreaterThan(position.Shares) {
			diff := sharesToSell.Sub(position.Shares)
			if diff.LessThan(overshootTolerance) {
				clamped := position.Shares
				sharesToSell = &clamped
			} else {
				return nil, errs.InsufficientShares(position.Shares.String(), sharesToSell.String())
			}
		}
	}

	side := types.SideSell
	qreq := quote.Request{OptionID: strPtr(opt.ID.String()), Side: side, Shares: sharesToSell, AmountIn: req.DesiredAmountOut}
	res, err := quote.Quote(lp.state, qreq)
	if err != nil {
		return nil, err
	}

	targetIdx, isNoSide, err := lp.state.ResolveWithSide(strPtr(opt.ID.String()), nil)
	if err != nil {
		return nil, err
	}
	if res.SharesIn.GreaterThan(position.Shares) {
		diff := res.SharesIn.Sub(position.Shares)
		if diff.LessThan(overshootTolerance) {
			res.SharesIn = position.Shares
		} else {
			return nil, errs.InsufficientShares(position.Shares.String(), res.SharesIn.String())
		}
	}

	preTargetBps := res.PreProbBps[targetIdx]
	expected := preTargetBps
	if isNoSide {
		expected = 10000 - preTargetBps
	}
	if err := checkSellSlippage(req.MinAmountOut, req.MaxSlippageBps, res.AmountOut, res.AvgPriceBps, expected); err != nil {
		return nil, err
	}

	balance.Amount = balance.Amount.Add(res.AmountOut)
	balance.UpdatedAt = nowT
	if err := tx.UpsertBalance(balance); err != nil {
		return nil, err
	}

	costBasisReduction := decimal.Zero
	if position.Shares.IsPositive() {
		costBasisReduction = position.CostBasis.Mul(res.SharesIn).Div(position.Shares)
	}
	newCostBasis := position.CostBasis.Sub(costBasisReduction)
	if newCostBasis.IsNegative() {
		newCostBasis = decimal.Zero
	}
	position.Shares = position.Shares.Sub(res.SharesIn)
	position.CostBasis = newCostBasis
	position.UpdatedAt = nowT
	if err := tx.UpsertPosition(position); err != nil {
		return nil, err
	}

	if err := e.applyQDeltas(tx, lp, targetIdx, isNoSide, res, side, nowStr); err != nil {
		return nil, err
	}

	newPoolCash := lp.pool.PoolCash.Sub(res.AmountOut)
	newCollected := lp.pool.CollectedFee.Add(res.FeeAmount)
	if err := tx.UpdatePoolCashAndFee(lp.pool.ID, newPoolCash, newCollected, nowStr); err != nil {
		return nil, err
	}

	orderIntent := &types.OrderIntent{
		ID: uuid.New(), MarketID: req.MarketID, OptionID: opt.ID, WalletID: &wallet.ID, Side: side,
		SharesIn: sharesToSell, AmountIn: req.DesiredAmountOut, MinAmountOut: req.MinAmountOut,
		MaxSlippageBps: req.MaxSlippageBps, CreatedAt: nowT,
	}
	if err := tx.CreateOrderIntent(orderIntent); err != nil {
		return nil, err
	}

	trade := &types.Trade{
		ID: uuid.New(), MarketID: req.MarketID, OptionID: opt.ID, WalletID: wallet.ID, Side: side,
		SharesDelta: res.SharesIn.Neg(), AmountGross: res.AmountOut.Add(res.FeeAmount), FeeAmount: res.FeeAmount,
		AmountNet: res.AmountOut, PriceAfter: decimal.New(int64(res.PostProbBps[targetIdx]), -4),
		TxHash: "offchain:" + orderIntent.ID.String(), CreatedAt: nowT,
	}
	if err := tx.CreateTrade(trade); err != nil {
		return nil, err
	}

	e.recordBestEffortSideEffects(tx, lp, res, side, res.AmountOut, nowT)

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	e.cache.InvalidateOnTrade(cache.Event{MarketID: req.MarketID, EventID: lp.eventID(), OptionID: opt.ID})

	return &TradeResult{
		TradeID: trade.ID, MarketID: req.MarketID, OptionID: opt.ID, WalletID: wallet.ID, Side: side, IsNoSide: isNoSide,
		AmountOut: res.AmountOut, SharesSold: res.SharesIn, FeeAmount: res.FeeAmount, AvgPriceBps: res.AvgPriceBps,
		PreProbBps: res.PreProbBps, PostProbBps: res.PostProbBps, PositionShares: position.Shares,
		PositionCostBasis: position.CostBasis, BalanceAfter: balance.Amount,
	}, nil
}

func (lp *lockedPool) eventID() *uuid.UUID {
	if lp.event != nil {
		id := lp.event.ID
		return &id
	}
	return nil
}

// lockMarketEventOptionPool implements the Market -> Event -> deadline ->
// Pool -> Option lock chain shared by buy and sell.
func (e *Engine) lockMarketEventOptionPool(tx *ledger.Tx, marketID uuid.UUID, optionID *uuid.UUID, optionIndex *int) (*lockedPool, *types.MarketOption, error) {
	market, err := tx.GetMarket(marketID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil, errs.MarketNotFound(marketID.String())
	}
	if err != nil {
		return nil, nil, err
	}
	if market.Status != types.MarketStatusActive {
		return nil, nil, errs.MarketNotActive(marketID.String(), market.Status)
	}

	var event *types.Event
	if market.EventID != nil {
		event, err = tx.GetEvent(*market.EventID)
		if err != nil {
			return nil, nil, err
		}
		if event.Status != types.EventStatusActive || event.IsHidden {
			return nil, nil, errs.EventNotActive(event.ID.String(), event.Status)
		}
	}

	now := e.now()
	if market.TradingDeadline != nil && now.After(*market.TradingDeadline) {
		return nil, nil, errs.MarketClosed(marketID.String())
	}
	if event != nil && event.TradingDeadline != nil && now.After(*event.TradingDeadline) {
		return nil, nil, errs.MarketClosed(marketID.String())
	}

	lp, err := lockPoolState(tx, market, event)
	if err != nil {
		return nil, nil, err
	}

	opt, err := resolveOption(tx, marketID, optionID, optionIndex)
	if err != nil {
		return nil, nil, err
	}
	return lp, opt, nil
}

func resolveOption(tx *ledger.Tx, marketID uuid.UUID, optionID *uuid.UUID, optionIndex *int) (*types.MarketOption, error) {
	if optionID != nil {
		opt, err := tx.GetMarketOption(*optionID)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errs.OptionNotFound(optionID.String())
		}
		if err != nil {
			return nil, err
		}
		if opt.MarketID != marketID {
			return nil, errs.OptionNotFound(optionID.String())
		}
		if !opt.IsActive {
			return nil, errs.OptionNotActive(opt.ID.String())
		}
		return opt, nil
	}
	if optionIndex != nil {
		opts, err := tx.ListActiveOptionsByMarket(marketID)
		if err != nil {
			return nil, err
		}
		for _, o := range opts {
			if o.OptionIndex == *optionIndex {
				return o, nil
			}
		}
		return nil, errs.OptionNotFound(fmt.Sprintf("index %d", *optionIndex))
	}
	return nil, errs.InvalidParam("option_id/option_index", "must provide option_id or option_index")
}

// lockPoolState mirrors pool_utils.load_pool_for_market: try the
// market-scoped pool first, then fall back to the event-scoped pool for
// exclusive events, and build the NO->YES option mapping when exclusive.
func lockPoolState(tx *ledger.Tx, market *types.Market, event *types.Event) (*lockedPool, error) {
	pool, err := tx.GetPoolByMarket(market.ID)
	isExclusive := false
	if errors.Is(err, ledger.ErrNotFound) {
		if market.EventID == nil {
			return nil, errs.PoolNotFound(market.ID.String())
		}
		pool, err = tx.GetPoolByEvent(*market.EventID)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errs.PoolNotFound(market.ID.String())
		}
		if err != nil {
			return nil, err
		}
		isExclusive = event != nil && event.GroupRule == types.GroupRuleExclusive
	} else if err != nil {
		return nil, err
	}

	if pool.Status != types.PoolStatusActive {
		return nil, errs.PoolInvalid("pool is not active")
	}
	if !pool.B.IsPositive() {
		return nil, errs.PoolInvalid("liquidity parameter b must be positive")
	}

	rows, err := tx.ListPoolOptionRows(pool.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.PoolInvalid("pool has no option state")
	}

	optionIDs := make([]string, len(rows))
	optionIndexes := make([]int, len(rows))
	q := make([]float64, len(rows))
	idxByID := make(map[uuid.UUID]int, len(rows))
	for i, r := range rows {
		optionIDs[i] = r.OptionID.String()
		optionIndexes[i] = r.OptionIndex
		qf, err := strconv.ParseFloat(r.Q, 64)
		if err != nil {
			return nil, fmt.Errorf("execution: parse q: %w", err)
		}
		q[i] = qf
		idxByID[r.OptionID] = i
	}

	var noToYes map[string]poolstate.NoYesMapping
	if isExclusive {
		yesIDs := make([]uuid.UUID, len(rows))
		for i, r := range rows {
			yesIDs[i] = r.OptionID
		}
		entries, err := tx.BuildNoToYesMapping(yesIDs, idxByID)
		if err != nil {
			return nil, err
		}
		noToYes = make(map[string]poolstate.NoYesMapping, len(entries))
		for noID, e := range entries {
			noToYes[noID.String()] = poolstate.NoYesMapping{YesOptionID: e.YesOptionID.String(), PoolIdx: e.PoolIdx}
		}
	}

	bF, _ := pool.B.Float64()
	state, err := poolstate.New(market.ID.String(), pool.ID.String(), bF, pool.FeeBps, optionIDs, optionIndexes, q, noToYes, isExclusive)
	if err != nil {
		return nil, err
	}

	return &lockedPool{market: market, event: event, pool: pool, poolRows: rows, state: state, isExclusive: isExclusive}, nil
}

// applyQDeltas persists the q-vector change(s) a quote implies: a single
// target-index delta for a plain YES-side trade, or the whole NoBuyDeltas/
// NoSellDeltas vector for a NO-side trade in an exclusive pool.
func (e *Engine) applyQDeltas(tx *ledger.Tx, lp *lockedPool, targetIdx int, isNoSide bool, res *quote.Result, side types.Side, nowStr string) error {
	deltas := make([]float64, len(lp.poolRows))
	if isNoSide {
		if side == types.SideBuy {
			copy(deltas, res.NoBuyDeltas)
		} else {
			copy(deltas, res.NoSellDeltas)
		}
	} else {
		var shareDelta decimal.Decimal
		if side == types.SideBuy {
			shareDelta = res.SharesOut
		} else {
			shareDelta = res.SharesIn.Neg()
		}
		f, _ := shareDelta.Float64()
		deltas[targetIdx] = f
	}

	for i, d := range deltas {
		if d == 0 {
			continue
		}
		qBefore, err := decimal.NewFromString(lp.poolRows[i].Q)
		if err != nil {
			return err
		}
		qAfter := money.QuantizeQ(qBefore.Add(decimal.NewFromFloat(d)))
		if err := tx.UpdateOptionStateQ(lp.poolRows[i].OptionID, qAfter, nowStr); err != nil {
			return err
		}
		lp.poolRows[i].Q = qAfter.String()
	}
	return nil
}

// recordBestEffortSideEffects updates per-option volume/price stats and the
// time-bucketed probability series. It runs inside the trade's write
// transaction, after the core trade rows are written and before commit.
// Failures here are logged, never propagated, so a bookkeeping error does
// not fail or roll back the trade.
func (e *Engine) recordBestEffortSideEffects(tx *ledger.Tx, lp *lockedPool, res *quote.Result, side types.Side, volume decimal.Decimal, now time.Time) {
	bucket := now.Truncate(priceSeriesBucket)
	nowStr := now.UTC().Format(time.RFC3339Nano)

	for i, bps := range res.PostProbBps {
		if i >= len(lp.poolRows) {
			continue
		}
		probDec := decimal.New(int64(bps), -4)
		optID := lp.poolRows[i].OptionID
		vol := decimal.Zero
		if optID.String() == res.OptionID {
			vol = volume
		}
		if err := tx.UpsertOptionStats(optID, vol, side, probDec, nowStr); err != nil {
			e.logger.Warn("option stats update failed", "option_id", optID, "err", err)
		}
		if err := tx.InsertOptionSeriesPoint(&types.MarketOptionSeries{
			ID: uuid.New(), OptionID: optID, BucketStart: bucket, Probability: probDec, CreatedAt: now,
		}); err != nil {
			e.logger.Warn("option series insert failed", "option_id", optID, "err", err)
		}
	}
}

func checkBuySlippage(minSharesOut *decimal.Decimal, maxSlippageBps *int, sharesOut decimal.Decimal, avgPriceBps, expectedBps int) error {
	if minSharesOut != nil && sharesOut.LessThan(*minSharesOut) {
		return errs.SlippageProtection(fmt.Sprintf("shares_out %s below min_shares_out %s", sharesOut.String(), minSharesOut.String()))
	}
	if maxSlippageBps != nil {
		limit := expectedBps * (10000 + *maxSlippageBps) / 10000
		if avgPriceBps > limit {
			return errs.SlippageProtection(fmt.Sprintf("avg_price_bps %d exceeds limit %d", avgPriceBps, limit))
		}
	}
	return nil
}

func checkSellSlippage(minAmountOut *decimal.Decimal, maxSlippageBps *int, amountOut decimal.Decimal, avgPriceBps, expectedBps int) error {
	if minAmountOut != nil && amountOut.LessThan(*minAmountOut) {
		return errs.SlippageProtection(fmt.Sprintf("amount_out %s below min_amount_out %s", amountOut.String(), minAmountOut.String()))
	}
	if maxSlippageBps != nil {
		limit := expectedBps * (10000 - *maxSlippageBps) / 10000
		if avgPriceBps < limit {
			return errs.SlippageProtection(fmt.Sprintf("avg_price_bps %d below limit %d", avgPriceBps, limit))
		}
	}
	return nil
}

// ensureWallet resolves a trading wallet: an explicit id, else the user's
// primary wallet, else any wallet, else a freshly created web2 placeholder.
func (e *Engine) ensureWallet(tx *ledger.Tx, userID uuid.UUID, walletID *uuid.UUID) (*types.Wallet, error) {
	if walletID != nil {
		w, err := tx.GetWallet(*walletID)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, errs.WalletNotFound(walletID.String())
		}
		return w, err
	}

	w, err := tx.GetPrimaryWallet(userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	w, err = tx.GetAnyWallet(userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}

	placeholder := &types.Wallet{
		ID: uuid.New(), UserID: userID, Address: fmt.Sprintf("web2-%s", userID.String()),
		Kind: types.WalletKindWeb2Virtual, IsPrimary: true, CreatedAt: e.now(),
	}
	if err := tx.CreateWallet(placeholder); err != nil {
		return nil, err
	}
	return placeholder, nil
}

func (e *Engine) getOrCreateBalance(tx *ledger.Tx, walletID uuid.UUID, token string) (*types.BalanceSnapshot, error) {
	b, err := tx.GetBalance(walletID, token)
	if errors.Is(err, ledger.ErrNotFound) {
		return &types.BalanceSnapshot{WalletID: walletID, CollateralToken: token, Amount: decimal.Zero, UpdatedAt: e.now()}, nil
	}
	return b, err
}

func (e *Engine) getOrCreatePosition(tx *ledger.Tx, walletID, optionID uuid.UUID) (*types.Position, error) {
	p, err := tx.GetPosition(walletID, optionID)
	if errors.Is(err, ledger.ErrNotFound) {
		return &types.Position{ID: uuid.New(), WalletID: walletID, OptionID: optionID, Shares: decimal.Zero, CostBasis: decimal.Zero, UpdatedAt: e.now()}, nil
	}
	return p, err
}

func strPtr(s string) *string { return &s }

// Package poolsetup creates and idempotently backfills the AMM pool and
// per-option q-state rows a market or exclusive event needs before it can
// be traded against. It never mutates an existing pool's parameters; it
// only creates the pool if missing and fills in any option states a
// concurrent caller hasn't already written.
package poolsetup

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammcore/internal/errs"
	"ammcore/internal/ledger"
	"ammcore/internal/types"
)

// DefaultModel, DefaultB, DefaultFeeBps, DefaultCollateralToken are the
// fallback AMM parameters used when a caller supplies none, matching a
// legacy client that predates explicit per-market AMM configuration.
const (
	DefaultModel           = "lmsr"
	DefaultFeeBps          = 0
	DefaultCollateralToken = "USDC"
)

// DefaultB is the liquidity parameter used when neither an explicit b nor
// an initial funding amount is supplied.
var DefaultB = decimal.RequireFromString("10000")

// BPrecision is the number of decimal places the liquidity parameter b (and
// any b derived from a funding amount) is quantized to.
const BPrecision = 18

// ComputeBFromFunding derives the LMSR liquidity parameter b from an
// initial funding amount F and outcome count N: b = F / ln(N). Larger b
// means deeper liquidity and flatter price response per share traded.
func ComputeBFromFunding(fundingAmount decimal.Decimal, numOutcomes int) (decimal.Decimal, error) {
	if fundingAmount.Sign() <= 0 {
		return decimal.Zero, errs.InvalidParam("funding_amount", "must be positive")
	}
	if numOutcomes < 2 {
		return decimal.Zero, errs.InvalidParam("num_outcomes", "must be at least 2")
	}
	lnN := math.Log(float64(numOutcomes))
	b := fundingAmount.Div(decimal.NewFromFloat(lnN))
	return b.Round(BPrecision), nil
}

// ParamsInput is the caller-supplied AMM configuration for a new pool. Any
// field left nil falls back to a default, or (for B) is auto-computed from
// InitialFundingAmount when both it and numOutcomes are known.
type ParamsInput struct {
	Model                *string
	B                    *decimal.Decimal
	FeeBps               *int
	CollateralToken      *string
	InitialFundingAmount *decimal.Decimal
}

// Params is the fully resolved, validated AMM configuration ready to be
// written into a new pool row.
type Params struct {
	Model            string
	B                decimal.Decimal
	FeeBps           int
	CollateralToken  string
	CollateralAmount decimal.Decimal
}

// NormalizeAmmParams validates and fills in a ParamsInput. When
// InitialFundingAmount is set and numOutcomes is non-nil, B is
// auto-computed via ComputeBFromFunding and CollateralAmount is set to the
// funding amount; otherwise B falls back to the input's explicit value, or
// DefaultB.
func NormalizeAmmParams(in ParamsInput, numOutcomes *int) (Params, error) {
	model := DefaultModel
	if in.Model != nil {
		model = *in.Model
	}
	if model != "lmsr" && model != "cpmm" {
		return Params{}, errs.InvalidParam("model", "must be one of [lmsr cpmm]")
	}

	var b, collateralAmount decimal.Decimal
	if in.InitialFundingAmount != nil {
		if in.InitialFundingAmount.Sign() <= 0 {
			return Params{}, errs.InvalidParam("initial_funding_amount", "must be positive")
		}
		collateralAmount = *in.InitialFundingAmount
		if numOutcomes != nil {
			computed, err := ComputeBFromFunding(collateralAmount, *numOutcomes)
			if err != nil {
				return Params{}, err
			}
			b = computed
		} else if in.B != nil {
			b = *in.B
		} else {
			b = DefaultB
		}
	} else {
		collateralAmount = decimal.Zero
		if in.B != nil {
			b = *in.B
		} else {
			b = DefaultB
		}
	}
	if b.Sign() <= 0 {
		return Params{}, errs.InvalidParam("b", "must be positive")
	}

	feeBps := DefaultFeeBps
	if in.FeeBps != nil {
		feeBps = *in.FeeBps
	}
	if feeBps < 0 || feeBps > 10000 {
		return Params{}, errs.InvalidParam("fee_bps", "must be between 0 and 10000")
	}

	collateralToken := DefaultCollateralToken
	if in.CollateralToken != nil {
		collateralToken = *in.CollateralToken
	}
	if collateralToken == "" {
		return Params{}, errs.InvalidParam("collateral_token", "is required")
	}

	return Params{
		Model:            model,
		B:                b,
		FeeBps:           feeBps,
		CollateralToken:  collateralToken,
		CollateralAmount: collateralAmount,
	}, nil
}

// Engine creates and backfills AMM pools.
type Engine struct {
	store  *ledger.Store
	logger *slog.Logger
	now    func() time.Time
}

// New builds a pool-setup engine.
func New(store *ledger.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger.With("component", "poolsetup"), now: time.Now}
}

// EnsurePoolInitializedForMarket creates (or fetches, if another caller won
// the race) the market-level pool for a standalone or independent market,
// backfilling any missing option states. Idempotent.
func (e *Engine) EnsurePoolInitializedForMarket(ctx context.Context, marketID uuid.UUID, in ParamsInput, createdBy *uuid.UUID) (*types.AmmPool, error) {
	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	market, err := tx.GetMarket(marketID)
	if err != nil {
		return nil, err
	}

	options, err := tx.ListActiveOptionsByMarket(marketID)
	if err != nil {
		return nil, err
	}
	optionIDs := make([]uuid.UUID, len(options))
	for i, o := range options {
		optionIDs[i] = o.ID
	}

	numOutcomes := len(optionIDs)
	if numOutcomes == 0 {
		numOutcomes = 2
	}
	params, err := NormalizeAmmParams(in, &numOutcomes)
	if err != nil {
		return nil, err
	}

	pool, err := tx.GetPoolByMarket(marketID)
	if err != nil {
		if err != ledger.ErrNotFound {
			return nil, err
		}
		pool = &types.AmmPool{
			ID:               uuid.New(),
			MarketID:         &market.ID,
			Model:            params.Model,
			Status:           types.PoolStatusActive,
			B:                params.B,
			FeeBps:           params.FeeBps,
			CollateralToken:  params.CollateralToken,
			FundingAmount:    params.CollateralAmount,
			CollectedFee:     decimal.Zero,
			CollateralAmount: params.CollateralAmount,
			PoolCash:         decimal.Zero,
			CreatedBy:        createdBy,
			CreatedAt:        e.now(),
			UpdatedAt:        e.now(),
		}
		if err := tx.CreatePool(pool); err != nil {
			if err == ledger.ErrAlreadyExists {
				pool, err = tx.GetPoolByMarket(marketID)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
	}

	if err := e.backfillOptionStates(tx, pool.ID, optionIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pool, nil
}

// EnsurePoolInitializedForEvent creates (or fetches) the event-level pool
// shared by all of an exclusive event's constituent markets. The pool
// tracks exactly one canonical option per market: the side='yes' option
// where one exists, falling back to the lowest option_index option with a
// logged warning so the fallback never silently inverts a market.
func (e *Engine) EnsurePoolInitializedForEvent(ctx context.Context, eventID uuid.UUID, in ParamsInput, createdBy *uuid.UUID) (*types.AmmPool, error) {
	tx, err := e.store.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	event, err := tx.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	if event.GroupRule != types.GroupRuleExclusive {
		return nil, errs.InvalidParam("event", "event-level pool is only allowed for group_rule=exclusive")
	}

	optionIDs, err := e.selectExclusiveEventOptionIDs(tx, eventID)
	if err != nil {
		return nil, err
	}

	numOutcomes := len(optionIDs)
	if numOutcomes == 0 {
		numOutcomes = 2
	}
	params, err := NormalizeAmmParams(in, &numOutcomes)
	if err != nil {
		return nil, err
	}

	pool, err := tx.GetPoolByEvent(eventID)
	if err != nil {
		if err != ledger.ErrNotFound {
			return nil, err
		}
		pool = &types.AmmPool{
			ID:               uuid.New(),
			EventID:          &event.ID,
			Model:            params.Model,
			Status:           types.PoolStatusActive,
			B:                params.B,
			FeeBps:           params.FeeBps,
			CollateralToken:  params.CollateralToken,
			FundingAmount:    params.CollateralAmount,
			CollectedFee:     decimal.Zero,
			CollateralAmount: params.CollateralAmount,
			PoolCash:         decimal.Zero,
			CreatedBy:        createdBy,
			CreatedAt:        e.now(),
			UpdatedAt:        e.now(),
		}
		if err := tx.CreatePool(pool); err != nil {
			if err == ledger.ErrAlreadyExists {
				pool, err = tx.GetPoolByEvent(eventID)
				if err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
	}

	if err := e.backfillOptionStates(tx, pool.ID, optionIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pool, nil
}

func (e *Engine) backfillOptionStates(tx *ledger.Tx, poolID uuid.UUID, optionIDs []uuid.UUID) error {
	if len(optionIDs) == 0 {
		return nil
	}
	states := make([]*types.AmmPoolOptionState, len(optionIDs))
	for i, optID := range optionIDs {
		states[i] = &types.AmmPoolOptionState{
			OptionID:  optID,
			PoolID:    poolID,
			Q:         decimal.Zero,
			CreatedAt: e.now(),
			UpdatedAt: e.now(),
		}
	}
	return tx.BulkInsertOptionStates(states)
}

// selectExclusiveEventOptionIDs picks one canonical option per market in
// the event, preferring the side='yes' option. A market whose options have
// no explicit yes side falls back to the lowest option_index/id option and
// logs a warning, since silently tracking a NO option as the pool's
// canonical leg would invert every price the pool reports for that market.
func (e *Engine) selectExclusiveEventOptionIDs(tx *ledger.Tx, eventID uuid.UUID) ([]uuid.UUID, error) {
	markets, err := tx.ListMarketsByEvent(eventID)
	if err != nil {
		return nil, err
	}
	if len(markets) == 0 {
		return nil, nil
	}

	var out []uuid.UUID
	for _, m := range markets {
		options, err := tx.ListActiveOptionsByMarket(m.ID)
		if err != nil {
			return nil, err
		}
		if len(options) == 0 {
			continue
		}
		chosen := options[0]
		for _, o := range options[1:] {
			if chosen.Side != types.OptionSideYes && o.Side == types.OptionSideYes {
				chosen = o
			}
		}
		if chosen.Side != types.OptionSideYes {
			e.logger.Warn("exclusive pool: market has no side=yes option, using fallback",
				"market_id", m.ID, "option_id", chosen.ID, "side", chosen.Side, "option_index", chosen.OptionIndex)
		}
		out = append(out, chosen.ID)
	}
	return out, nil
}

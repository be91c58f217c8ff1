// Package types defines the shared domain model for the AMM core: events,
// markets, options, pools, positions, and the ledger rows that record
// trading activity. It has no dependencies on any other internal package,
// so it can be imported from every layer.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// MarketStatus is the lifecycle state of a single tradable market.
type MarketStatus string

const (
	MarketStatusDraft    MarketStatus = "draft"
	MarketStatusActive   MarketStatus = "active"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
	MarketStatusVoided   MarketStatus = "voided"
)

// EventStatus is the lifecycle state of the event a market belongs to.
type EventStatus string

const (
	EventStatusActive   EventStatus = "active"
	EventStatusClosed   EventStatus = "closed"
	EventStatusResolved EventStatus = "resolved"
	EventStatusVoided   EventStatus = "voided"
)

// GroupRule describes how an event's child markets relate to each other
// for pool-construction purposes. Exclusive events share a single pool
// across all child markets; independent events get one pool per market.
type GroupRule string

const (
	GroupRuleExclusive   GroupRule = "exclusive"
	GroupRuleIndependent GroupRule = "independent"
)

// Side is the trade direction requested by a caller.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OptionSide distinguishes the canonical YES leg of a binary option from
// its NO complement. Exclusive-event pools track only the YES leg of each
// child market as a pool option; NO exposure is synthesized at quote time.
type OptionSide string

const (
	OptionSideYes OptionSide = "yes"
	OptionSideNo  OptionSide = "no"
)

// PoolStatus mirrors MarketStatus but for the AMM pool record itself, since
// a pool can be wound down independently of the market status flip.
type PoolStatus string

const (
	PoolStatusActive   PoolStatus = "active"
	PoolStatusSettling PoolStatus = "settling"
	PoolStatusSettled  PoolStatus = "settled"
)

// ————————————————————————————————————————————————————————————————————————
// Event / market metadata
// ————————————————————————————————————————————————————————————————————————

// Event groups one or more markets that resolve together under a single
// group rule (exclusive vs. independent).
type Event struct {
	ID                  uuid.UUID
	Slug                string
	Title               string
	Status              EventStatus
	GroupRule           GroupRule
	SortWeight          int
	IsHidden            bool
	TradingDeadline     *time.Time
	ResolutionDeadline  *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Market is a single tradable question, optionally grouped under an Event.
type Market struct {
	ID                 uuid.UUID
	EventID            *uuid.UUID
	Slug               string
	Title              string
	Status             MarketStatus
	SortWeight         int
	IsHidden           bool
	TradingDeadline    *time.Time
	ResolutionDeadline *time.Time
	ResolvedOptionID   *uuid.UUID
	// SettledAt is set once SettleMarket (or the settle half of
	// ResolveAndSettleMarket) has fully paid out every winning position with
	// no partial wallet left outstanding. ResolveMarket's idempotent
	// shortcut requires both Status == Resolved and SettledAt != nil --
	// a resolved-but-unsettled market is a valid recovery state and must
	// still accept a (possibly different) winning option.
	SettledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarketOption is one outcome of a Market (e.g. "Yes" or a named runner in
// a multi-outcome market). OptionIndex is the stable position of this
// option within its market's q-vector.
type MarketOption struct {
	ID          uuid.UUID
	MarketID    uuid.UUID
	OptionIndex int
	Side        OptionSide
	Label       string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MarketOptionStats tracks running trading-volume aggregates per option,
// updated as a best-effort side effect of trade execution.
type MarketOptionStats struct {
	OptionID     uuid.UUID
	VolumeBuy    decimal.Decimal
	VolumeSell   decimal.Decimal
	LastPrice    decimal.Decimal
	LastTradedAt *time.Time
	UpdatedAt    time.Time
}

// MarketOptionSeries is one point of a time-bucketed probability/price
// history recorded for charting, written best-effort after each trade.
type MarketOptionSeries struct {
	ID          uuid.UUID
	OptionID    uuid.UUID
	BucketStart time.Time
	Probability decimal.Decimal
	CreatedAt   time.Time
}

// ————————————————————————————————————————————————————————————————————————
// AMM pool state
// ————————————————————————————————————————————————————————————————————————

// AmmPool is the LMSR liquidity pool backing either a single Market or an
// entire exclusive Event, depending on GroupRule.
type AmmPool struct {
	ID               uuid.UUID
	MarketID         *uuid.UUID
	EventID          *uuid.UUID
	Model            string
	Status           PoolStatus
	B                decimal.Decimal
	FeeBps           int
	CollateralToken  string
	FundingAmount    decimal.Decimal
	CollectedFee     decimal.Decimal
	CollateralAmount decimal.Decimal
	PoolCash         decimal.Decimal
	FeeRecipientUser *uuid.UUID
	CreatedBy        *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AmmPoolOptionState holds the LMSR q value for one pool option. Each row
// is keyed by OptionID, one-to-one with a MarketOption.
type AmmPoolOptionState struct {
	OptionID  uuid.UUID
	PoolID    uuid.UUID
	Q         decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Users, wallets, balances, positions
// ————————————————————————————————————————————————————————————————————————

// User is a trading participant.
type User struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
}

// WalletKind distinguishes an on-chain-capable wallet from a placeholder
// web2 account used purely for bookkeeping.
type WalletKind string

const (
	WalletKindWeb3        WalletKind = "web3"
	WalletKindWeb2Virtual WalletKind = "web2_virtual"
)

// Wallet is a funding source for a User. A user may have more than one;
// resolution picks explicit > primary > any > auto-created placeholder.
type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Address   string
	Kind      WalletKind
	IsPrimary bool
	CreatedAt time.Time
}

// BalanceSnapshot is the current spendable collateral balance of a Wallet
// in a given collateral token.
type BalanceSnapshot struct {
	WalletID        uuid.UUID
	CollateralToken string
	Amount          decimal.Decimal
	UpdatedAt       time.Time
}

// Position is a Wallet's current share holding in one MarketOption.
type Position struct {
	ID        uuid.UUID
	WalletID  uuid.UUID
	OptionID  uuid.UUID
	Shares    decimal.Decimal
	CostBasis decimal.Decimal
	UpdatedAt time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Order intents, trades, settlement
// ————————————————————————————————————————————————————————————————————————

// OrderIntent is the audit record of a trade request: execution builds one
// from each BuyRequest/SellRequest it executes and writes it in the same
// transaction. WalletID holds the wallet the trade was booked against,
// after execution's wallet fallback chain has resolved it.
type OrderIntent struct {
	ID             uuid.UUID
	MarketID       uuid.UUID
	OptionID       uuid.UUID
	WalletID       *uuid.UUID
	Side           Side
	AmountIn       *decimal.Decimal
	SharesIn       *decimal.Decimal
	MinSharesOut   *decimal.Decimal
	MinAmountOut   *decimal.Decimal
	MaxSlippageBps *int
	CreatedAt      time.Time
}

// Trade is the immutable record of a filled OrderIntent.
type Trade struct {
	ID          uuid.UUID
	MarketID    uuid.UUID
	OptionID    uuid.UUID
	WalletID    uuid.UUID
	Side        Side
	SharesDelta decimal.Decimal
	AmountGross decimal.Decimal
	FeeAmount   decimal.Decimal
	AmountNet   decimal.Decimal
	PriceAfter  decimal.Decimal
	TxHash      string
	CreatedAt   time.Time
}

// SettlementStatus is the outcome recorded for a MarketSettlement row.
type SettlementStatus string

const (
	SettlementStatusPending SettlementStatus = "pending"
	SettlementStatusPaid    SettlementStatus = "paid"
	SettlementStatusPartial SettlementStatus = "partial"
)

// MarketSettlement is the idempotency record and payout ledger entry for
// one wallet's payout on one resolved market. SettlementTxID is unique and
// is the mechanism used to make resolve-and-settle safe to retry.
type MarketSettlement struct {
	ID               uuid.UUID
	MarketID         uuid.UUID
	WalletID         uuid.UUID
	OptionID         uuid.UUID
	Shares           decimal.Decimal
	PayoutAmount     decimal.Decimal
	Status           SettlementStatus
	SettlementTxID   string
	CreatedAt        time.Time
}

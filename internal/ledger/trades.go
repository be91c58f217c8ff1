package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammcore/internal/types"
)

func nullDecimalToStr(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func strToNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullIntToPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func intToNullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

// CreateOrderIntent records the caller's original request, primarily for
// audit trail; execution builds the OrderIntent from its own request struct
// and reads nothing back from storage.
func (t *Tx) CreateOrderIntent(o *types.OrderIntent) error {
	_, err := t.tx.Exec(
		`INSERT INTO order_intents (id, market_id, option_id, wallet_id, side, amount_in, shares_in, min_shares_out, min_amount_out, max_slippage_bps, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.MarketID.String(), o.OptionID.String(), uuidToNullStr(o.WalletID), string(o.Side),
		nullDecimalToStr(o.AmountIn), nullDecimalToStr(o.SharesIn), nullDecimalToStr(o.MinSharesOut),
		nullDecimalToStr(o.MinAmountOut), intToNullInt(o.MaxSlippageBps), timeToStr(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: create order intent: %w", err)
	}
	return nil
}

// CreateTrade inserts the immutable trade record for a filled order.
// tx_hash is unique, so a retried execution call with the same
// synthetic hash is reported as ErrAlreadyExists rather than double-booking.
func (t *Tx) CreateTrade(tr *types.Trade) error {
	_, err := t.tx.Exec(
		`INSERT INTO trades (id, market_id, option_id, wallet_id, side, shares_delta, amount_gross, fee_amount, amount_net, price_after, tx_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID.String(), tr.MarketID.String(), tr.OptionID.String(), tr.WalletID.String(), string(tr.Side),
		tr.SharesDelta.String(), tr.AmountGross.String(), tr.FeeAmount.String(), tr.AmountNet.String(),
		tr.PriceAfter.String(), tr.TxHash, timeToStr(tr.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("ledger: create trade: %w", err)
	}
	return nil
}

// GetSettlementByTxID looks up an existing settlement row by its
// idempotency key. Returning the existing row lets
// resolve_and_settle_market-style callers treat a retried call as a
// success rather than an error.
func (t *Tx) GetSettlementByTxID(txID string) (*types.MarketSettlement, error) {
	row := t.tx.QueryRow(
		`SELECT id, market_id, wallet_id, option_id, shares, payout_amount, status, settlement_tx_id, created_at
		 FROM market_settlements WHERE settlement_tx_id = ?`, txID,
	)
	return scanSettlement(row)
}

func scanSettlement(row *sql.Row) (*types.MarketSettlement, error) {
	var idStr, marketIDStr, walletIDStr, optionIDStr, sharesStr, payoutStr, status, txID, createdAtStr string
	err := row.Scan(&idStr, &marketIDStr, &walletIDStr, &optionIDStr, &sharesStr, &payoutStr, &status, &txID, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan settlement: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	marketID, err := uuid.Parse(marketIDStr)
	if err != nil {
		return nil, err
	}
	walletID, err := uuid.Parse(walletIDStr)
	if err != nil {
		return nil, err
	}
	optionID, err := uuid.Parse(optionIDStr)
	if err != nil {
		return nil, err
	}
	shares, err := decimal.NewFromString(sharesStr)
	if err != nil {
		return nil, err
	}
	payout, err := decimal.NewFromString(payoutStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := strToTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	return &types.MarketSettlement{
		ID: id, MarketID: marketID, WalletID: walletID, OptionID: optionID, Shares: shares,
		PayoutAmount: payout, Status: types.SettlementStatus(status), SettlementTxID: txID, CreatedAt: createdAt,
	}, nil
}

// ListSettlementsByMarket returns every settlement row written for a
// market (one per wallet paid), used to report an idempotent "already
// settled" summary and to find any wallet left in partial status.
func (t *Tx) ListSettlementsByMarket(marketID uuid.UUID) ([]*types.MarketSettlement, error) {
	rows, err := t.tx.Query(
		`SELECT id, market_id, wallet_id, option_id, shares, payout_amount, status, settlement_tx_id, created_at
		 FROM market_settlements WHERE market_id = ? ORDER BY wallet_id ASC`,
		marketID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list settlements by market: %w", err)
	}
	defer rows.Close()

	var out []*types.MarketSettlement
	for rows.Next() {
		var idStr, marketIDStr, walletIDStr, optionIDStr, sharesStr, payoutStr, status, txID, createdAtStr string
		if err := rows.Scan(&idStr, &marketIDStr, &walletIDStr, &optionIDStr, &sharesStr, &payoutStr, &status, &txID, &createdAtStr); err != nil {
			return nil, fmt.Errorf("ledger: scan settlement row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		mID, err := uuid.Parse(marketIDStr)
		if err != nil {
			return nil, err
		}
		wID, err := uuid.Parse(walletIDStr)
		if err != nil {
			return nil, err
		}
		oID, err := uuid.Parse(optionIDStr)
		if err != nil {
			return nil, err
		}
		shares, err := decimal.NewFromString(sharesStr)
		if err != nil {
			return nil, err
		}
		payout, err := decimal.NewFromString(payoutStr)
		if err != nil {
			return nil, err
		}
		createdAt, err := strToTime(createdAtStr)
		if err != nil {
			return nil, err
		}
		out = append(out, &types.MarketSettlement{
			ID: id, MarketID: mID, WalletID: wID, OptionID: oID, Shares: shares,
			PayoutAmount: payout, Status: types.SettlementStatus(status), SettlementTxID: txID, CreatedAt: createdAt,
		})
	}
	return out, rows.Err()
}

// CreateSettlement inserts a settlement row. A unique violation on
// settlement_tx_id means a concurrent or retried call already settled
// this wallet for this market; the caller should re-fetch via
// GetSettlementByTxID and treat it as already-done.
func (t *Tx) CreateSettlement(s *types.MarketSettlement) error {
	_, err := t.tx.Exec(
		`INSERT INTO market_settlements (id, market_id, wallet_id, option_id, shares, payout_amount, status, settlement_tx_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.MarketID.String(), s.WalletID.String(), s.OptionID.String(), s.Shares.String(),
		s.PayoutAmount.String(), string(s.Status), s.SettlementTxID, timeToStr(s.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("ledger: create settlement: %w", err)
	}
	return nil
}

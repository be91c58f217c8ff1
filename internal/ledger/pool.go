package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammcore/internal/types"
)

// GetPoolByMarket returns the pool with this exact market_id, or
// ErrNotFound if none exists (the caller then checks for an event-level
// pool via GetPoolByEvent, matching pool_utils.load_pool_for_market).
func (t *Tx) GetPoolByMarket(marketID uuid.UUID) (*types.AmmPool, error) {
	row := t.tx.QueryRow(poolSelectCols+`FROM amm_pools WHERE market_id = ?`, marketID.String())
	return scanPool(row)
}

// GetPoolByEvent returns the pool with this exact event_id.
func (t *Tx) GetPoolByEvent(eventID uuid.UUID) (*types.AmmPool, error) {
	row := t.tx.QueryRow(poolSelectCols+`FROM amm_pools WHERE event_id = ?`, eventID.String())
	return scanPool(row)
}

// GetPool fetches a pool by its own id.
func (t *Tx) GetPool(id uuid.UUID) (*types.AmmPool, error) {
	row := t.tx.QueryRow(poolSelectCols+`FROM amm_pools WHERE id = ?`, id.String())
	return scanPool(row)
}

const poolSelectCols = `SELECT id, market_id, event_id, model, status, b, fee_bps, collateral_token, funding_amount, collected_fee, collateral_amount, pool_cash, fee_recipient_user_id, created_by, created_at, updated_at `

func scanPool(row *sql.Row) (*types.AmmPool, error) {
	var (
		idStr                                    string
		marketID, eventID, feeRecipient, created sql.NullString
		model, status                            string
		bStr                                     string
		feeBps                                   int
		collateralToken                          string
		fundingStr, collectedStr, collateralStr  string
		poolCashStr                               string
		createdAtStr, updatedAtStr                string
	)
	err := row.Scan(&idStr, &marketID, &eventID, &model, &status, &bStr, &feeBps, &collateralToken,
		&fundingStr, &collectedStr, &collateralStr, &poolCashStr, &feeRecipient, &created, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan pool: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	mID, err := strToNullUUID(marketID)
	if err != nil {
		return nil, err
	}
	eID, err := strToNullUUID(eventID)
	if err != nil {
		return nil, err
	}
	frU, err := strToNullUUID(feeRecipient)
	if err != nil {
		return nil, err
	}
	crU, err := strToNullUUID(created)
	if err != nil {
		return nil, err
	}
	b, err := decimal.NewFromString(bStr)
	if err != nil {
		return nil, err
	}
	funding, err := decimal.NewFromString(fundingStr)
	if err != nil {
		return nil, err
	}
	collected, err := decimal.NewFromString(collectedStr)
	if err != nil {
		return nil, err
	}
	collateral, err := decimal.NewFromString(collateralStr)
	if err != nil {
		return nil, err
	}
	poolCash, err := decimal.NewFromString(poolCashStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := strToTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := strToTime(updatedAtStr)
	if err != nil {
		return nil, err
	}

	return &types.AmmPool{
		ID: id, MarketID: mID, EventID: eID, Model: model, Status: types.PoolStatus(status),
		B: b, FeeBps: feeBps, CollateralToken: collateralToken, FundingAmount: funding,
		CollectedFee: collected, CollateralAmount: collateral, PoolCash: poolCash,
		FeeRecipientUser: frU, CreatedBy: crU, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

// CreatePool inserts a new pool row. A unique-constraint violation on
// market_id/event_id (two concurrent writers racing to initialize the same
// pool) is reported back so the caller can re-fetch the winner's row,
// matching ensure_pool_initialized's IntegrityError-catch pattern -- even
// though this store serializes all writes through one mutex, the pattern
// is kept so the same code stays correct if the mutex is ever widened to
// one-per-shard.
func (t *Tx) CreatePool(p *types.AmmPool) error {
	_, err := t.tx.Exec(
		`INSERT INTO amm_pools (id, market_id, event_id, model, status, b, fee_bps, collateral_token, funding_amount, collected_fee, collateral_amount, pool_cash, fee_recipient_user_id, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), uuidToNullStr(p.MarketID), uuidToNullStr(p.EventID), p.Model, string(p.Status),
		p.B.String(), p.FeeBps, p.CollateralToken, p.FundingAmount.String(), p.CollectedFee.String(),
		p.CollateralAmount.String(), p.PoolCash.String(), uuidToNullStr(p.FeeRecipientUser), uuidToNullStr(p.CreatedBy),
		timeToStr(p.CreatedAt), timeToStr(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("ledger: create pool: %w", err)
	}
	return nil
}

// ErrAlreadyExists signals a unique-constraint race the caller should
// resolve by re-reading the winning row.
var ErrAlreadyExists = errors.New("ledger: already exists")

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// UpdatePoolCashAndFee applies the post-trade pool_cash/collected_fee
// delta. Buys add the gross amount paid (fee included) to pool_cash;
// sells subtract the net amount paid out to the seller. Both add the
// trade's fee to collected_fee.
func (t *Tx) UpdatePoolCashAndFee(poolID uuid.UUID, poolCash, collectedFee decimal.Decimal, updatedAt string) error {
	_, err := t.tx.Exec(
		`UPDATE amm_pools SET pool_cash = ?, collected_fee = ?, updated_at = ? WHERE id = ?`,
		poolCash.String(), collectedFee.String(), updatedAt, poolID.String(),
	)
	if err != nil {
		return fmt.Errorf("ledger: update pool cash/fee: %w", err)
	}
	return nil
}

// UpdatePoolStatus transitions a pool's lifecycle status (e.g. to
// "settling"/"settled" during market resolution).
func (t *Tx) UpdatePoolStatus(poolID uuid.UUID, status types.PoolStatus, updatedAt string) error {
	_, err := t.tx.Exec(`UPDATE amm_pools SET status = ?, updated_at = ? WHERE id = ?`, string(status), updatedAt, poolID.String())
	if err != nil {
		return fmt.Errorf("ledger: update pool status: %w", err)
	}
	return nil
}

// ListOptionStatesByPool returns every option-state row for a pool,
// ordered by the owning option's option_index -- this is the order the
// LMSR q-vector must be built in.
func (t *Tx) ListOptionStatesByPool(poolID uuid.UUID) ([]*types.AmmPoolOptionState, error) {
	rows, err := t.tx.Query(
		`SELECT s.option_id, s.pool_id, s.q, s.created_at, s.updated_at
		 FROM amm_pool_option_state s
		 JOIN market_options o ON o.id = s.option_id
		 WHERE s.pool_id = ? ORDER BY o.option_index ASC, s.option_id ASC`,
		poolID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list option states: %w", err)
	}
	defer rows.Close()

	var out []*types.AmmPoolOptionState
	for rows.Next() {
		st, err := scanOptionStateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanOptionStateRow(rows *sql.Rows) (*types.AmmPoolOptionState, error) {
	var optionIDStr, poolIDStr, qStr, createdAtStr, updatedAtStr string
	if err := rows.Scan(&optionIDStr, &poolIDStr, &qStr, &createdAtStr, &updatedAtStr); err != nil {
		return nil, fmt.Errorf("ledger: scan option state row: %w", err)
	}
	optionID, err := uuid.Parse(optionIDStr)
	if err != nil {
		return nil, err
	}
	poolID, err := uuid.Parse(poolIDStr)
	if err != nil {
		return nil, err
	}
	q, err := decimal.NewFromString(qStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := strToTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := strToTime(updatedAtStr)
	if err != nil {
		return nil, err
	}
	return &types.AmmPoolOptionState{OptionID: optionID, PoolID: poolID, Q: q, CreatedAt: createdAt, UpdatedAt: updatedAt}, nil
}

// UpdateOptionStateQ persists a new q value for one pool option, called
// once per affected option after a trade (including every option touched
// by a NO-side proportional distribution).
func (t *Tx) UpdateOptionStateQ(optionID uuid.UUID, q decimal.Decimal, updatedAt string) error {
	_, err := t.tx.Exec(`UPDATE amm_pool_option_state SET q = ?, updated_at = ? WHERE option_id = ?`, q.String(), updatedAt, optionID.String())
	if err != nil {
		return fmt.Errorf("ledger: update option state q: %w", err)
	}
	return nil
}

// BulkInsertOptionStates inserts option-state rows for a pool, ignoring
// rows whose option_id already has a state (the PK is option_id, so a
// conflict means a concurrent ensure_pool_initialized call already
// backfilled this option).
func (t *Tx) BulkInsertOptionStates(states []*types.AmmPoolOptionState) error {
	for _, s := range states {
		_, err := t.tx.Exec(
			`INSERT INTO amm_pool_option_state (option_id, pool_id, q, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?) ON CONFLICT(option_id) DO NOTHING`,
			s.OptionID.String(), s.PoolID.String(), s.Q.String(), timeToStr(s.CreatedAt), timeToStr(s.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("ledger: bulk insert option states: %w", err)
		}
	}
	return nil
}

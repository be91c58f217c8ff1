package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammcore/internal/types"
)

// CreateUser inserts a new user row.
func (t *Tx) CreateUser(u *types.User) error {
	_, err := t.tx.Exec(`INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)`,
		u.ID.String(), u.Username, timeToStr(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("ledger: create user: %w", err)
	}
	return nil
}

// CreateWallet inserts a new wallet row.
func (t *Tx) CreateWallet(w *types.Wallet) error {
	_, err := t.tx.Exec(
		`INSERT INTO wallets (id, user_id, address, kind, is_primary, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID.String(), w.UserID.String(), w.Address, string(w.Kind), boolToInt(w.IsPrimary), timeToStr(w.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: create wallet: %w", err)
	}
	return nil
}

// GetWallet fetches a wallet by its own id.
func (t *Tx) GetWallet(id uuid.UUID) (*types.Wallet, error) {
	row := t.tx.QueryRow(`SELECT id, user_id, address, kind, is_primary, created_at FROM wallets WHERE id = ?`, id.String())
	return scanWallet(row)
}

func scanWallet(row *sql.Row) (*types.Wallet, error) {
	var idStr, userIDStr, address, kind string
	var isPrimary int64
	var createdAtStr string
	err := row.Scan(&idStr, &userIDStr, &address, &kind, &isPrimary, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan wallet: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := strToTime(createdAtStr)
	if err != nil {
		return nil, err
	}
	return &types.Wallet{ID: id, UserID: userID, Address: address, Kind: types.WalletKind(kind), IsPrimary: intToBool(isPrimary), CreatedAt: createdAt}, nil
}

// GetPrimaryWallet returns a user's primary wallet, or ErrNotFound.
func (t *Tx) GetPrimaryWallet(userID uuid.UUID) (*types.Wallet, error) {
	row := t.tx.QueryRow(
		`SELECT id, user_id, address, kind, is_primary, created_at FROM wallets WHERE user_id = ? AND is_primary = 1 LIMIT 1`,
		userID.String(),
	)
	return scanWallet(row)
}

// GetAnyWallet returns any one of a user's wallets (oldest first), or
// ErrNotFound if the user has none.
func (t *Tx) GetAnyWallet(userID uuid.UUID) (*types.Wallet, error) {
	row := t.tx.QueryRow(
		`SELECT id, user_id, address, kind, is_primary, created_at FROM wallets WHERE user_id = ? ORDER BY created_at ASC LIMIT 1`,
		userID.String(),
	)
	return scanWallet(row)
}

// GetBalance returns a wallet's balance snapshot for one collateral
// token, or ErrNotFound if the wallet has never held that token.
func (t *Tx) GetBalance(walletID uuid.UUID, collateralToken string) (*types.BalanceSnapshot, error) {
	row := t.tx.QueryRow(
		`SELECT wallet_id, collateral_token, amount, updated_at FROM balance_snapshots WHERE wallet_id = ? AND collateral_token = ?`,
		walletID.String(), collateralToken,
	)
	var walletIDStr, token, amountStr, updatedAtStr string
	err := row.Scan(&walletIDStr, &token, &amountStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan balance: %w", err)
	}
	id, err := uuid.Parse(walletIDStr)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := strToTime(updatedAtStr)
	if err != nil {
		return nil, err
	}
	return &types.BalanceSnapshot{WalletID: id, CollateralToken: token, Amount: amount, UpdatedAt: updatedAt}, nil
}

// UpsertBalance writes a wallet's new balance for one collateral token.
func (t *Tx) UpsertBalance(b *types.BalanceSnapshot) error {
	_, err := t.tx.Exec(
		`INSERT INTO balance_snapshots (wallet_id, collateral_token, amount, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(wallet_id, collateral_token) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		b.WalletID.String(), b.CollateralToken, b.Amount.String(), timeToStr(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: upsert balance: %w", err)
	}
	return nil
}

// GetPosition returns a wallet's share holding in one option, or
// ErrNotFound if the wallet has never held that option.
func (t *Tx) GetPosition(walletID, optionID uuid.UUID) (*types.Position, error) {
	row := t.tx.QueryRow(
		`SELECT id, wallet_id, option_id, shares, cost_basis, updated_at FROM positions WHERE wallet_id = ? AND option_id = ?`,
		walletID.String(), optionID.String(),
	)
	var idStr, walletIDStr, optionIDStr, sharesStr, costBasisStr, updatedAtStr string
	err := row.Scan(&idStr, &walletIDStr, &optionIDStr, &sharesStr, &costBasisStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan position: %w", err)
	}
	id, err := uuid.Parse(idStr)
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
	costBasis, err := decimal.NewFromString(costBasisStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := strToTime(updatedAtStr)
	if err != nil {
		return nil, err
	}
	return &types.Position{ID: id, WalletID: wID, OptionID: oID, Shares: shares, CostBasis: costBasis, UpdatedAt: updatedAt}, nil
}

// UpsertPosition writes (or creates) a wallet's holding in one option.
func (t *Tx) UpsertPosition(p *types.Position) error {
	_, err := t.tx.Exec(
		`INSERT INTO positions (id, wallet_id, option_id, shares, cost_basis, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(wallet_id, option_id) DO UPDATE SET shares = excluded.shares, cost_basis = excluded.cost_basis, updated_at = excluded.updated_at`,
		p.ID.String(), p.WalletID.String(), p.OptionID.String(), p.Shares.String(), p.CostBasis.String(), timeToStr(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: upsert position: %w", err)
	}
	return nil
}

// DeletePosition removes a position row entirely, used by the dust
// cleanup path when a sell-all leaves a near-zero residual.
func (t *Tx) DeletePosition(walletID, optionID uuid.UUID) error {
	_, err := t.tx.Exec(`DELETE FROM positions WHERE wallet_id = ? AND option_id = ?`, walletID.String(), optionID.String())
	if err != nil {
		return fmt.Errorf("ledger: delete position: %w", err)
	}
	return nil
}

// ListPositionsByMarketOrderedByWallet returns every position on any
// option of a market, ordered by wallet id -- the order settlement locks
// balances in, to match the execution engine's own lock order and avoid
// deadlocks between concurrent trade and settlement transactions.
func (t *Tx) ListPositionsByMarketOrderedByWallet(marketID uuid.UUID) ([]*types.Position, error) {
	rows, err := t.tx.Query(
		`SELECT p.id, p.wallet_id, p.option_id, p.shares, p.cost_basis, p.updated_at
		 FROM positions p
		 JOIN market_options o ON o.id = p.option_id
		 WHERE o.market_id = ? AND p.shares > 0
		 ORDER BY p.wallet_id ASC`,
		marketID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list positions by market: %w", err)
	}
	defer rows.Close()

	var out []*types.Position
	for rows.Next() {
		var idStr, walletIDStr, optionIDStr, sharesStr, costBasisStr, updatedAtStr string
		if err := rows.Scan(&idStr, &walletIDStr, &optionIDStr, &sharesStr, &costBasisStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("ledger: scan position row: %w", err)
		}
		id, err := uuid.Parse(idStr)
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
		costBasis, err := decimal.NewFromString(costBasisStr)
		if err != nil {
			return nil, err
		}
		updatedAt, err := strToTime(updatedAtStr)
		if err != nil {
			return nil, err
		}
		out = append(out, &types.Position{ID: id, WalletID: wID, OptionID: oID, Shares: shares, CostBasis: costBasis, UpdatedAt: updatedAt})
	}
	return out, rows.Err()
}

package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ammcore/internal/types"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("ledger: not found")

// CreateEvent inserts a new event row.
func (t *Tx) CreateEvent(e *types.Event) error {
	_, err := t.tx.Exec(
		`INSERT INTO events (id, slug, title, status, group_rule, sort_weight, is_hidden, trading_deadline, resolution_deadline, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Slug, e.Title, string(e.Status), string(e.GroupRule), e.SortWeight, boolToInt(e.IsHidden),
		nullTimeToStr(e.TradingDeadline), nullTimeToStr(e.ResolutionDeadline), timeToStr(e.CreatedAt), timeToStr(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: create event: %w", err)
	}
	return nil
}

// GetEvent fetches an event by id. Within a write transaction this doubles
// as "lock event" since only one write transaction is ever in flight.
func (t *Tx) GetEvent(id uuid.UUID) (*types.Event, error) {
	row := t.tx.QueryRow(
		`SELECT id, slug, title, status, group_rule, sort_weight, is_hidden, trading_deadline, resolution_deadline, created_at, updated_at
		 FROM events WHERE id = ?`, id.String(),
	)
	return scanEvent(row)
}

func scanEvent(row *sql.Row) (*types.Event, error) {
	var (
		idStr, slug, title, status, groupRule string
		sortWeight                            int
		isHidden                               int64
		tradingDeadline, resolutionDeadline    sql.NullString
		createdAtStr, updatedAtStr             string
	)
	err := row.Scan(&idStr, &slug, &title, &status, &groupRule, &sortWeight, &isHidden, &tradingDeadline, &resolutionDeadline, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan event: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	td, err := strToNullTime(tradingDeadline)
	if err != nil {
		return nil, err
	}
	rd, err := strToNullTime(resolutionDeadline)
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

	return &types.Event{
		ID:                 id,
		Slug:               slug,
		Title:              title,
		Status:             types.EventStatus(status),
		GroupRule:          types.GroupRule(groupRule),
		SortWeight:         sortWeight,
		IsHidden:           intToBool(isHidden),
		TradingDeadline:    td,
		ResolutionDeadline: rd,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}

// UpdateEventStatus transitions an event's lifecycle status, used by
// settlement's cascade once every constituent market has resolved or
// voided.
func (t *Tx) UpdateEventStatus(id uuid.UUID, status types.EventStatus, updatedAt string) error {
	_, err := t.tx.Exec(`UPDATE events SET status = ?, updated_at = ? WHERE id = ?`, string(status), updatedAt, id.String())
	if err != nil {
		return fmt.Errorf("ledger: update event status: %w", err)
	}
	return nil
}

// CreateMarket inserts a new market row.
func (t *Tx) CreateMarket(m *types.Market) error {
	_, err := t.tx.Exec(
		`INSERT INTO markets (id, event_id, slug, title, status, sort_weight, is_hidden, trading_deadline, resolution_deadline, resolved_option_id, settled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID.String(), uuidToNullStr(m.EventID), m.Slug, m.Title, string(m.Status), m.SortWeight, boolToInt(m.IsHidden),
		nullTimeToStr(m.TradingDeadline), nullTimeToStr(m.ResolutionDeadline), uuidToNullStr(m.ResolvedOptionID),
		nullTimeToStr(m.SettledAt), timeToStr(m.CreatedAt), timeToStr(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: create market: %w", err)
	}
	return nil
}

// GetMarket fetches a market by id; doubles as "lock market" under
// BeginWrite for the reason described in store.go.
func (t *Tx) GetMarket(id uuid.UUID) (*types.Market, error) {
	row := t.tx.QueryRow(
		`SELECT id, event_id, slug, title, status, sort_weight, is_hidden, trading_deadline, resolution_deadline, resolved_option_id, settled_at, created_at, updated_at
		 FROM markets WHERE id = ?`, id.String(),
	)
	return scanMarket(row)
}

func scanMarket(row *sql.Row) (*types.Market, error) {
	var (
		idStr, slug, title, status            string
		eventID, tradingDeadline, resDeadline sql.NullString
		resolvedOptionID, settledAt           sql.NullString
		sortWeight                            int
		isHidden                              int64
		createdAtStr, updatedAtStr            string
	)
	err := row.Scan(&idStr, &eventID, &slug, &title, &status, &sortWeight, &isHidden, &tradingDeadline, &resDeadline, &resolvedOptionID, &settledAt, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan market: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	evID, err := strToNullUUID(eventID)
	if err != nil {
		return nil, err
	}
	td, err := strToNullTime(tradingDeadline)
	if err != nil {
		return nil, err
	}
	rd, err := strToNullTime(resDeadline)
	if err != nil {
		return nil, err
	}
	resOptID, err := strToNullUUID(resolvedOptionID)
	if err != nil {
		return nil, err
	}
	settledAtTime, err := strToNullTime(settledAt)
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

	return &types.Market{
		ID:                 id,
		EventID:            evID,
		Slug:               slug,
		Title:              title,
		Status:             types.MarketStatus(status),
		SortWeight:         sortWeight,
		IsHidden:           intToBool(isHidden),
		TradingDeadline:    td,
		ResolutionDeadline: rd,
		ResolvedOptionID:   resOptID,
		SettledAt:          settledAtTime,
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}

// UpdateMarketStatus sets a market's status and resolved option, used by
// settlement once payout succeeds.
func (t *Tx) UpdateMarketStatus(id uuid.UUID, status types.MarketStatus, resolvedOptionID *uuid.UUID, updatedAt string) error {
	_, err := t.tx.Exec(
		`UPDATE markets SET status = ?, resolved_option_id = ?, updated_at = ? WHERE id = ?`,
		string(status), uuidToNullStr(resolvedOptionID), updatedAt, id.String(),
	)
	if err != nil {
		return fmt.Errorf("ledger: update market status: %w", err)
	}
	return nil
}

// UpdateMarketSettledAt marks a market fully settled, used by settlement
// once a settle call pays out every winning position with nothing partial
// left outstanding. This is the only state ResolveMarket's idempotent
// shortcut trusts to mean "safe to ignore a second resolve call".
func (t *Tx) UpdateMarketSettledAt(id uuid.UUID, settledAt string) error {
	_, err := t.tx.Exec(`UPDATE markets SET settled_at = ?, updated_at = ? WHERE id = ?`, settledAt, settledAt, id.String())
	if err != nil {
		return fmt.Errorf("ledger: update market settled_at: %w", err)
	}
	return nil
}

// ListMarketsByEvent returns the event's child markets ordered the same
// way the exclusive-pool builder expects: sort_weight, created_at desc, id.
func (t *Tx) ListMarketsByEvent(eventID uuid.UUID) ([]*types.Market, error) {
	rows, err := t.tx.Query(
		`SELECT id, event_id, slug, title, status, sort_weight, is_hidden, trading_deadline, resolution_deadline, resolved_option_id, settled_at, created_at, updated_at
		 FROM markets WHERE event_id = ? ORDER BY sort_weight ASC, created_at DESC, id ASC`,
		eventID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list markets by event: %w", err)
	}
	defer rows.Close()

	var out []*types.Market
	for rows.Next() {
		m, err := scanMarketRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMarketRows(rows *sql.Rows) (*types.Market, error) {
	var (
		idStr, slug, title, status            string
		eventID, tradingDeadline, resDeadline sql.NullString
		resolvedOptionID, settledAt           sql.NullString
		sortWeight                            int
		isHidden                              int64
		createdAtStr, updatedAtStr            string
	)
	if err := rows.Scan(&idStr, &eventID, &slug, &title, &status, &sortWeight, &isHidden, &tradingDeadline, &resDeadline, &resolvedOptionID, &settledAt, &createdAtStr, &updatedAtStr); err != nil {
		return nil, fmt.Errorf("ledger: scan market row: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	evID, err := strToNullUUID(eventID)
	if err != nil {
		return nil, err
	}
	td, err := strToNullTime(tradingDeadline)
	if err != nil {
		return nil, err
	}
	rd, err := strToNullTime(resDeadline)
	if err != nil {
		return nil, err
	}
	resOptID, err := strToNullUUID(resolvedOptionID)
	if err != nil {
		return nil, err
	}
	settledAtTime, err := strToNullTime(settledAt)
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
	return &types.Market{
		ID: id, EventID: evID, Slug: slug, Title: title, Status: types.MarketStatus(status),
		SortWeight: sortWeight, IsHidden: intToBool(isHidden), TradingDeadline: td, ResolutionDeadline: rd,
		ResolvedOptionID: resOptID, SettledAt: settledAtTime, CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

// CreateMarketOption inserts a new option row.
func (t *Tx) CreateMarketOption(o *types.MarketOption) error {
	_, err := t.tx.Exec(
		`INSERT INTO market_options (id, market_id, option_index, side, label, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID.String(), o.MarketID.String(), o.OptionIndex, string(o.Side), o.Label, boolToInt(o.IsActive),
		timeToStr(o.CreatedAt), timeToStr(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: create market option: %w", err)
	}
	return nil
}

// GetMarketOption fetches one option by id.
func (t *Tx) GetMarketOption(id uuid.UUID) (*types.MarketOption, error) {
	row := t.tx.QueryRow(
		`SELECT id, market_id, option_index, side, label, is_active, created_at, updated_at FROM market_options WHERE id = ?`,
		id.String(),
	)
	return scanOption(row)
}

func scanOption(row *sql.Row) (*types.MarketOption, error) {
	var (
		idStr, marketIDStr, side, label string
		optionIndex                     int
		isActive                        int64
		createdAtStr, updatedAtStr      string
	)
	err := row.Scan(&idStr, &marketIDStr, &optionIndex, &side, &label, &isActive, &createdAtStr, &updatedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: scan option: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	marketID, err := uuid.Parse(marketIDStr)
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
	return &types.MarketOption{
		ID: id, MarketID: marketID, OptionIndex: optionIndex, Side: types.OptionSide(side),
		Label: label, IsActive: intToBool(isActive), CreatedAt: createdAt, UpdatedAt: updatedAt,
	}, nil
}

// ListActiveOptionsByMarket returns a market's active options ordered by
// option_index, id -- the order the LMSR q-vector is indexed by.
func (t *Tx) ListActiveOptionsByMarket(marketID uuid.UUID) ([]*types.MarketOption, error) {
	rows, err := t.tx.Query(
		`SELECT id, market_id, option_index, side, label, is_active, created_at, updated_at
		 FROM market_options WHERE market_id = ? AND is_active = 1 ORDER BY option_index ASC, id ASC`,
		marketID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list options by market: %w", err)
	}
	defer rows.Close()

	var out []*types.MarketOption
	for rows.Next() {
		var (
			idStr, marketIDStr, side, label string
			optionIndex                     int
			isActive                        int64
			createdAtStr, updatedAtStr      string
		)
		if err := rows.Scan(&idStr, &marketIDStr, &optionIndex, &side, &label, &isActive, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("ledger: scan option row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		mID, err := uuid.Parse(marketIDStr)
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
		out = append(out, &types.MarketOption{
			ID: id, MarketID: mID, OptionIndex: optionIndex, Side: types.OptionSide(side),
			Label: label, IsActive: intToBool(isActive), CreatedAt: createdAt, UpdatedAt: updatedAt,
		})
	}
	return out, rows.Err()
}

// UpsertOptionStats applies a best-effort trade-volume update. Execution
// calls it inside the trade's write transaction, before commit, and logs
// its error instead of returning it, so a failure here does not fail the
// trade.
func (t *Tx) UpsertOptionStats(optionID uuid.UUID, volumeDelta decimal.Decimal, side types.Side, lastPrice decimal.Decimal, tradedAt string) error {
	var existing struct {
		volumeBuy, volumeSell string
	}
	row := t.tx.QueryRow(`SELECT volume_buy, volume_sell FROM market_option_stats WHERE option_id = ?`, optionID.String())
	err := row.Scan(&existing.volumeBuy, &existing.volumeSell)
	if errors.Is(err, sql.ErrNoRows) {
		vb, vs := decimal.Zero, decimal.Zero
		if side == types.SideBuy {
			vb = volumeDelta
		} else {
			vs = volumeDelta
		}
		_, err := t.tx.Exec(
			`INSERT INTO market_option_stats (option_id, volume_buy, volume_sell, last_price, last_traded_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			optionID.String(), vb.String(), vs.String(), lastPrice.String(), tradedAt, tradedAt,
		)
		if err != nil {
			return fmt.Errorf("ledger: insert option stats: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: read option stats: %w", err)
	}

	vb, err := decimal.NewFromString(existing.volumeBuy)
	if err != nil {
		return err
	}
	vs, err := decimal.NewFromString(existing.volumeSell)
	if err != nil {
		return err
	}
	if side == types.SideBuy {
		vb = vb.Add(volumeDelta)
	} else {
		vs = vs.Add(volumeDelta)
	}
	_, err = t.tx.Exec(
		`UPDATE market_option_stats SET volume_buy = ?, volume_sell = ?, last_price = ?, last_traded_at = ?, updated_at = ? WHERE option_id = ?`,
		vb.String(), vs.String(), lastPrice.String(), tradedAt, tradedAt, optionID.String(),
	)
	if err != nil {
		return fmt.Errorf("ledger: update option stats: %w", err)
	}
	return nil
}

// InsertOptionSeriesPoint records one probability-history bucket point.
// ON CONFLICT is ignored: a bucket is written at most once, by whichever
// trade lands in it first, matching the best-effort "fire and forget"
// framing of series recording in the execution design.
func (t *Tx) InsertOptionSeriesPoint(s *types.MarketOptionSeries) error {
	_, err := t.tx.Exec(
		`INSERT INTO market_option_series (id, option_id, bucket_start, probability, created_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(option_id, bucket_start) DO NOTHING`,
		s.ID.String(), s.OptionID.String(), timeToStr(s.BucketStart), s.Probability.String(), timeToStr(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert option series point: %w", err)
	}
	return nil
}

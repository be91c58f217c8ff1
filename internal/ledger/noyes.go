package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"ammcore/internal/types"
)

// PoolOptionRow is one pool option joined with its stable option_index,
// the order the LMSR q-vector must be built in.
type PoolOptionRow struct {
	OptionID    uuid.UUID
	OptionIndex int
	Q           string
}

// ListPoolOptionRows returns a pool's option states joined with their
// option_index, ordered the way the q-vector must be built.
func (t *Tx) ListPoolOptionRows(poolID uuid.UUID) ([]PoolOptionRow, error) {
	rows, err := t.tx.Query(
		`SELECT s.option_id, o.option_index, s.q
		 FROM amm_pool_option_state s
		 JOIN market_options o ON o.id = s.option_id
		 WHERE s.pool_id = ? ORDER BY o.option_index ASC, s.option_id ASC`,
		poolID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("ledger: list pool option rows: %w", err)
	}
	defer rows.Close()

	var out []PoolOptionRow
	for rows.Next() {
		var optionIDStr, qStr string
		var optionIndex int
		if err := rows.Scan(&optionIDStr, &optionIndex, &qStr); err != nil {
			return nil, fmt.Errorf("ledger: scan pool option row: %w", err)
		}
		id, err := uuid.Parse(optionIDStr)
		if err != nil {
			return nil, err
		}
		out = append(out, PoolOptionRow{OptionID: id, OptionIndex: optionIndex, Q: qStr})
	}
	return out, rows.Err()
}

// NoYesEntry records a NO option's complement YES option id and that
// YES option's position in the pool's q-vector.
type NoYesEntry struct {
	YesOptionID uuid.UUID
	PoolIdx     int
}

// BuildNoToYesMapping mirrors pool_utils.build_no_to_yes_mapping: for the
// YES options already known to be in the pool (yesOptionIDs, with their
// positions given by optionIDToIdx), find every NO option sharing a
// market with one of those YES options and map it to that YES option's
// pool index.
func (t *Tx) BuildNoToYesMapping(yesOptionIDs []uuid.UUID, optionIDToIdx map[uuid.UUID]int) (map[uuid.UUID]NoYesEntry, error) {
	if len(yesOptionIDs) == 0 {
		return map[uuid.UUID]NoYesEntry{}, nil
	}

	placeholders := make([]string, len(yesOptionIDs))
	args := make([]any, len(yesOptionIDs))
	for i, id := range yesOptionIDs {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	inClause := strings.Join(placeholders, ",")

	query := fmt.Sprintf(
		`SELECT id, market_id, side FROM market_options
		 WHERE market_id IN (SELECT market_id FROM market_options WHERE id IN (%s)) AND is_active = 1`,
		inClause,
	)
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: build no-to-yes mapping: %w", err)
	}
	defer rows.Close()

	yesSet := make(map[uuid.UUID]bool, len(yesOptionIDs))
	for _, id := range yesOptionIDs {
		yesSet[id] = true
	}

	yesOptByMarket := map[uuid.UUID]uuid.UUID{}
	noOptsByMarket := map[uuid.UUID][]uuid.UUID{}

	for rows.Next() {
		var idStr, marketIDStr, side string
		if err := rows.Scan(&idStr, &marketIDStr, &side); err != nil {
			return nil, fmt.Errorf("ledger: scan no-to-yes row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		marketID, err := uuid.Parse(marketIDStr)
		if err != nil {
			return nil, err
		}
		if yesSet[id] {
			yesOptByMarket[marketID] = id
			continue
		}
		if types.OptionSide(side) == types.OptionSideNo {
			noOptsByMarket[marketID] = append(noOptsByMarket[marketID], id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := map[uuid.UUID]NoYesEntry{}
	for marketID, noOptIDs := range noOptsByMarket {
		yesOptID, ok := yesOptByMarket[marketID]
		if !ok {
			continue
		}
		idx, ok := optionIDToIdx[yesOptID]
		if !ok {
			continue
		}
		for _, noOptID := range noOptIDs {
			out[noOptID] = NoYesEntry{YesOptionID: yesOptID, PoolIdx: idx}
		}
	}
	return out, nil
}

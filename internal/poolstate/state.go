// Package poolstate holds the immutable snapshot of one AMM pool's LMSR
// state used by the quote engine, plus the option-id/option-index
// resolution logic shared by quoting and execution.
package poolstate

import (
	"fmt"

	"ammcore/internal/errs"
)

// NoYesMapping records, for an exclusive-event pool, where a NO option's
// complement YES option lives in the pool's q-vector.
type NoYesMapping struct {
	YesOptionID string
	PoolIdx     int
}

// State is a read-only snapshot of one pool's LMSR parameters and q-vector,
// plus the index maps needed to resolve a caller-supplied option_id or
// option_index into a position in Q. It is rebuilt fresh for every
// quote/execution call from the rows locked in that transaction; nothing
// here is cached across calls.
type State struct {
	MarketID      string
	PoolID        string
	B             float64
	FeeBps        int
	OptionIDs     []string
	OptionIndexes []int
	Q             []float64

	optionIDToIdx    map[string]int
	optionIndexToIdx map[int]int
	noToYesOptionID  map[string]NoYesMapping
	IsExclusive      bool
}

// New builds a State from parallel slices of option ids/indexes/q-values
// and an optional NO->YES mapping for exclusive-event pools. The three
// slices must be the same length and ordered consistently: optionIDs[i]
// sits at pool index i, with Q[i] as its current q value.
func New(marketID, poolID string, b float64, feeBps int, optionIDs []string, optionIndexes []int, q []float64, noToYes map[string]NoYesMapping, isExclusive bool) (*State, error) {
	if len(optionIDs) != len(optionIndexes) || len(optionIDs) != len(q) {
		return nil, fmt.Errorf("poolstate: optionIDs, optionIndexes, and q must have equal length")
	}

	idToIdx := make(map[string]int, len(optionIDs))
	for i, id := range optionIDs {
		idToIdx[id] = i
	}
	indexToIdx := make(map[int]int, len(optionIndexes))
	for i, idx := range optionIndexes {
		indexToIdx[idx] = i
	}

	if noToYes == nil {
		noToYes = map[string]NoYesMapping{}
	}

	return &State{
		MarketID:         marketID,
		PoolID:           poolID,
		B:                b,
		FeeBps:           feeBps,
		OptionIDs:        optionIDs,
		OptionIndexes:    optionIndexes,
		Q:                q,
		optionIDToIdx:    idToIdx,
		optionIndexToIdx: indexToIdx,
		noToYesOptionID:  noToYes,
		IsExclusive:      isExclusive,
	}, nil
}

// ResolveTargetIdx resolves a caller-supplied option_id or option_index
// (exactly one should be non-nil) into a position in the pool's q-vector.
// A NO option_id resolves to its YES counterpart's index.
func (s *State) ResolveTargetIdx(optionID *string, optionIndex *int) (int, error) {
	idx, _, err := s.resolve(optionID, optionIndex)
	return idx, err
}

// ResolveWithSide behaves like ResolveTargetIdx but additionally reports
// whether the caller's option_id was the NO complement of the pool option
// at the returned index.
func (s *State) ResolveWithSide(optionID *string, optionIndex *int) (idx int, isNoSide bool, err error) {
	return s.resolve(optionID, optionIndex)
}

func (s *State) resolve(optionID *string, optionIndex *int) (int, bool, error) {
	if optionID != nil {
		oid := *optionID
		if idx, ok := s.optionIDToIdx[oid]; ok {
			return idx, false, nil
		}
		if mapping, ok := s.noToYesOptionID[oid]; ok {
			return mapping.PoolIdx, true, nil
		}
		return 0, false, errs.InvalidParam("option_id", "target option_id not found in this pool")
	}
	if optionIndex != nil {
		if idx, ok := s.optionIndexToIdx[*optionIndex]; ok {
			return idx, false, nil
		}
		return 0, false, errs.InvalidParam("option_index", "target option_index not found in this pool")
	}
	return 0, false, errs.InvalidParam("option_id/option_index", "must provide option_id or option_index")
}

package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/descwallet/descriptor"
)

// maxChildIndex is the first wildcard substitution a descriptor cannot
// expand.
const maxChildIndex = hdkeychain.HardenedKeyStart

// BranchRecoveryState maintains the required state in-order to properly
// discover the used outputs of a single keychain.
//
// The recovery window is the gap limit of the scan: the state keeps the
// horizon at least recoveryWindow valid indexes past the last found one, so
// a scan that derives and queries everything below the horizon stops exactly
// when it has seen a full run of unused indexes.
//
// The horizon never drops below floor, which keeps the indexes already handed
// out to users inside the scanned range.
type BranchRecoveryState struct {
	// recoveryWindow defines the key-derivation lookahead used when
	// attempting to discover the used outputs on this keychain.
	recoveryWindow uint32

	// floor is the lowest horizon the branch may settle on.
	floor uint32

	// horizon records the highest child index watched by this branch.
	horizon uint32

	// nextUnfound maintains the child index of the successor to the highest
	// index that has been found during recovery of this branch.
	nextUnfound uint32

	// expansions is a map of child index to the derived output for all
	// actively watched indexes belonging to this branch.
	expansions map[uint32]*descriptor.Expansion

	// invalidChildren records the set of child indexes that derive to
	// invalid keys.
	invalidChildren map[uint32]struct{}
}

// NewBranchRecoveryState creates a new BranchRecoveryState that can be used to
// track either the external or internal keychain of a wallet.
func NewBranchRecoveryState(recoveryWindow,
	floor uint32) *BranchRecoveryState {

	return &BranchRecoveryState{
		recoveryWindow:  recoveryWindow,
		floor:           floor,
		expansions:      make(map[uint32]*descriptor.Expansion),
		invalidChildren: make(map[uint32]struct{}),
	}
}

// ExtendHorizon returns the current horizon and the number of indexes that
// must be derived in order to maintain the desired recovery window.
func (brs *BranchRecoveryState) ExtendHorizon() (uint32, uint32) {
	// Compute the new horizon, which should surpass our last found index
	// by the recovery window.
	curHorizon := brs.horizon

	nInvalid := brs.NumInvalidInHorizon()
	minValidHorizon := max(
		brs.nextUnfound+brs.recoveryWindow, brs.floor,
	) + nInvalid
	minValidHorizon = min(minValidHorizon, maxChildIndex)

	// If the current horizon is sufficient, we will not have to derive any
	// new keys.
	if curHorizon >= minValidHorizon {
		return curHorizon, 0
	}

	// Otherwise, the number of indexes we should derive corresponds to
	// the delta of the two horizons, and we update our new horizon.
	delta := minValidHorizon - curHorizon
	brs.horizon = minValidHorizon

	return curHorizon, delta
}

// deriveWindow extends the horizon and expands the descriptor at every new
// index inside it. Invalid children are skipped and replaced by the next
// index so the window always holds the full number of valid outputs.
func (brs *BranchRecoveryState) deriveWindow(
	desc *descriptor.Descriptor) ([]*descriptor.Expansion, error) {

	curHorizon, windowToDerive := brs.ExtendHorizon()
	count, childIndex := uint32(0), curHorizon

	var fresh []*descriptor.Expansion
	for count < windowToDerive && childIndex < maxChildIndex {
		exp, err := desc.Expand(childIndex)
		if err != nil {
			if errors.Is(err, hdkeychain.ErrInvalidChild) {
				log.Debugf("Skipping invalid child %d of %v",
					childIndex, desc.ScriptType())

				brs.MarkInvalidChild(childIndex)
				childIndex++

				continue
			}

			return nil, fmt.Errorf("expand index %d: %w",
				childIndex, err)
		}

		brs.AddExpansion(exp)
		fresh = append(fresh, exp)

		childIndex++
		count++
	}

	return fresh, nil
}

// AddExpansion adds a freshly derived output from our lookahead into the map
// of known outputs for this branch.
func (brs *BranchRecoveryState) AddExpansion(exp *descriptor.Expansion) {
	brs.expansions[exp.Index] = exp
}

// Expansion returns the output derived at a given child index.
func (brs *BranchRecoveryState) Expansion(
	index uint32) *descriptor.Expansion {

	return brs.expansions[index]
}

// Expansions returns a map of all currently derived child indexes to their
// corresponding outputs.
func (brs *BranchRecoveryState) Expansions() map[uint32]*descriptor.Expansion {
	return brs.expansions
}

// ReportFound updates the last found index if the reported index exceeds the
// current value.
func (brs *BranchRecoveryState) ReportFound(index uint32) {
	if index >= brs.nextUnfound {
		brs.nextUnfound = index + 1

		// Prune all invalid child indexes that fall below our last
		// found index. We don't need to keep these entries any longer,
		// since they will not affect our required look-ahead.
		for childIndex := range brs.invalidChildren {
			if childIndex < index {
				delete(brs.invalidChildren, childIndex)
			}
		}
	}
}

// MarkInvalidChild records that a particular child index results in deriving
// an invalid key. In addition, the branch's horizon is incremented, as we
// expect the caller to perform an additional derivation to replace the
// invalid child.
func (brs *BranchRecoveryState) MarkInvalidChild(index uint32) {
	brs.invalidChildren[index] = struct{}{}
	brs.horizon++
}

// NextUnfound returns the child index of the successor to the highest found
// child index.
func (brs *BranchRecoveryState) NextUnfound() uint32 {
	return brs.nextUnfound
}

// NumInvalidInHorizon computes the number of invalid child indexes that lie
// between the last found and current horizon. This informs how many additional
// indexes to derive in order to maintain the proper number of valid outputs
// within our horizon.
func (brs *BranchRecoveryState) NumInvalidInHorizon() uint32 {
	var nInvalid uint32
	for childIndex := range brs.invalidChildren {
		if brs.nextUnfound <= childIndex && childIndex < brs.horizon {
			nInvalid++
		}
	}

	return nInvalid
}

package sync

import "github.com/sanyamjain04/plane/internal/domain"

// Decision is the conflict resolver's verdict for one entity.
type Decision int

const (
	// DecisionNoChange: neither side moved since the baseline.
	DecisionNoChange Decision = iota
	// DecisionKeepInternal: only the internal side moved; push wins.
	DecisionKeepInternal
	// DecisionKeepExternal: only the external side moved; pull applies it.
	DecisionKeepExternal
	// DecisionRecordUnresolved: both sides moved; record a conflict and do
	// not touch either side.
	DecisionRecordUnresolved
)

// Baseline is the last-synced snapshot pair stored on the mapping.
type Baseline struct {
	Internal domain.Snapshot
	External domain.Snapshot
}

// Resolve decides what to do with a diverged entity. It is a pure function
// of the three snapshots: revisions are compared for equality only, and when
// both sides changed no automatic merge is attempted.
func Resolve(internal, external domain.Snapshot, base Baseline) Decision {
	internalChanged := internal.Revision != base.Internal.Revision
	externalChanged := external.Revision != base.External.Revision

	switch {
	case internalChanged && externalChanged:
		return DecisionRecordUnresolved
	case internalChanged:
		return DecisionKeepInternal
	case externalChanged:
		return DecisionKeepExternal
	default:
		return DecisionNoChange
	}
}

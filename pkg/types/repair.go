package types

import "time"

// RepairKind names an inconsistency between the store and the index.
type RepairKind string

// Repair kinds.
const (
	// RepairOrphanVector: the index returned an ID no message references.
	RepairOrphanVector RepairKind = "orphan_vector"
	// RepairStaleIndex: a message references an ID the index does not hold.
	RepairStaleIndex RepairKind = "stale_index"
)

// Repair is an outstanding inconsistency flagged for the converger.
type Repair struct {
	RepairID  string
	Kind      RepairKind
	Ref       string // Index ID for orphan vectors, message ID for stale entries.
	CreatedAt time.Time
}

package models

// ChangeKind is what a committed write did to a canonical entity
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
)

// EntityChange describes one committed canonical entity write
type EntityChange struct {
	RunID          string
	Kind           ChangeKind
	Entity         *CanonicalEntity
	PreviousStatus CurrentStatus // empty for new entities
	Conflicts      []FieldConflict
}

// StatusChanged reports whether the write moved an existing entity to a different status
func (c EntityChange) StatusChanged() bool {
	return c.PreviousStatus != "" && c.Entity != nil && c.PreviousStatus != c.Entity.CurrentStatus
}

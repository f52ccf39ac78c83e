package models

// ChangeType classifies a remote delta.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

// Change is a single remote delta. For removals only Record.ID is meaningful.
type Change struct {
	Type   ChangeType
	Record *Record
}

// DeltaBatch is what a subscription delivers for one kind. OpID is the client
// operation id of the write that produced it (empty for snapshots). Snapshot
// marks the first batch after (re)subscribing: it lists every current record.
type DeltaBatch struct {
	Kind     string
	OpID     string
	Snapshot bool
	Changes  []Change
}

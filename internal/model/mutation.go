package model

// MutationStatus is the lifecycle state of a mutation.
//
//	initiated -> optimistic -> in_flight -> fulfilled | rejected
//
// optimistic is skipped for mutations applied only after the server
// confirms (deletes), and in_flight is skipped for intents rejected before
// reaching the server.
type MutationStatus string

const (
	StatusInitiated  MutationStatus = "initiated"
	StatusOptimistic MutationStatus = "optimistic"
	StatusInFlight   MutationStatus = "in_flight"
	StatusFulfilled  MutationStatus = "fulfilled"
	StatusRejected   MutationStatus = "rejected"
)

// Settled reports whether s is terminal.
func (s MutationStatus) Settled() bool {
	return s == StatusFulfilled || s == StatusRejected
}

// MutationRecord is the value form of a mutation: everything needed to
// journal it or to compute its rollback.
type MutationRecord struct {
	ID     string         `json:"id"`
	Seq    int64          `json:"seq"`
	Kind   Kind           `json:"kind"`
	Op     Op             `json:"op"`
	Target string         `json:"target,omitempty"`
	Patch  Patch          `json:"patch,omitempty"`
	Status MutationStatus `json:"status"`
	// TempID is the provisional id of a create; ServerID the id it was
	// remapped to on success.
	TempID    string    `json:"tempId,omitempty"`
	ServerID  string    `json:"serverId,omitempty"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
	Error     string    `json:"error,omitempty"`
}

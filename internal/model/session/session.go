package session

import "time"

// PlanStatus tracks how far the remote agent has taken its task plan.
type PlanStatus string

const (
	PlanPending    PlanStatus = "pending"
	PlanInProgress PlanStatus = "in_progress"
	PlanSucceeded  PlanStatus = "succeeded"
	PlanFailed     PlanStatus = "failed"
)

// Approval is the human review decision on a session.
type Approval string

const (
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

// Session is one remote agent session as last observed from the upstream
// API. Values are replaced wholesale on every poll; they are never mutated
// in place.
type Session struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Repo         string            `json:"repo"`
	Branch       string            `json:"branch,omitempty"`
	PlanStatus   PlanStatus        `json:"planStatus"`
	Approval     Approval          `json:"approval"`
	Summary      string            `json:"summary,omitempty"`
	Participants []string          `json:"participants"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Snapshot is every session known at one point in time, keyed by id.
// A snapshot is built once and then treated as immutable; readers holding a
// reference never observe a half-updated view.
type Snapshot map[string]Session

// Equal reports structural equality between two sessions. Metadata is
// compared key by key so a nil map and an empty map are equal, and no
// serialized form is involved anywhere — field ordering of a wire encoding
// can never produce a spurious mismatch.
func Equal(a, b Session) bool {
	if a.ID != b.ID ||
		!a.CreatedAt.Equal(b.CreatedAt) ||
		!a.UpdatedAt.Equal(b.UpdatedAt) ||
		a.Repo != b.Repo ||
		a.Branch != b.Branch ||
		a.PlanStatus != b.PlanStatus ||
		a.Approval != b.Approval ||
		a.Summary != b.Summary {
		return false
	}
	if len(a.Participants) != len(b.Participants) {
		return false
	}
	for i := range a.Participants {
		if a.Participants[i] != b.Participants[i] {
			return false
		}
	}
	if len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if other, ok := b.Metadata[k]; !ok || other != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the snapshot. Used when a caller needs a
// stable view it may hold across ticks.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, sess := range s {
		out[id] = sess
	}
	return out
}

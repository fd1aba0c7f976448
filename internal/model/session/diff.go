package session

import "sort"

// Change classifies one session's transition between two snapshots.
type Change string

const (
	Created Change = "created"
	Updated Change = "updated"
	Deleted Change = "deleted"
)

// Delta is one session's change between two consecutive snapshots.
// created: Previous nil, Current set. deleted: Current nil, Previous set.
// updated: both set and structurally unequal.
type Delta struct {
	ID       string   `json:"id"`
	Previous *Session `json:"previous,omitempty"`
	Current  *Session `json:"current,omitempty"`
	Change   Change   `json:"change"`
}

// Diff compares two snapshots and returns the ordered change list.
// Creations and updates come first, in ascending id order over next;
// deletions follow, in ascending id order over prev. Neither input is
// mutated.
func Diff(prev, next Snapshot) []Delta {
	var deltas []Delta

	for _, id := range sortedIDs(next) {
		cur := next[id]
		old, existed := prev[id]
		if !existed {
			deltas = append(deltas, Delta{ID: id, Current: &cur, Change: Created})
			continue
		}
		if !Equal(old, cur) {
			deltas = append(deltas, Delta{ID: id, Previous: &old, Current: &cur, Change: Updated})
		}
	}

	for _, id := range sortedIDs(prev) {
		if _, stillThere := next[id]; !stillThere {
			old := prev[id]
			deltas = append(deltas, Delta{ID: id, Previous: &old, Change: Deleted})
		}
	}

	return deltas
}

// Apply replays a delta batch onto a snapshot and returns the result as a
// fresh map. Applying Diff(prev, next) onto prev reconstructs next exactly.
func Apply(base Snapshot, deltas []Delta) Snapshot {
	out := base.Clone()
	for _, d := range deltas {
		switch d.Change {
		case Created, Updated:
			if d.Current != nil {
				out[d.ID] = *d.Current
			}
		case Deleted:
			delete(out, d.ID)
		}
	}
	return out
}

func sortedIDs(s Snapshot) []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

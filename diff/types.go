// Package diff computes the changes that turn one box graph into another,
// and formats them for people.
package diff

import (
	"boxgraph/address"
	"boxgraph/graph"
)

// Action represents the type of change to a box or field.
type Action string

const (
	ActionAdded    Action = "added"
	ActionModified Action = "modified"
	ActionRemoved  Action = "removed"
)

// FieldDiff represents a change to one field.
type FieldDiff struct {
	Path    string          `json:"path"` // e.g. "notes[2].pitch"
	Address address.Address `json:"address"`
	Action  Action          `json:"action"`
	Before  string          `json:"before,omitempty"`
	After   string          `json:"after,omitempty"`
}

// BoxDiff represents changes to a single box.
type BoxDiff struct {
	ID     address.Identity `json:"id"`
	Kind   string           `json:"kind"`
	Action Action           `json:"action"`
	Fields []FieldDiff      `json:"fields,omitempty"`
}

// Summary provides aggregate statistics.
type Summary struct {
	BoxesAdded     int `json:"boxesAdded"`
	BoxesModified  int `json:"boxesModified"`
	BoxesRemoved   int `json:"boxesRemoved"`
	FieldsAdded    int `json:"fieldsAdded"`
	FieldsModified int `json:"fieldsModified"`
	FieldsRemoved  int `json:"fieldsRemoved"`
}

// GraphDiff is a complete diff between two graphs.
type GraphDiff struct {
	Boxes   []BoxDiff `json:"boxes"`
	Summary Summary   `json:"summary"`
	// Changes turn the first graph into the second when applied in order
	// inside one transaction.
	Changes []graph.Change `json:"-"`
}

// Empty reports whether the graphs were equal.
func (gd *GraphDiff) Empty() bool { return len(gd.Changes) == 0 }

// ComputeSummary calculates the summary from boxes.
func (gd *GraphDiff) ComputeSummary() {
	gd.Summary = Summary{}
	for _, b := range gd.Boxes {
		switch b.Action {
		case ActionAdded:
			gd.Summary.BoxesAdded++
		case ActionModified:
			gd.Summary.BoxesModified++
		case ActionRemoved:
			gd.Summary.BoxesRemoved++
		}
		for _, f := range b.Fields {
			switch f.Action {
			case ActionAdded:
				gd.Summary.FieldsAdded++
			case ActionModified:
				gd.Summary.FieldsModified++
			case ActionRemoved:
				gd.Summary.FieldsRemoved++
			}
		}
	}
}

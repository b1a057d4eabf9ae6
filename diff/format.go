package diff

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"boxgraph/graph"
)

// FormatText formats a diff as human-readable text.
func (gd *GraphDiff) FormatText() string {
	var sb strings.Builder

	for _, b := range gd.Boxes {
		fmt.Fprintf(&sb, "%s %s %s\n", actionChar(b.Action), b.Kind, b.ID)
		for _, f := range b.Fields {
			switch f.Action {
			case ActionModified:
				fmt.Fprintf(&sb, "  %s %s: %s -> %s\n", actionChar(f.Action), f.Path, f.Before, f.After)
			default:
				fmt.Fprintf(&sb, "  %s %s\n", actionChar(f.Action), f.Path)
			}
		}
	}

	s := gd.Summary
	if s.BoxesAdded+s.BoxesModified+s.BoxesRemoved > 0 {
		fmt.Fprintf(&sb, "\nSummary: %d boxes (%d added, %d modified, %d removed)\n",
			s.BoxesAdded+s.BoxesModified+s.BoxesRemoved,
			s.BoxesAdded, s.BoxesModified, s.BoxesRemoved)
		fmt.Fprintf(&sb, "         %d fields (%d added, %d modified, %d removed)\n",
			s.FieldsAdded+s.FieldsModified+s.FieldsRemoved,
			s.FieldsAdded, s.FieldsModified, s.FieldsRemoved)
	}
	return sb.String()
}

// FormatJSON formats a diff as indented JSON.
func (gd *GraphDiff) FormatJSON() ([]byte, error) {
	return json.MarshalIndent(gd, "", "  ")
}

func actionChar(a Action) string {
	switch a {
	case ActionAdded:
		return "+"
	case ActionRemoved:
		return "-"
	default:
		return "~"
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val)
	case []byte:
		return humanize.Bytes(uint64(len(val)))
	default:
		return fmt.Sprint(val)
	}
}

func formatPointer(p *graph.Pointer) string {
	if t, ok := p.Target(); ok {
		return t.String()
	}
	if p.Deferred() {
		return "(deferred)"
	}
	return "(empty)"
}

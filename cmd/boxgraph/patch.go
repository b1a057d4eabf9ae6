package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const contextLines = 3

// writeUnifiedDiff writes a line diff of before and after. Unchanged runs
// longer than twice the context are cut to their edges.
func writeUnifiedDiff(w io.Writer, before, after string) {
	dmp := diffmatchpatch.New()
	chars1, chars2, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	fmt.Fprintln(w, "--- before")
	fmt.Fprintln(w, "+++ after")
	for i, d := range diffs {
		if d.Text == "" {
			continue
		}
		lines := strings.Split(strings.TrimSuffix(d.Text, "\n"), "\n")
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			head, tail := lines, []string(nil)
			if i == 0 {
				head = nil
				if len(lines) > contextLines {
					tail = lines[len(lines)-contextLines:]
				} else {
					tail = lines
				}
			} else if len(lines) > 2*contextLines || (i == len(diffs)-1 && len(lines) > contextLines) {
				head = lines[:contextLines]
				if i < len(diffs)-1 {
					tail = lines[len(lines)-contextLines:]
				}
			}
			for _, l := range head {
				fmt.Fprintln(w, " "+l)
			}
			if len(head)+len(tail) < len(lines) {
				fmt.Fprintln(w, "@@")
			}
			for _, l := range tail {
				fmt.Fprintln(w, " "+l)
			}
		case diffmatchpatch.DiffDelete:
			for _, l := range lines {
				fmt.Fprintln(w, "-"+l)
			}
		case diffmatchpatch.DiffInsert:
			for _, l := range lines {
				fmt.Fprintln(w, "+"+l)
			}
		}
	}
}

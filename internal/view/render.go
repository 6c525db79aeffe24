package view

import (
	"fmt"
	"io"
)

// WriteText renders v as an indented outline, one list per block:
//
//	Groceries [L1] 1/2 done
//	  [x] Milk
//	  [ ] Eggs: free range
func WriteText(w io.Writer, v *View) error {
	if len(v.Lists) == 0 {
		_, err := fmt.Fprintln(w, "(no lists)")
		return err
	}
	for _, lw := range v.Lists {
		done := 0
		for _, t := range lw.Tasks {
			if t.Completed {
				done++
			}
		}
		if _, err := fmt.Fprintf(w, "%s [%s] %d/%d done\n", lw.Title, lw.ID, done, len(lw.Tasks)); err != nil {
			return err
		}
		for _, t := range lw.Tasks {
			mark := " "
			if t.Completed {
				mark = "x"
			}
			line := fmt.Sprintf("  [%s] %s", mark, t.Title)
			if t.Description != nil && *t.Description != "" {
				line += ": " + *t.Description
			}
			if _, err := fmt.Fprintln(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}

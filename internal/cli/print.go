package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/Aleph-Alpha/runtrace/v1/runtree"
)

// printTrees writes one line per run, indented by depth.
func printTrees(w io.Writer, trees []*runtree.Node) {
	for _, top := range trees {
		top.Walk(func(depth int, n *runtree.Node) bool {
			status := "open"
			switch {
			case n.Record.Error != "":
				status = "error: " + n.Record.Error
			case n.Record.Ended():
				status = "ok"
			}
			orphan := ""
			if n.Orphan {
				orphan = " (orphan)"
			}
			fmt.Fprintf(w, "%s%s [%s] %s %s%s\n",
				strings.Repeat("  ", depth), n.Record.Name, n.Record.RunType, n.Record.ID, status, orphan)
			return true
		})
	}
}

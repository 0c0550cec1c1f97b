package indicator

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Group labels a set of nodes selected by a glob pattern, such as all
// classical compute nodes "c*". Groups drive log labels and the active
// summary; they have no effect on which LEDs are written.
type Group struct {
	Name    string // summary heading, e.g. "Classical"
	Pattern string // glob matched against lowercase node IDs
	Color   string // LED color label used in change logs, e.g. "green"
}

// DefaultGroups matches the reference cluster: green classical nodes c1-c4
// and blue quantum nodes q1-q2.
func DefaultGroups() []Group {
	return []Group{
		{Name: "Classical", Pattern: "c*", Color: "green"},
		{Name: "Quantum", Pattern: "q*", Color: "blue"},
	}
}

type compiledGroup struct {
	Group
	glob glob.Glob
}

func compileGroups(groups []Group) ([]compiledGroup, error) {
	out := make([]compiledGroup, 0, len(groups))
	for _, g := range groups {
		compiled, err := glob.Compile(strings.ToLower(g.Pattern))
		if err != nil {
			return nil, fmt.Errorf("compile group %q pattern %q: %w", g.Name, g.Pattern, err)
		}
		out = append(out, compiledGroup{Group: g, glob: compiled})
	}
	return out, nil
}

// groupOf returns the index of the first group matching node, or -1.
func groupOf(groups []compiledGroup, node string) int {
	for i, g := range groups {
		if g.glob.Match(node) {
			return i
		}
	}
	return -1
}

package preview

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// truncateANSI truncates s to maxWidth visual columns, adding "..." if
// truncated. Styling escape sequences are preserved. A non-positive
// maxWidth means no limit.
func truncateANSI(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return s
	}
	if maxWidth <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	// ansi.Truncate counts the tail toward the width
	return ansi.Truncate(s, maxWidth, "...")
}

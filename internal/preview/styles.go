package preview

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/Iron-Ham/slurmled/internal/hardware"
)

var (
	// Colors
	PrimaryColor = lipgloss.Color("#A78BFA") // Purple
	MutedColor   = lipgloss.Color("#9CA3AF") // Gray
	ErrorColor   = lipgloss.Color("#F87171") // Red
	BorderColor  = lipgloss.Color("#6B7280") // Gray

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Label = lipgloss.NewStyle().
		Foreground(MutedColor).
		Width(8)

	Muted = lipgloss.NewStyle().Foreground(MutedColor)
	Error = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)

	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(BorderColor).
		Padding(0, 1)

	HelpBar = lipgloss.NewStyle().
		Foreground(MutedColor).
		MarginTop(1)
)

// background is the color unlit LEDs are faded toward.
var background = colorful.Color{R: 0.12, G: 0.16, B: 0.22}

// namedColors covers the labels used for node groups.
var namedColors = map[string]string{
	"green":  "#00ff00",
	"blue":   "#0000ff",
	"red":    "#ff0000",
	"yellow": "#ffff00",
	"amber":  "#ffbf00",
	"white":  "#ffffff",
	"purple": "#a020f0",
	"cyan":   "#00ffff",
}

// resolveColor turns a group color label or a hex value into a color.
// Unknown labels fall back to white.
func resolveColor(label string) colorful.Color {
	label = strings.ToLower(strings.TrimSpace(label))
	if hex, ok := namedColors[label]; ok {
		label = hex
	}
	c, err := colorful.Hex(label)
	if err != nil {
		c, _ = colorful.Hex(namedColors["white"])
	}
	return c
}

// ledColor is the terminal color of a node LED: its group color when lit,
// the same hue faded into the background when off.
func ledColor(label string, on bool) lipgloss.Color {
	c := resolveColor(label)
	if !on {
		c = c.BlendLab(background, 0.8).Clamped()
	}
	return lipgloss.Color(c.Hex())
}

// pixelColor is the terminal color of one strip pixel. Off pixels are drawn
// in the background color so the strip stays visible.
func pixelColor(p hardware.Color) lipgloss.Color {
	if p.IsOff() {
		return lipgloss.Color(background.Hex())
	}
	return lipgloss.Color(p.Hex())
}

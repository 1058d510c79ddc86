package theme

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// Theme holds the styles used for terminal output, bound to the renderer
// of the stream they are written to.
type Theme struct {
	Header lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Panel  lipgloss.Style
}

// New returns a Theme whose colour profile is detected from w.
func New(w io.Writer) Theme {
	r := lipgloss.NewRenderer(w)

	return Theme{
		Header: r.NewStyle().
			Bold(true).
			Foreground(ColorWhite).
			Background(ColorBlue).
			Padding(0, 1),
		Label: r.NewStyle().
			Foreground(ColorGray).
			Width(12),
		Value: r.NewStyle().
			Bold(true),
		OK: r.NewStyle().
			Bold(true).
			Foreground(ColorGreen),
		Warn: r.NewStyle().
			Bold(true).
			Foreground(ColorYellow),
		Panel: r.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder),
	}
}

// Field renders one "label value" line.
func (t Theme) Field(label, value string, style lipgloss.Style) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, t.Label.Render(label), style.Render(value))
}

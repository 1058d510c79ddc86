package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/jira-transitions/internal/theme"
)

// maxListedSkips caps how many skipped keys are printed.
const maxListedSkips = 10

// Render formats s as a bordered panel for the terminal.
func (s Summary) Render(th theme.Theme) string {
	skipStyle := th.OK
	if len(s.Skipped) > 0 {
		skipStyle = th.Warn
	}

	lines := []string{
		th.Header.Render("jira-transitions"),
		th.Field("run", s.RunID, th.Value),
		th.Field("output", s.Destination, th.Value),
		th.Field("issues", fmt.Sprint(s.Issues), th.OK),
		th.Field("rows", fmt.Sprint(s.Rows), th.Value),
		th.Field("skipped", fmt.Sprint(len(s.Skipped)), skipStyle),
	}

	if s.Mismatches > 0 {
		lines = append(lines, th.Field("mismatches", fmt.Sprint(s.Mismatches), th.Warn))
	}
	if len(s.Skipped) > 0 {
		lines = append(lines, th.Field("", skippedList(s.Skipped), th.Warn))
	}
	lines = append(lines, th.Field("elapsed", s.Elapsed.Round(time.Millisecond).String(), th.Value))

	return th.Panel.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func skippedList(keys []string) string {
	if len(keys) <= maxListedSkips {
		return strings.Join(keys, ", ")
	}
	return strings.Join(keys[:maxListedSkips], ", ") +
		fmt.Sprintf(" (+%d more)", len(keys)-maxListedSkips)
}

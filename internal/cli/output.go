package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	stepStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	commitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	notifyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#3FB950"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F85149"))
	headStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
)

// writeTrace prints a scenario trace, styled when pretty is set.
func writeTrace(w io.Writer, trace []string, pretty bool) {
	for _, line := range trace {
		if pretty {
			line = styleLine(line)
		}
		fmt.Fprintln(w, line)
	}
}

func styleLine(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, ">"):
		return stepStyle.Render(line)
	case strings.HasPrefix(trimmed, "error"):
		return errorStyle.Render(line)
	case strings.HasPrefix(trimmed, "notify"), strings.HasPrefix(trimmed, "update"):
		return notifyStyle.Render(line)
	default:
		return commitStyle.Render(line)
	}
}

// writeValues prints the final cell values sorted by name.
func writeValues(w io.Writer, values map[string]any, pretty bool) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	title := "values"
	if pretty {
		title = headStyle.Render(title)
	}
	fmt.Fprintln(w, title)

	for _, name := range names {
		raw, err := json.Marshal(values[name])
		if err != nil {
			raw = []byte(fmt.Sprintf("%v", values[name]))
		}
		fmt.Fprintf(w, "  %s = %s\n", name, raw)
	}
}

func success(msg string, pretty bool) string {
	msg = "✓ " + msg
	if pretty {
		return notifyStyle.Render(msg)
	}
	return msg
}

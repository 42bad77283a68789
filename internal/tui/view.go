package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// clip cuts a possibly styled line to w cells without breaking escape codes.
func clip(s string, w int) string {
	if w <= 0 {
		return s
	}
	return lipgloss.NewStyle().MaxWidth(w).Render(s)
}

func truncate(s string, max int) string {
	if max <= 3 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

func renderHelp(keys [][2]string) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, helpKeyStyle.Render(k[0])+" "+k[1])
	}
	return helpStyle.Render(strings.Join(parts, " │ "))
}

var helpSections = []struct {
	name string
	keys [][2]string
}{
	{"Exchanges", [][2]string{
		{"j / k", "Move down / up"},
		{"gg / G", "First / last exchange"},
		{"Enter / Space", "Subscribe / unsubscribe"},
		{"f or /", "Filter by name"},
		{"e", "Edit exchange options"},
		{"n / P", "Publish the publish file"},
	}},
	{"Messages", [][2]string{
		{"p", "Pause / resume (scroll while paused)"},
		{"j / k", "Scroll one line (paused, messages focused)"},
		{"PgUp / PgDn", "Scroll one window"},
		{"y", "Copy visible lines"},
		{"c", "Clear buffer"},
	}},
	{"Layout", [][2]string{
		{"Tab", "Switch focus"},
		{"l", "Toggle logs pane"},
		{"H / L or ← / →", "Resize panes"},
		{"s", "Save config"},
		{"?", "Toggle this help"},
		{"q / Esc", "Quit"},
	}},
}

func renderHelpOverlay(width, height int) string {
	var lines []string
	lines = append(lines, paneTitleStyle.Render("Keybindings"), "")
	for _, section := range helpSections {
		lines = append(lines, headerStyle.Render(section.name))
		for _, k := range section.keys {
			lines = append(lines, fmt.Sprintf("  %-18s %s", helpKeyStyle.Render(k[0]), k[1]))
		}
		lines = append(lines, "")
	}
	lines = append(lines, helpStyle.Render("Press ? or Esc to close"))

	overlay := focusedPaneStyle.Padding(0, 1).Width(56).Render(strings.Join(lines, "\n"))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, overlay)
}

package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	primaryColor   = lipgloss.Color("#FF6B6B")
	secondaryColor = lipgloss.Color("#4ECDC4")
	accentColor    = lipgloss.Color("#FFE66D")
	mutedColor     = lipgloss.Color("#6C757D")
	successColor   = lipgloss.Color("#2ECC71")
	errorColor     = lipgloss.Color("#E74C3C")
	fgColor        = lipgloss.Color("#EAEAEA")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	connectedStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	pausedStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor)

	focusedPaneStyle = paneStyle.
				BorderForeground(secondaryColor)

	paneTitleStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	// Selector rows by selection state
	unselectedStyle = lipgloss.NewStyle().Foreground(fgColor)
	pendingStyle    = lipgloss.NewStyle().Foreground(accentColor)
	subscribedStyle = lipgloss.NewStyle().Foreground(successColor).Bold(true)
	cursorStyle     = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)

	separatorStyle = lipgloss.NewStyle().Foreground(mutedColor)
	headerLineStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Italic(true)

	// Logs pane
	logTimeStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	logInfoStyle  = lipgloss.NewStyle().Foreground(secondaryColor)
	logWarnStyle  = lipgloss.NewStyle().Foreground(accentColor)
	logErrorStyle = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	logDebugStyle = lipgloss.NewStyle().Foreground(mutedColor)

	// Editor
	tableHeaderStyle = lipgloss.NewStyle().Foreground(secondaryColor).Bold(true)
	tableRowStyle    = lipgloss.NewStyle().Foreground(fgColor)
	tableCursorStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("#2D2D44")).
				Foreground(accentColor).
				Bold(true)
	choiceStyle       = lipgloss.NewStyle().Foreground(fgColor).Padding(0, 1)
	activeChoiceStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true).
				Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	helpKeyStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true)

	statusMsgStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Italic(true)

	errorMsgStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

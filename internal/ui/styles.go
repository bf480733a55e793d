package ui

import "github.com/charmbracelet/lipgloss"

// Colors used in the application.
var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorMuted     = lipgloss.Color("240") // Darker gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorSuccess   = lipgloss.Color("78")  // Green
	colorWarning   = lipgloss.Color("214") // Amber
	colorDanger    = lipgloss.Color("196") // Red
)

// Header style for the title line.
var Header = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 1)

// TaskLabel style for the task id next to the header.
var TaskLabel = lipgloss.NewStyle().
	Foreground(colorSecondary).
	Padding(0, 1)

// Badge styles for push connectivity.
var (
	BadgeLive = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(colorSuccess).
			Padding(0, 1)
	BadgeConnecting = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(colorWarning).
			Padding(0, 1)
	BadgeDegraded = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(colorMuted).
			Padding(0, 1)
)

// Status styles keyed by task outcome.
var (
	StatusActive = lipgloss.NewStyle().
			Foreground(colorHighlight).
			Bold(true)
	StatusDone = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)
	StatusBad = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)
)

// MessageStyle for the backend's progress message.
var MessageStyle = lipgloss.NewStyle().
	Foreground(colorSecondary).
	Italic(true)

// StatusBar style for the bottom status bar.
var StatusBar = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Background(lipgloss.Color("236")).
	Padding(0, 1)

// StatusBarKey style for key hints in status bar.
var StatusBarKey = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

// StatusBarText style for descriptive text in status bar.
var StatusBarText = lipgloss.NewStyle().
	Foreground(colorSecondary)

// ErrorStyle for displaying errors.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(colorDanger).
	Bold(true).
	Padding(0, 1)

// HelpStyle for help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(colorMuted).
	Padding(1, 2)

// DebugPanel frames the debug overlay.
var DebugPanel = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorPrimary).
	Padding(1, 2)

// DebugHeaderStyle for section titles in the debug overlay.
var DebugHeaderStyle = lipgloss.NewStyle().
	Foreground(colorHighlight).
	Bold(true)

package ui

import "github.com/charmbracelet/bubbles/key"

// keyMap lists the dashboard bindings. It implements help.KeyMap.
type keyMap struct {
	Quit    key.Binding
	Cancel  key.Binding
	Pause   key.Binding
	Reset   key.Binding
	ZoomIn  key.Binding
	ZoomOut key.Binding
	Refresh key.Binding
	Debug   key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Cancel:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel task")),
	Pause:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "pause/resume")),
	Reset:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset chart")),
	ZoomIn:  key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "zoom in")),
	ZoomOut: key.NewBinding(key.WithKeys("-", "_"), key.WithHelp("-", "zoom out")),
	Refresh: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "refresh")),
	Debug:   key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "debug")),
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Cancel, k.Pause, k.Reset, k.ZoomIn, k.ZoomOut, k.Debug}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Quit, k.Cancel, k.Refresh},
		{k.Pause, k.Reset, k.ZoomIn, k.ZoomOut},
		{k.Debug},
	}
}

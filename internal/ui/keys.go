package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Quit        key.Binding
	Help        key.Binding
	Search      key.Binding
	Condition   key.Binding
	IPv4        key.Binding
	IPv6        key.Binding
	HidePrivate key.Binding
	HideLocal   key.Binding
	State       key.Binding
	ClearFilter key.Binding
	Record      key.Binding
	Sessions    key.Binding
	Picker      key.Binding
	Live        key.Binding
	Export      key.Binding
	Import      key.Binding
	Faster      key.Binding
	Slower      key.Binding
	ClearAll    key.Binding
	Select      key.Binding
	Back        key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Help:        key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Search:      key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		Condition:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "metric filter")),
		IPv4:        key.NewBinding(key.WithKeys("4"), key.WithHelp("4", "IPv4 only")),
		IPv6:        key.NewBinding(key.WithKeys("6"), key.WithHelp("6", "IPv6 only")),
		HidePrivate: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "hide private")),
		HideLocal:   key.NewBinding(key.WithKeys("l"), key.WithHelp("l", "hide loopback")),
		State:       key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "cycle state")),
		ClearFilter: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear filters")),
		Record:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "start/stop recording")),
		Sessions:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sessions")),
		Picker:      key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "pick connection")),
		Live:        key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "back to live")),
		Export:      key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "export session")),
		Import:      key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "import session")),
		Faster:      key.NewBinding(key.WithKeys("+"), key.WithHelp("+/-", "poll interval")),
		Slower:      key.NewBinding(key.WithKeys("-")),
		ClearAll:    key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "delete all sessions")),
		Select:      key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "details")),
		Back:        key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	}
}

// ShortHelp implements help.KeyMap
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Search, k.Condition, k.Record, k.Sessions, k.Live, k.Select, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Select, k.Picker, k.Back, k.Faster, k.Help, k.Quit},
		{k.Search, k.Condition, k.IPv4, k.IPv6, k.HidePrivate, k.HideLocal, k.State, k.ClearFilter},
		{k.Record, k.Sessions, k.Live, k.Export, k.Import, k.ClearAll},
	}
}

package tui

import (
	"time"
	"unicode"
)

const keyTimeout = 500 * time.Millisecond

// Actions produced by the key handler.
const (
	actionPending     = "pending"
	actionMoveDown    = "move_down"
	actionMoveUp      = "move_up"
	actionGoTop       = "go_top"
	actionGoBottom    = "go_bottom"
	actionPageUp      = "page_up"
	actionPageDown    = "page_down"
	actionToggle      = "toggle"
	actionFilter      = "filter_start"
	actionEdit        = "edit"
	actionPublish     = "publish"
	actionPause       = "pause_toggle"
	actionLogs        = "logs_toggle"
	actionFocus       = "focus_next"
	actionSave        = "save"
	actionYank        = "yank"
	actionClear       = "clear"
	actionResizeLeft  = "resize_left"
	actionResizeRight = "resize_right"
	actionHelp        = "toggle_help"
	actionQuit        = "quit"
)

// VimKeyState tracks vim-style key sequences and numeric prefixes
type VimKeyState struct {
	pendingKeys   string
	numericPrefix int
	lastKeyTime   time.Time
}

func NewVimKeyState() VimKeyState {
	return VimKeyState{}
}

// VimKeyResult represents the result of processing a key
type VimKeyResult struct {
	Action string
	Count  int
}

// ProcessKey processes a key press and returns the action to take
func (v *VimKeyState) ProcessKey(key string) VimKeyResult {
	now := time.Now()

	if now.Sub(v.lastKeyTime) > keyTimeout {
		v.Reset()
	}
	v.lastKeyTime = now

	if len(key) == 1 {
		r := rune(key[0])
		if unicode.IsDigit(r) && (v.numericPrefix > 0 || r != '0') {
			v.numericPrefix = v.numericPrefix*10 + int(r-'0')
			return VimKeyResult{Action: actionPending}
		}
	}

	v.pendingKeys += key

	if action := matchSequence(v.pendingKeys); action != "" {
		count := max(v.numericPrefix, 1)
		v.Reset()
		return VimKeyResult{Action: action, Count: count}
	}

	if v.pendingKeys == "g" {
		return VimKeyResult{Action: actionPending}
	}

	v.Reset()
	return VimKeyResult{}
}

func matchSequence(keys string) string {
	switch keys {
	case "j", "down":
		return actionMoveDown
	case "k", "up":
		return actionMoveUp
	case "gg", "home":
		return actionGoTop
	case "G", "end":
		return actionGoBottom
	case "pgup", "ctrl+b":
		return actionPageUp
	case "pgdown", "ctrl+f":
		return actionPageDown
	case "enter", " ":
		return actionToggle
	case "f", "/":
		return actionFilter
	case "e":
		return actionEdit
	case "n", "P":
		return actionPublish
	case "p":
		return actionPause
	case "l":
		return actionLogs
	case "tab":
		return actionFocus
	case "s":
		return actionSave
	case "y":
		return actionYank
	case "c":
		return actionClear
	case "left", "H":
		return actionResizeLeft
	case "right", "L":
		return actionResizeRight
	case "?":
		return actionHelp
	case "q", "esc", "ctrl+c":
		return actionQuit
	}
	return ""
}

// Reset clears the key state
func (v *VimKeyState) Reset() {
	v.pendingKeys = ""
	v.numericPrefix = 0
}

// Pending returns the current pending keys for display
func (v *VimKeyState) Pending() string {
	return v.pendingKeys
}

package buffer

// Mode selects how the visible window follows the buffer.
type Mode int

const (
	// Normal always shows the most recent lines.
	Normal Mode = iota
	// Scroll shows a window at a manual offset from the bottom.
	Scroll
)

func (m Mode) String() string {
	if m == Scroll {
		return "scroll"
	}
	return "normal"
}

// Window holds only the viewport height and the offset from the bottom.
// Bounds are recomputed from the current line count on every call, so a
// resize or eviction never leaves stale state behind.
type Window struct {
	mode   Mode
	height int
	offset int
}

func (w *Window) Mode() Mode { return w.mode }

// SetMode switches modes. Returning to Normal snaps to the bottom.
func (w *Window) SetMode(m Mode) {
	w.mode = m
	if m == Normal {
		w.offset = 0
	}
}

func (w *Window) Height() int { return w.height }

func (w *Window) SetHeight(h int) { w.height = max(h, 0) }

// Offset is the clamped distance from the bottom for total lines.
func (w *Window) Offset(total int) int {
	if w.mode == Normal {
		return 0
	}
	return clamp(w.offset, 0, maxOffset(total, w.height))
}

// Bounds returns the visible range [lo, hi) for total lines.
// 0 <= lo <= hi <= total always holds.
func (w *Window) Bounds(total int) (lo, hi int) {
	total = max(total, 0)
	hi = total - w.Offset(total)
	lo = max(0, hi-w.height)
	return lo, hi
}

// ScrollUp moves one line towards older history. A no-op at the top.
func (w *Window) ScrollUp(total int) { w.move(1, total) }

// ScrollDown moves one line towards newer history. A no-op at the bottom.
func (w *Window) ScrollDown(total int) { w.move(-1, total) }

// PageUp moves one full window towards older history.
func (w *Window) PageUp(total int) { w.move(max(w.height, 1), total) }

// PageDown moves one full window towards newer history.
func (w *Window) PageDown(total int) { w.move(-max(w.height, 1), total) }

// AtTop reports whether the window shows the oldest line.
func (w *Window) AtTop(total int) bool {
	lo, _ := w.Bounds(total)
	return lo == 0
}

func (w *Window) move(delta, total int) {
	if w.mode != Scroll {
		return
	}
	w.offset = clamp(w.Offset(total)+delta, 0, maxOffset(total, w.height))
}

// View returns the visible lines of l.
func (w *Window) View(l *Lines) []string {
	lo, hi := w.Bounds(l.Len())
	return l.Slice(lo, hi)
}

func maxOffset(total, height int) int {
	return max(0, total-height)
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

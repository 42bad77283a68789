// Package buffer keeps the rendered message history as a fixed-capacity ring
// and computes the visible window over it.
package buffer

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1000

// Lines is a ring of rendered text lines. Pushing onto a full ring evicts the
// oldest line. It is not safe for concurrent use.
type Lines struct {
	items []string
	start int
	n     int
}

func NewLines(capacity int) *Lines {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Lines{items: make([]string, capacity)}
}

// Push appends a line, evicting the oldest one when full.
func (l *Lines) Push(line string) {
	if l.n < len(l.items) {
		l.items[(l.start+l.n)%len(l.items)] = line
		l.n++
		return
	}
	l.items[l.start] = line
	l.start = (l.start + 1) % len(l.items)
}

// PushAll appends lines in order.
func (l *Lines) PushAll(lines []string) {
	for _, line := range lines {
		l.Push(line)
	}
}

func (l *Lines) Len() int { return l.n }

func (l *Lines) Cap() int { return len(l.items) }

// At returns the i-th oldest retained line.
func (l *Lines) At(i int) string {
	if i < 0 || i >= l.n {
		return ""
	}
	return l.items[(l.start+i)%len(l.items)]
}

// Slice copies lines [lo, hi) clamped to the retained range.
func (l *Lines) Slice(lo, hi int) []string {
	lo = max(lo, 0)
	hi = min(hi, l.n)
	if lo >= hi {
		return nil
	}
	out := make([]string, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, l.At(i))
	}
	return out
}

// Clear drops every line, keeping the capacity.
func (l *Lines) Clear() {
	clear(l.items)
	l.start, l.n = 0, 0
}

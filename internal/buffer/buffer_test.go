package buffer

import (
	"fmt"
	"testing"
)

func fill(l *Lines, n int) {
	for i := 0; i < n; i++ {
		l.Push(fmt.Sprintf("line %d", i))
	}
}

func TestLines_FIFOEviction(t *testing.T) {
	const capacity, extra = 5, 3
	l := NewLines(capacity)
	fill(l, capacity+extra)

	if l.Len() != capacity {
		t.Fatalf("Len() = %d, want %d", l.Len(), capacity)
	}
	for i := 0; i < capacity; i++ {
		want := fmt.Sprintf("line %d", i+extra)
		if got := l.At(i); got != want {
			t.Errorf("At(%d) = %q, want %q", i, got, want)
		}
	}
}

func TestLines_NeverExceedsCapacity(t *testing.T) {
	l := NewLines(3)
	for i := 0; i < 100; i++ {
		l.Push("x")
		if l.Len() > l.Cap() {
			t.Fatalf("Len() = %d > Cap() = %d", l.Len(), l.Cap())
		}
	}
}

func TestLines_SliceAndClear(t *testing.T) {
	l := NewLines(4)
	l.PushAll([]string{"a", "b", "c", "d", "e"})

	got := l.Slice(-5, 99)
	want := []string{"b", "c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("Slice = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Slice[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if s := l.Slice(3, 2); s != nil {
		t.Errorf("empty Slice = %v", s)
	}

	l.Clear()
	if l.Len() != 0 || l.At(0) != "" {
		t.Error("Clear left lines behind")
	}
	l.Push("z")
	if l.At(0) != "z" {
		t.Errorf("At(0) after Clear = %q", l.At(0))
	}
}

func TestNewLines_DefaultCapacity(t *testing.T) {
	if got := NewLines(0).Cap(); got != DefaultCapacity {
		t.Errorf("Cap() = %d, want %d", got, DefaultCapacity)
	}
}

func TestWindow_NormalFollowsBottom(t *testing.T) {
	var w Window
	w.SetHeight(3)

	tests := []struct {
		total  int
		lo, hi int
	}{
		{0, 0, 0},
		{2, 0, 2},
		{3, 0, 3},
		{10, 7, 10},
	}
	for _, tt := range tests {
		lo, hi := w.Bounds(tt.total)
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("Bounds(%d) = [%d,%d), want [%d,%d)", tt.total, lo, hi, tt.lo, tt.hi)
		}
	}

	w.ScrollUp(10)
	if lo, hi := w.Bounds(10); lo != 7 || hi != 10 {
		t.Errorf("ScrollUp in Normal mode moved the window to [%d,%d)", lo, hi)
	}
}

func TestWindow_ScrollClamps(t *testing.T) {
	const total = 10
	var w Window
	w.SetHeight(4)
	w.SetMode(Scroll)

	w.ScrollDown(total)
	if lo, hi := w.Bounds(total); lo != 6 || hi != 10 {
		t.Errorf("ScrollDown at bottom = [%d,%d), want no-op [6,10)", lo, hi)
	}

	w.ScrollUp(total)
	if lo, hi := w.Bounds(total); lo != 5 || hi != 9 {
		t.Errorf("after ScrollUp = [%d,%d), want [5,9)", lo, hi)
	}

	w.PageUp(total)
	w.PageUp(total)
	if lo, hi := w.Bounds(total); lo != 0 || hi != 4 {
		t.Errorf("after PageUp x2 = [%d,%d), want [0,4)", lo, hi)
	}
	if !w.AtTop(total) {
		t.Error("AtTop() = false at the top")
	}

	w.ScrollUp(total)
	if lo, hi := w.Bounds(total); lo != 0 || hi != 4 {
		t.Errorf("ScrollUp at top = [%d,%d), want no-op [0,4)", lo, hi)
	}

	w.PageDown(total)
	if lo, hi := w.Bounds(total); lo != 4 || hi != 8 {
		t.Errorf("after PageDown = [%d,%d), want [4,8)", lo, hi)
	}
}

func TestWindow_BoundsStayInRange(t *testing.T) {
	var w Window
	w.SetMode(Scroll)
	for height := 0; height < 8; height++ {
		w.SetHeight(height)
		for total := 0; total < 12; total++ {
			for i := 0; i < 15; i++ {
				w.ScrollUp(total)
				lo, hi := w.Bounds(total)
				if lo < 0 || hi > total || lo > hi {
					t.Fatalf("height=%d total=%d: Bounds = [%d,%d)", height, total, lo, hi)
				}
			}
		}
	}
}

func TestWindow_ResizeRecomputes(t *testing.T) {
	const total = 20
	var w Window
	w.SetHeight(5)
	w.SetMode(Scroll)
	for i := 0; i < 30; i++ {
		w.ScrollUp(total)
	}

	// Growing the viewport shrinks the maximum offset.
	w.SetHeight(18)
	if lo, hi := w.Bounds(total); lo != 0 || hi != 18 {
		t.Errorf("after grow Bounds = [%d,%d), want [0,18)", lo, hi)
	}

	w.SetHeight(30)
	if lo, hi := w.Bounds(total); lo != 0 || hi != total {
		t.Errorf("viewport larger than buffer: [%d,%d)", lo, hi)
	}

	w.SetMode(Normal)
	w.SetHeight(5)
	if lo, hi := w.Bounds(total); lo != 15 || hi != 20 {
		t.Errorf("Normal after resize = [%d,%d), want [15,20)", lo, hi)
	}
}

func TestWindow_View(t *testing.T) {
	l := NewLines(10)
	l.PushAll([]string{"a", "b", "c", "d"})
	var w Window
	w.SetHeight(2)
	if got := w.View(l); len(got) != 2 || got[0] != "c" || got[1] != "d" {
		t.Errorf("View = %v", got)
	}
}

package glbuild

import (
	"bytes"
	"testing"
)

// historyIndex mirrors historyFrame's slot arithmetic. Go's % truncates like
// GLSL's, so a negative operand shows up as a negative index here.
func historyIndex(current, framesAgo, size int) int {
	size = max(size, 1)
	n := max(framesAgo, 0) % size
	return (current + size - n) % size
}

func TestHistoryFrameIndex(t *testing.T) {
	for _, line := range []string{
		"int n = max(framesAgo, 0) % size;",
		"int idx = (u_current_frame_index + size - n) % size;",
	} {
		if !bytes.Contains(standardSrc, []byte(line)) {
			t.Fatalf("historyFrame does not contain %q", line)
		}
	}
	for size := 1; size <= 8; size++ {
		for current := 0; current < size; current++ {
			for ago := -2; ago < 3*size; ago++ {
				got := historyIndex(current, ago, size)
				if got < 0 || got >= size {
					t.Fatalf("size %d current %d ago %d: index %d out of range", size, current, ago, got)
				}
				want := current
				if ago > 0 {
					want = ((current-ago)%size + size) % size
				}
				if got != want {
					t.Errorf("size %d current %d ago %d: got %d, want %d", size, current, ago, got, want)
				}
			}
		}
	}
}

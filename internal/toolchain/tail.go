package toolchain

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	lines []string
	next  int
	full  bool
}

func newTailBuffer(n int) *tailBuffer {
	if n <= 0 {
		n = 1
	}
	return &tailBuffer{lines: make([]string, n)}
}

func (b *tailBuffer) add(line string) {
	b.lines[b.next] = line
	b.next++
	if b.next == len(b.lines) {
		b.next = 0
		b.full = true
	}
}

// snapshot returns the retained lines, oldest first.
func (b *tailBuffer) snapshot() []string {
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}

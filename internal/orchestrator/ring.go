package orchestrator

// logRing is a fixed-capacity ring of log lines. Once full, the oldest line
// is overwritten, keeping per-job memory independent of run length.
type logRing struct {
	buf  []string
	next int
	full bool
}

func newLogRing(capacity int) *logRing {
	if capacity < 1 {
		capacity = 1
	}
	return &logRing{buf: make([]string, capacity)}
}

func (r *logRing) Append(line string) {
	r.buf[r.next] = line
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (r *logRing) Lines() []string {
	if !r.full {
		out := make([]string, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

package convert

import "sync"

const defaultStderrLimit = 10 * 1024

// stderrTail keeps the last limit bytes written to it. Converters report the
// fatal error at the end of their output, so the head is what gets dropped.
type stderrTail struct {
	mu      sync.Mutex
	buf     []byte
	limit   int
	dropped int
}

func newStderrTail(limit int) *stderrTail {
	if limit <= 0 {
		limit = defaultStderrLimit
	}
	return &stderrTail{limit: limit}
}

// Write always accepts all of p; exec.Cmd treats a short write as an error.
func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.dropped += over
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Dropped returns how many leading bytes were discarded.
func (t *stderrTail) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

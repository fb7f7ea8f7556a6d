package procgroup

import (
	"bytes"
	"strings"
	"sync"
)

// Tail is an io.Writer that remembers the last non-empty line written to it.
// Tools report their reason for failing on the final stderr line.
type Tail struct {
	mu   sync.Mutex
	buf  []byte
	last string
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	for {
		i := bytes.IndexByte(t.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(t.buf[:i])); line != "" {
			t.last = line
		}
		t.buf = t.buf[i+1:]
	}
	return len(p), nil
}

// Last returns the final line, including an unterminated trailing one.
func (t *Tail) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tail := strings.TrimSpace(string(t.buf)); tail != "" {
		return tail
	}
	return t.last
}

package process

import (
	"bufio"
	"io"
	"sync"
)

// maxOutputLine bounds a single captured output line.
const maxOutputLine = 64 * 1024

// tail keeps the last n lines written to a stream.
type tail struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newTail(n int) *tail {
	return &tail{lines: make([]string, n)}
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines[t.next] = line
	t.next = (t.next + 1) % len(t.lines)
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the kept lines, oldest first.
func (t *tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full {
		return append([]string(nil), t.lines[:t.next]...)
	}
	out := make([]string, 0, len(t.lines))
	out = append(out, t.lines[t.next:]...)
	return append(out, t.lines[:t.next]...)
}

// Last returns the newest line, or "".
func (t *tail) Last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.full && t.next == 0 {
		return ""
	}
	return t.lines[(t.next+len(t.lines)-1)%len(t.lines)]
}

func (t *tail) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.lines)
	t.next = 0
	t.full = false
}

// scanLines calls fn for each line of r until EOF. done is closed afterwards.
func scanLines(r io.Reader, fn func(string), done chan<- struct{}) error {
	defer close(done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxOutputLine)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	return scanner.Err()
}

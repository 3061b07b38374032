package execution

import (
	"bytes"
	"io"
	"sync"
)

// capture collects stdout and stderr under one shared byte budget, keeping a
// merged copy in arrival order. Writes past the budget are discarded but
// reported as written so producers keep draining.
type capture struct {
	mu        sync.Mutex
	limit     int
	used      int
	truncated bool

	stdout bytes.Buffer
	stderr bytes.Buffer
	merged bytes.Buffer
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

type captureStream struct {
	c   *capture
	buf *bytes.Buffer
}

func (s captureStream) Write(p []byte) (int, error) {
	s.c.write(s.buf, p)
	return len(p), nil
}

func (c *capture) Stdout() io.Writer { return captureStream{c: c, buf: &c.stdout} }
func (c *capture) Stderr() io.Writer { return captureStream{c: c, buf: &c.stderr} }

func (c *capture) write(buf *bytes.Buffer, p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.limit - c.used
	if remaining <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return
	}
	if len(p) > remaining {
		p = p[:remaining]
		c.truncated = true
	}
	buf.Write(p)
	c.merged.Write(p)
	c.used += len(p)
}

// fill copies the captured output into r.
func (c *capture) fill(r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r.Stdout = c.stdout.String()
	r.Stderr = c.stderr.String()
	r.Output = c.merged.String()
	r.Truncated = c.truncated
}

package execution

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureMergesInArrivalOrder(t *testing.T) {
	c := newCapture(1024)
	io.WriteString(c.Stdout(), "a")
	io.WriteString(c.Stderr(), "b")
	io.WriteString(c.Stdout(), "c")

	var r Result
	c.fill(&r)
	assert.Equal(t, "ac", r.Stdout)
	assert.Equal(t, "b", r.Stderr)
	assert.Equal(t, "abc", r.Output)
	assert.False(t, r.Truncated)
}

func TestCaptureSharedLimit(t *testing.T) {
	c := newCapture(5)

	n, err := io.WriteString(c.Stdout(), "1234")
	assert.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = io.WriteString(c.Stderr(), "5678")
	assert.NoError(t, err)
	assert.Equal(t, 4, n, "writes past the limit still report success")

	io.WriteString(c.Stdout(), "9")

	var r Result
	c.fill(&r)
	assert.Equal(t, "1234", r.Stdout)
	assert.Equal(t, "5", r.Stderr)
	assert.Equal(t, "12345", r.Output)
	assert.True(t, r.Truncated)
}

func TestCaptureExactLimitIsNotTruncated(t *testing.T) {
	c := newCapture(3)
	io.WriteString(c.Stdout(), "abc")

	var r Result
	c.fill(&r)
	assert.False(t, r.Truncated)
}

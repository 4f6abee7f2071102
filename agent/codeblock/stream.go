package codeblock

import (
	"fmt"
	"strings"
	"sync"
)

// FlushListener receives the output of one flush.
type FlushListener func(output string)

// CaptureStream buffers printed output. Flush moves the buffer into the
// persistent log and hands it to the listener.
type CaptureStream struct {
	mu       sync.Mutex
	buffer   strings.Builder
	log      strings.Builder
	listener FlushListener
}

// NewCaptureStream creates an empty stream.
func NewCaptureStream() *CaptureStream {
	return &CaptureStream{}
}

// SetFlushListener replaces the listener; nil removes it.
func (c *CaptureStream) SetFlushListener(l FlushListener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// Write implements io.Writer; it buffers without flushing.
func (c *CaptureStream) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffer.Write(p)
}

// Print writes the operands separated by sep followed by end, and flushes
// when flush is set.
func (c *CaptureStream) Print(sep, end string, flush bool, a ...any) {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = fmt.Sprint(v)
	}
	_, _ = c.Write([]byte(strings.Join(parts, sep) + end))
	if flush {
		c.Flush()
	}
}

// Flush emits the buffered output. The listener runs outside the lock.
func (c *CaptureStream) Flush() {
	c.mu.Lock()
	out := c.buffer.String()
	c.buffer.Reset()
	c.log.WriteString(out)
	l := c.listener
	c.mu.Unlock()

	if l != nil {
		l(out)
	}
}

// Output returns everything flushed so far.
func (c *CaptureStream) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.log.String()
}

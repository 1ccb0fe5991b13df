package commands

import (
	"bytes"
	"strings"
)

// maxLineLength bounds how much of an unterminated line is held for the debug log
const maxLineLength = 4096

// capture keeps the first limit bytes of a stream and hands complete lines to onLine
type capture struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
	partial   []byte
	onLine    func(string)
}

func newCapture(limit int, onLine func(string)) *capture {
	return &capture{limit: limit, onLine: onLine}
}

func (c *capture) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room > 0 {
		if len(p) > room {
			c.buf.Write(p[:room])
			c.truncated = true
		} else {
			c.buf.Write(p)
		}
	} else if len(p) > 0 {
		c.truncated = true
	}

	if c.onLine == nil {
		return len(p), nil
	}
	c.partial = append(c.partial, p...)
	for {
		i := bytes.IndexByte(c.partial, '\n')
		if i < 0 {
			break
		}
		c.onLine(strings.TrimRight(string(c.partial[:i]), "\r"))
		c.partial = c.partial[i+1:]
	}
	if len(c.partial) > maxLineLength {
		c.onLine(string(c.partial))
		c.partial = nil
	}
	return len(p), nil
}

// flush emits a trailing line without a newline
func (c *capture) flush() {
	if c.onLine != nil && len(c.partial) > 0 {
		c.onLine(strings.TrimRight(string(c.partial), "\r"))
	}
	c.partial = nil
}

func (c *capture) text() string {
	return strings.TrimSpace(c.buf.String())
}

// lastLines returns the final n non-blank lines of s
func lastLines(s string, n int) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

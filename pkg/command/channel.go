package command

import "strings"

// DefaultLineSize is the default capacity of the command line buffer.
const DefaultLineSize = 64

// ByteSource is a non-blocking byte input. machine.UART and machine.Serial
// satisfy it on TinyGo targets.
type ByteSource interface {
	Buffered() int
	ReadByte() (byte, error)
}

// Channel assembles bytes from a ByteSource into command lines.
//
// Lines are terminated by '\n'; '\r' is ignored. A line longer than the
// buffer is discarded up to and including its terminator.
type Channel struct {
	src      ByteSource
	buf      []byte
	n        int
	overflow bool
	dropped  int
}

// NewChannel creates a Channel with a line buffer of size bytes.
func NewChannel(src ByteSource, size int) *Channel {
	if size <= 0 {
		size = DefaultLineSize
	}
	return &Channel{
		src: src,
		buf: make([]byte, size),
	}
}

// Poll consumes buffered input until one complete line is decoded or the
// source runs dry. It never blocks and returns at most one command; bytes
// after the terminator stay in the source for the next Poll.
func (c *Channel) Poll() (Command, bool) {
	for c.src.Buffered() > 0 {
		b, err := c.src.ReadByte()
		if err != nil {
			break
		}

		switch b {
		case '\r':
			continue
		case '\n':
			if c.overflow {
				c.overflow = false
				c.n = 0
				c.dropped++
				continue
			}
			line := strings.TrimSpace(string(c.buf[:c.n]))
			c.n = 0
			return Parse(line), true
		}

		if c.overflow {
			continue
		}
		if c.n == len(c.buf) {
			c.overflow = true
			c.n = 0
			continue
		}
		c.buf[c.n] = b
		c.n++
	}

	return Toggle, false
}

// Dropped returns the number of lines discarded for exceeding the buffer.
func (c *Channel) Dropped() int {
	return c.dropped
}

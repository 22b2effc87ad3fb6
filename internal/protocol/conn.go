package protocol

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// pollInterval is how often a blocked reader re-checks its stop channel
// while waiting for the next frame header.
const pollInterval = 250 * time.Millisecond

// ErrReadStopped is returned by ReadMessage when the stop channel closes
// before the next frame header arrives.
var ErrReadStopped = NewError(CodeTransportError, "read loop stopped")

// Conn wraps a TCP connection with the framed message codec. Writes are
// serialized by an internal mutex so any goroutine may send; reads belong to
// a single owner goroutine.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	writeTimeout time.Duration
	maxFrame     uint32
}

// NewConn wraps a raw network connection.
//
// Precondition: raw must be a valid, open connection. maxFrame of 0 selects
// DefaultMaxFrameBytes.
func NewConn(raw net.Conn, writeTimeout time.Duration, maxFrame uint32) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		writeTimeout: writeTimeout,
		maxFrame:     maxFrame,
	}
}

// WriteMessage encodes and sends one frame. Safe for concurrent use.
func (c *Conn) WriteMessage(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return WriteFrame(c.raw, m)
}

// ReadMessage blocks until a full frame arrives and returns the decoded
// message. While waiting for the next frame header it periodically checks
// stop; a closed stop channel yields ErrReadStopped without consuming any
// frame bytes, so a later read resumes cleanly at the frame boundary.
// A nil stop channel disables the polling and blocks indefinitely.
//
// Precondition: only one goroutine may call ReadMessage at a time.
func (c *Conn) ReadMessage(stop <-chan struct{}) (Message, error) {
	if stop != nil {
		for {
			select {
			case <-stop:
				return Message{}, ErrReadStopped
			default:
			}

			_ = c.raw.SetReadDeadline(time.Now().Add(pollInterval))
			_, err := c.reader.Peek(1)
			if err == nil {
				break
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return Message{}, err
		}
	}

	// Header seen (or polling disabled): read the whole frame without a
	// deadline so a slow sender cannot desynchronize the stream.
	_ = c.raw.SetReadDeadline(time.Time{})
	return ReadFrame(c.reader, c.maxFrame)
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

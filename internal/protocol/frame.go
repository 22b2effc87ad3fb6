package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds the declared length of an inbound frame.
// Anything larger is treated as a hostile or corrupt peer.
const DefaultMaxFrameBytes = 1 << 20

// ErrFrameTooLarge is returned when a frame header declares a length above
// the configured bound.
var ErrFrameTooLarge = NewError(CodeFrameTooLarge, "frame length exceeds limit")

// WriteFrame encodes m and writes it as a single [4-byte big-endian
// length][JSON body] frame.
//
// Precondition: w must be safe for a single Write call (callers serialize
// concurrent writers).
func WriteFrame(w io.Writer, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding frame body: %w", err)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and decodes its body.
// maxFrame of 0 selects DefaultMaxFrameBytes.
//
// Postcondition: Returns the decoded Message, ErrFrameTooLarge for an
// oversized declared length, or a wrapped decode/transport error.
func ReadFrame(r *bufio.Reader, maxFrame uint32) (Message, error) {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameBytes
	}

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrame {
		return Message{}, fmt.Errorf("declared length %d: %w", length, ErrFrameTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("reading frame body: %w", err)
	}

	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, NewError(CodePayloadDecode, "decoding frame: %v", err)
	}
	return m, nil
}

package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize is the default payload limit for one frame (2000 bytes)
const MaxMessageSize = 2000

// BlockSize is the fixed frame size used by block framing
const BlockSize = MaxMessageSize

// ErrMessageTooLarge is returned when a frame exceeds the configured limit
var ErrMessageTooLarge = errors.New("message too large")

// Framing selects how text messages are delimited on a byte stream
type Framing string

const (
	// FramingLength prefixes each payload with a 4-byte big-endian length
	FramingLength Framing = "length"

	// FramingBlock pads or truncates each payload to a fixed BlockSize block
	FramingBlock Framing = "block"
)

// ParseFraming validates a framing name
func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case FramingLength, FramingBlock:
		return Framing(s), nil
	case "":
		return FramingLength, nil
	default:
		return "", fmt.Errorf("unknown framing %q", s)
	}
}

// Codec reads and writes whole frames on a byte stream
type Codec interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
}

// NewCodec returns the codec for the given framing. maxSize <= 0 means MaxMessageSize.
func NewCodec(framing Framing, r io.Reader, w io.Writer, maxSize int) Codec {
	if maxSize <= 0 {
		maxSize = MaxMessageSize
	}
	if framing == FramingBlock {
		return NewBlockFramer(r, w, maxSize)
	}
	return NewFramer(r, w, maxSize)
}

// Framer handles length-prefixed message framing
type Framer struct {
	reader  *bufio.Reader
	writer  io.Writer
	maxSize int
}

// NewFramer creates a new length-prefixed framer
func NewFramer(r io.Reader, w io.Writer, maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = MaxMessageSize
	}
	f := &Framer{
		writer:  w,
		maxSize: maxSize,
	}
	if r != nil {
		f.reader = bufio.NewReaderSize(r, maxSize+4)
	}
	return f
}

// ReadFrame reads one length-prefixed payload. A clean end of stream before
// the length prefix is reported as io.EOF.
func (f *Framer) ReadFrame() ([]byte, error) {
	// Read 4-byte length prefix (big-endian)
	var lengthBuf [4]byte
	if _, err := io.ReadFull(f.reader, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > uint32(f.maxSize) {
		return nil, fmt.Errorf("frame of %d bytes: %w", length, ErrMessageTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(f.reader, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// WriteFrame writes the length prefix and payload in a single write
func (f *Framer) WriteFrame(data []byte) error {
	if len(data) > f.maxSize {
		return ErrMessageTooLarge
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	n, err := f.writer.Write(buf)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n < len(buf) {
		return fmt.Errorf("write frame: %w", io.ErrShortWrite)
	}

	return nil
}

// BlockFramer reads and writes fixed-size NUL-padded blocks
type BlockFramer struct {
	reader io.Reader
	writer io.Writer
	size   int
}

// NewBlockFramer creates a framer with the given block size
func NewBlockFramer(r io.Reader, w io.Writer, size int) *BlockFramer {
	if size <= 0 {
		size = BlockSize
	}
	return &BlockFramer{
		reader: r,
		writer: w,
		size:   size,
	}
}

// ReadFrame reassembles one full block and strips the trailing NUL padding
func (b *BlockFramer) ReadFrame() ([]byte, error) {
	block := make([]byte, b.size)
	if _, err := io.ReadFull(b.reader, block); err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	return bytes.TrimRight(block, "\x00"), nil
}

// WriteFrame writes data as one block, truncating anything past the block size
func (b *BlockFramer) WriteFrame(data []byte) error {
	block := make([]byte, b.size)
	copy(block, data)

	n, err := b.writer.Write(block)
	if err != nil {
		return fmt.Errorf("write block: %w", err)
	}
	if n < len(block) {
		return fmt.Errorf("write block: %w", io.ErrShortWrite)
	}

	return nil
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFramerWriteRead(t *testing.T) {
	buf := &bytes.Buffer{}
	framer := NewFramer(buf, buf, 0)

	if err := framer.WriteFrame([]byte("hello")); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
	if err := framer.WriteFrame([]byte("world")); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}

	reader := NewFramer(bytes.NewReader(buf.Bytes()), nil, 0)
	for _, want := range []string{"hello", "world"} {
		got, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("Failed to read frame: %v", err)
		}
		if string(got) != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}

	if _, err := reader.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}
}

func TestFramerEmptyFrame(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := NewFramer(nil, buf, 0).WriteFrame(nil); err != nil {
		t.Fatalf("Failed to write empty frame: %v", err)
	}
	if buf.Len() != 4 {
		t.Fatalf("Expected 4 bytes on the wire, got %d", buf.Len())
	}

	got, err := NewFramer(buf, nil, 0).ReadFrame()
	if err != nil {
		t.Fatalf("Failed to read empty frame: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty payload, got %q", got)
	}
}

func TestFramerRejectsOversize(t *testing.T) {
	framer := NewFramer(nil, &bytes.Buffer{}, 10)
	if err := framer.WriteFrame(make([]byte, 11)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Expected ErrMessageTooLarge on write, got %v", err)
	}

	var wire bytes.Buffer
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], MaxMessageSize+1)
	wire.Write(lengthBuf[:])

	_, err := NewFramer(&wire, nil, 0).ReadFrame()
	if !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("Expected ErrMessageTooLarge on read, got %v", err)
	}
}

func TestFramerTornFrame(t *testing.T) {
	var wire bytes.Buffer
	NewFramer(nil, &wire, 0).WriteFrame([]byte("incomplete"))
	torn := wire.Bytes()[:wire.Len()-3]

	_, err := NewFramer(bytes.NewReader(torn), nil, 0).ReadFrame()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}

// oneByteReader delivers at most one byte per Read, like a slow stream
type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestFramerReassemblesPartialReads(t *testing.T) {
	var wire bytes.Buffer
	w := NewFramer(nil, &wire, 0)
	w.WriteFrame([]byte("first"))
	w.WriteFrame([]byte("second"))

	r := NewFramer(oneByteReader{bytes.NewReader(wire.Bytes())}, nil, 0)
	for _, want := range []string{"first", "second"} {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if string(got) != want {
			t.Errorf("Expected %q, got %q", want, got)
		}
	}
}

func TestBlockFramer(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "short", input: "hello", want: "hello"},
		{name: "exact", input: strings.Repeat("a", 16), want: strings.Repeat("a", 16)},
		{name: "truncated", input: strings.Repeat("b", 20), want: strings.Repeat("b", 16)},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var wire bytes.Buffer
			if err := NewBlockFramer(nil, &wire, 16).WriteFrame([]byte(tt.input)); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}
			if wire.Len() != 16 {
				t.Fatalf("Expected a 16 byte block, got %d bytes", wire.Len())
			}

			got, err := NewBlockFramer(oneByteReader{&wire}, nil, 16).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNewCodec(t *testing.T) {
	var wire bytes.Buffer
	codec := NewCodec(FramingBlock, nil, &wire, 0)
	if err := codec.WriteFrame([]byte("x")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if wire.Len() != BlockSize {
		t.Errorf("Expected block framing to write %d bytes, got %d", BlockSize, wire.Len())
	}

	wire.Reset()
	codec = NewCodec(FramingLength, nil, &wire, 0)
	if err := codec.WriteFrame([]byte("x")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if wire.Len() != 5 {
		t.Errorf("Expected length framing to write 5 bytes, got %d", wire.Len())
	}
}

func TestParseFraming(t *testing.T) {
	tests := []struct {
		input   string
		want    Framing
		wantErr bool
	}{
		{"length", FramingLength, false},
		{"block", FramingBlock, false},
		{"", FramingLength, false},
		{"lines", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFraming(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFraming(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFraming(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

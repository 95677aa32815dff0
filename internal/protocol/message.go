package protocol

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ServerTag marks envelopes typed by the server operator
const ServerTag = "(SERVER)"

// DefaultExitToken ends a client session or shuts the server down when typed locally
const DefaultExitToken = "/exit"

const (
	joinedPrefix = "peer joined: "
	leftPrefix   = "peer left: "
)

// Kind classifies an envelope line
type Kind int

const (
	KindChat Kind = iota
	KindOperator
	KindJoined
	KindLeft
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindOperator:
		return "operator"
	case KindJoined:
		return "joined"
	case KindLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Envelope is one relayed line: a sender tag and the message text.
// Envelopes are built per broadcast and never stored.
type Envelope struct {
	Kind Kind
	From string
	Text string
}

// Chat builds the envelope for a message relayed from a peer
func Chat(from, text string) Envelope {
	return Envelope{Kind: KindChat, From: from, Text: text}
}

// Operator builds the envelope for a message typed on the server console
func Operator(text string) Envelope {
	return Envelope{Kind: KindOperator, From: ServerTag, Text: text}
}

// Joined builds the announcement for a newly registered peer
func Joined(addr string) Envelope {
	return Envelope{Kind: KindJoined, From: addr}
}

// Left builds the announcement for a removed peer
func Left(addr string) Envelope {
	return Envelope{Kind: KindLeft, From: addr}
}

// String renders the envelope as it appears on the wire
func (e Envelope) String() string {
	switch e.Kind {
	case KindJoined:
		return joinedPrefix + e.From
	case KindLeft:
		return leftPrefix + e.From
	default:
		return e.From + ": " + e.Text
	}
}

// ParseEnvelope classifies a received line. Lines without a sender tag are
// returned as chat with an empty sender.
func ParseEnvelope(line string) Envelope {
	switch {
	case strings.HasPrefix(line, joinedPrefix):
		return Joined(strings.TrimPrefix(line, joinedPrefix))
	case strings.HasPrefix(line, leftPrefix):
		return Left(strings.TrimPrefix(line, leftPrefix))
	case strings.HasPrefix(line, ServerTag+": "):
		return Operator(strings.TrimPrefix(line, ServerTag+": "))
	}
	if from, text, ok := strings.Cut(line, ": "); ok {
		return Chat(from, text)
	}
	return Chat("", line)
}

// Clean turns a received payload into a single printable line: NUL padding
// and trailing line endings are removed, invalid UTF-8 is dropped and
// remaining control characters become spaces.
func Clean(data []byte) string {
	data = trimPadding(data)

	var b strings.Builder
	b.Grow(len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		data = data[size:]
		switch {
		case r == utf8.RuneError && size <= 1:
			continue
		case r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimRightFunc(b.String(), unicode.IsSpace)
}

// Truncate shortens s to at most max bytes without splitting a rune
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func trimPadding(data []byte) []byte {
	end := len(data)
	for end > 0 && (data[end-1] == 0 || data[end-1] == '\n' || data[end-1] == '\r') {
		end--
	}
	return data[:end]
}

package model

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// PayloadKind discriminates the two payload representations.
type PayloadKind string

const (
	PayloadText   PayloadKind = "text"
	PayloadBinary PayloadKind = "binary"
)

// Payload is the content of a signal: either a text string or a raw byte
// buffer, set once at construction and never mutated.
type Payload struct {
	kind PayloadKind
	text string
	data []byte
}

// TextPayload constructs a text payload.
func TextPayload(s string) Payload {
	return Payload{kind: PayloadText, text: s}
}

// BinaryPayload constructs a binary payload from a copy of b.
func BinaryPayload(b []byte) Payload {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Payload{kind: PayloadBinary, data: cp}
}

// PayloadFromBytes decodes b as UTF-8 text when possible, otherwise keeps
// the raw bytes. Mirrors how dropped files are sniffed on ingestion.
func PayloadFromBytes(b []byte) Payload {
	if utf8.Valid(b) {
		return TextPayload(string(b))
	}
	return BinaryPayload(b)
}

// Kind returns the payload discriminant.
func (p Payload) Kind() PayloadKind { return p.kind }

// IsBinary reports whether the payload is a raw byte buffer.
func (p Payload) IsBinary() bool { return p.kind == PayloadBinary }

// Text returns the text content and whether the payload is textual.
func (p Payload) Text() (string, bool) {
	if p.kind == PayloadText {
		return p.text, true
	}
	return "", false
}

// Bytes returns the payload content as bytes regardless of kind. The
// returned slice is a copy for binary payloads.
func (p Payload) Bytes() []byte {
	if p.kind == PayloadText {
		return []byte(p.text)
	}
	cp := make([]byte, len(p.data))
	copy(cp, p.data)
	return cp
}

// Size returns the byte length of the content.
func (p Payload) Size() int {
	if p.kind == PayloadText {
		return len(p.text)
	}
	return len(p.data)
}

// Preview returns a short human-readable excerpt for logs: up to n runes
// of text, or a hex dump of the first bytes for binary content.
func (p Payload) Preview(n int) string {
	if s, ok := p.Text(); ok {
		if len(s) > n {
			return s[:n] + "..."
		}
		return s
	}
	limit := n / 2
	if limit > len(p.data) {
		limit = len(p.data)
	}
	return "0x" + hex.EncodeToString(p.data[:limit])
}

type payloadJSON struct {
	Kind PayloadKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	Data string      `json:"data,omitempty"` // base64 for binary content
}

// MarshalJSON encodes binary payloads as base64 so exports stay lossless.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := payloadJSON{Kind: p.kind}
	if p.kind == PayloadBinary {
		out.Data = base64.StdEncoding.EncodeToString(p.data)
	} else {
		out.Text = p.text
	}
	return json.Marshal(out)
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	var in payloadJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return eris.Wrap(err, "model: decode payload")
	}
	switch in.Kind {
	case PayloadBinary:
		data, err := base64.StdEncoding.DecodeString(in.Data)
		if err != nil {
			return eris.Wrap(err, "model: decode payload data")
		}
		*p = Payload{kind: PayloadBinary, data: data}
	case PayloadText, "":
		*p = Payload{kind: PayloadText, text: in.Text}
	default:
		return eris.Errorf("model: unknown payload kind %q", in.Kind)
	}
	return nil
}

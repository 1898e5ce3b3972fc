package hl7

import (
	"fmt"
	"strings"
)

// Delimiters holds the five control characters declared in the MSH header.
// Vendors may override any of them, so every escape/unescape operation for a
// message must use the set extracted from that message, never the default set.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	Subcomponent byte
}

// DefaultDelimiters returns the standard HL7v2 control characters: |^~\&.
func DefaultDelimiters() Delimiters {
	return Delimiters{
		Field:        '|',
		Component:    '^',
		Repetition:   '~',
		Escape:       '\\',
		Subcomponent: '&',
	}
}

// ExtractDelimiters reads the five control characters from their fixed byte
// offsets in the MSH header line ("MSH" + field separator + encoding chars).
func ExtractDelimiters(header string) (Delimiters, error) {
	if len(header) < 8 {
		return Delimiters{}, fmt.Errorf("hl7: header too short to extract delimiters (%d bytes)", len(header))
	}
	return Delimiters{
		Field:        header[3],
		Component:    header[4],
		Repetition:   header[5],
		Escape:       header[6],
		Subcomponent: header[7],
	}, nil
}

// EncodingCharacters returns the MSH-2 string for this delimiter set.
func (d Delimiters) EncodingCharacters() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.Subcomponent})
}

// Escape replaces delimiter characters in field text with their HL7 escape
// sequences. The escape character itself is substituted as it is encountered,
// so already-produced sequences are never re-escaped.
func Escape(s string, d Delimiters) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case d.Field:
			b.WriteByte(d.Escape)
			b.WriteByte('F')
			b.WriteByte(d.Escape)
		case d.Component:
			b.WriteByte(d.Escape)
			b.WriteByte('S')
			b.WriteByte(d.Escape)
		case d.Subcomponent:
			b.WriteByte(d.Escape)
			b.WriteByte('T')
			b.WriteByte(d.Escape)
		case d.Repetition:
			b.WriteByte(d.Escape)
			b.WriteByte('R')
			b.WriteByte(d.Escape)
		case d.Escape:
			b.WriteByte(d.Escape)
			b.WriteByte('E')
			b.WriteByte(d.Escape)
		default:
			if c < 0x20 || c == 0x7f {
				// Control bytes travel as \Xhh\ hex escapes.
				fmt.Fprintf(&b, "%cX%02X%c", d.Escape, c, d.Escape)
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// Unescape decodes HL7 escape sequences in field text back into the literal
// delimiter characters, including \Xhh\ hex escapes. Text containing no
// escape character is returned unmodified without allocating.
func Unescape(s string, d Delimiters) string {
	if strings.IndexByte(s, d.Escape) == -1 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != d.Escape {
			b.WriteByte(c)
			continue
		}

		// Find the closing escape character of the sequence.
		end := strings.IndexByte(s[i+1:], d.Escape)
		if end == -1 {
			// Dangling escape: keep the raw text.
			b.WriteString(s[i:])
			break
		}
		token := s[i+1 : i+1+end]
		switch {
		case token == "F":
			b.WriteByte(d.Field)
		case token == "S":
			b.WriteByte(d.Component)
		case token == "T":
			b.WriteByte(d.Subcomponent)
		case token == "R":
			b.WriteByte(d.Repetition)
		case token == "E":
			b.WriteByte(d.Escape)
		case len(token) >= 3 && token[0] == 'X':
			if !writeHexEscape(&b, token[1:]) {
				b.WriteString(s[i : i+2+end])
			}
		default:
			// Unknown sequence: preserve it verbatim.
			b.WriteString(s[i : i+2+end])
		}
		i += 1 + end
	}
	return b.String()
}

// writeHexEscape decodes the hex digit pairs of a \Xhh\ sequence. It reports
// whether the payload was valid hex.
func writeHexEscape(b *strings.Builder, hexDigits string) bool {
	if len(hexDigits) == 0 || len(hexDigits)%2 != 0 {
		return false
	}
	for i := 0; i < len(hexDigits); i += 2 {
		hi, ok1 := hexVal(hexDigits[i])
		lo, ok2 := hexVal(hexDigits[i+1])
		if !ok1 || !ok2 {
			return false
		}
		b.WriteByte(hi<<4 | lo)
	}
	return true
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

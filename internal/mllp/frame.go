package mllp

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// Default MLLP framing bytes.
const (
	StartBlock     = 0x0B // VT
	EndBlock       = 0x1C // FS
	CarriageReturn = 0x0D // CR after the end block
)

// Framing holds the three frame marker bytes. Vendors occasionally deviate
// from the standard values, so all three are configurable per connector.
type Framing struct {
	Start byte
	End1  byte
	End2  byte
}

// DefaultFraming returns the standard MLLP markers: 0x0B ... 0x1C 0x0D.
func DefaultFraming() Framing {
	return Framing{Start: StartBlock, End1: EndBlock, End2: CarriageReturn}
}

// Wrap frames raw HL7v2 bytes for the wire:
//
//	<start> + message + <end1><end2>
func (f Framing) Wrap(data []byte) []byte {
	frame := make([]byte, 0, len(data)+3)
	frame = append(frame, f.Start)
	frame = append(frame, data...)
	frame = append(frame, f.End1, f.End2)
	return frame
}

// Next extracts the first complete frame from a byte buffer. It returns the
// interior message bytes, the remaining buffer after the consumed frame, and
// whether a complete frame was found. With no start marker, or with a start
// marker but no end sequence yet, it reports found=false so the caller can
// wait for more data.
func (f Framing) Next(data []byte) (message []byte, rest []byte, found bool) {
	startIdx := bytes.IndexByte(data, f.Start)
	if startIdx == -1 {
		return nil, data, false
	}

	endSeq := []byte{f.End1, f.End2}
	endIdx := bytes.Index(data[startIdx+1:], endSeq)
	if endIdx == -1 {
		return nil, data, false
	}
	endIdx = startIdx + 1 + endIdx

	return data[startIdx+1 : endIdx], data[endIdx+2:], true
}

// Encoding names the text encoding used on the wire. UTF-8 is the default;
// Latin-1 supports legacy sending systems.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf-8"
	EncodingLatin1 Encoding = "latin-1"
)

// Valid reports whether the encoding is one the transport supports.
func (e Encoding) Valid() bool {
	return e == EncodingUTF8 || e == EncodingLatin1
}

// Decode converts wire bytes into UTF-8 text bytes.
func (e Encoding) Decode(b []byte) ([]byte, error) {
	switch e {
	case EncodingUTF8, "":
		return b, nil
	case EncodingLatin1:
		return charmap.ISO8859_1.NewDecoder().Bytes(b)
	}
	return nil, fmt.Errorf("mllp: unsupported encoding %q", e)
}

// Encode converts UTF-8 text bytes into wire bytes.
func (e Encoding) Encode(b []byte) ([]byte, error) {
	switch e {
	case EncodingUTF8, "":
		return b, nil
	case EncodingLatin1:
		return charmap.ISO8859_1.NewEncoder().Bytes(b)
	}
	return nil, fmt.Errorf("mllp: unsupported encoding %q", e)
}

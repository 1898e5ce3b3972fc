package hl7

import (
	"strings"
)

// Serialize converts a Message back into HL7v2 wire text with \r segment
// separators. Field repetitions are re-joined with the message's own
// delimiter set, so parse → Serialize → parse reproduces the same structure.
func Serialize(m *Message) []byte {
	d := m.Delimiters
	segments := make([]string, 0, len(m.Segments))
	for i := range m.Segments {
		segments = append(segments, serializeSegment(&m.Segments[i], d))
	}
	return []byte(strings.Join(segments, "\r"))
}

func serializeSegment(s *Segment, d Delimiters) string {
	fs := string(d.Field)

	if s.Name == headerSegmentName {
		// MSH-1 is the field separator and MSH-2 the encoding characters;
		// both are reproduced literally, never escaped.
		if len(s.Fields) < 2 {
			return headerSegmentName + fs + d.EncodingCharacters()
		}
		parts := make([]string, 0, len(s.Fields)-1)
		parts = append(parts, d.EncodingCharacters())
		for i := 2; i < len(s.Fields); i++ {
			parts = append(parts, joinRepetitions(s.Fields[i], d))
		}
		return headerSegmentName + fs + strings.Join(parts, fs)
	}

	parts := make([]string, 0, len(s.Fields)+1)
	parts = append(parts, s.Name)
	for i := range s.Fields {
		parts = append(parts, joinRepetitions(s.Fields[i], d))
	}
	return strings.Join(parts, fs)
}

func joinRepetitions(f Field, d Delimiters) string {
	if len(f.Repetitions) == 1 {
		return f.Repetitions[0]
	}
	return strings.Join(f.Repetitions, string(d.Repetition))
}

// NewSegment builds a segment from already-unescaped field values, escaping
// each one for the wire. Intended for programmatic message construction.
func NewSegment(name string, d Delimiters, values ...string) Segment {
	seg := Segment{Name: name, d: d}
	for _, v := range values {
		seg.Fields = append(seg.Fields, Field{Repetitions: []string{Escape(v, d)}})
	}
	return seg
}

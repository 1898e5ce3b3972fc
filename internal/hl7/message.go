package hl7

import (
	"fmt"
	"strings"
	"time"
)

// Message represents a parsed HL7v2 message.
type Message struct {
	Type         string    // MSH-9 message type (e.g. "ADT^A01")
	ControlID    string    // MSH-10
	Version      string    // MSH-12 (e.g. "2.5")
	Timestamp    time.Time // MSH-7
	SendingApp   string    // MSH-3
	SendingFac   string    // MSH-4
	ReceivingApp string    // MSH-5
	ReceivingFac string    // MSH-6
	Delimiters   Delimiters
	Segments     []Segment
	Raw          string // original wire text, retained for audit
}

// Segment is a named, ordered list of fields. Field text is stored in wire
// form (escape sequences intact); accessors unescape on the way out.
type Segment struct {
	Name   string
	Fields []Field
	d      Delimiters
}

// Field holds the raw wire text of each repetition at one field position.
type Field struct {
	Repetitions []string
}

// Parse parses raw HL7v2 text into a structured Message. It supports \r, \n,
// and \r\n segment separators and skips blank lines.
func Parse(raw []byte) (*Message, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("hl7: empty message")
	}

	text := string(raw)
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("hl7: empty message")
	}

	header := lines[0]
	if len(header) < 3 || header[:3] != headerSegmentName {
		got := header
		if len(got) > 3 {
			got = got[:3]
		}
		return nil, fmt.Errorf("hl7: message must start with %s header segment, got %q", headerSegmentName, got)
	}
	if len(header) < 9 {
		return nil, fmt.Errorf("hl7: header too short to extract delimiters (%d bytes)", len(header))
	}

	d, err := ExtractDelimiters(header)
	if err != nil {
		return nil, err
	}

	msg := &Message{Delimiters: d, Raw: string(raw)}
	for i, line := range lines {
		var seg Segment
		if i == 0 {
			seg = parseHeaderSegment(header, d)
		} else {
			seg = parseSegment(line, d)
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msg.extractHeaderFields()
	return msg, nil
}

const headerSegmentName = "MSH"

// parseHeaderSegment parses the MSH line. MSH-1 is the field separator itself
// and MSH-2 is the encoding-character string; neither is split or unescaped.
func parseHeaderSegment(line string, d Delimiters) Segment {
	seg := Segment{Name: headerSegmentName, d: d}
	seg.Fields = append(seg.Fields,
		Field{Repetitions: []string{string(d.Field)}},
		Field{Repetitions: []string{d.EncodingCharacters()}},
	)

	// Content starts after "MSH|^~\&|".
	if len(line) <= 9 {
		return seg
	}
	for _, raw := range strings.Split(line[9:], string(d.Field)) {
		seg.Fields = append(seg.Fields, parseField(raw, d))
	}
	return seg
}

func parseSegment(line string, d Delimiters) Segment {
	parts := strings.Split(line, string(d.Field))
	seg := Segment{Name: parts[0], d: d}
	for _, raw := range parts[1:] {
		seg.Fields = append(seg.Fields, parseField(raw, d))
	}
	return seg
}

func parseField(raw string, d Delimiters) Field {
	return Field{Repetitions: strings.Split(raw, string(d.Repetition))}
}

// extractHeaderFields lifts commonly used MSH fields onto the Message.
func (m *Message) extractHeaderFields() {
	msh := m.GetSegment(headerSegmentName)
	if msh == nil {
		return
	}
	m.SendingApp = msh.GetField(3)
	m.SendingFac = msh.GetField(4)
	m.ReceivingApp = msh.GetField(5)
	m.ReceivingFac = msh.GetField(6)
	m.Type = msh.GetField(9)
	m.ControlID = msh.GetField(10)
	m.Version = msh.GetField(12)

	if ts := msh.GetField(7); ts != "" {
		if t, err := ParseTimestamp(ts); err == nil {
			m.Timestamp = t
		}
	}
}

// ParseTimestamp parses an HL7v2 timestamp (YYYYMMDD[HHMM[SS]]).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	switch {
	case len(s) >= 14:
		return time.Parse("20060102150405", s[:14])
	case len(s) >= 12:
		return time.Parse("200601021504", s[:12])
	case len(s) >= 8:
		return time.Parse("20060102", s[:8])
	default:
		return time.Time{}, fmt.Errorf("hl7: unrecognized timestamp format: %q", s)
	}
}

// GetSegment returns the first segment with the given name, or nil.
func (m *Message) GetSegment(name string) *Segment {
	return m.GetSegmentN(name, 0)
}

// GetSegmentN returns the nth (0-based) occurrence of a segment, or nil.
func (m *Message) GetSegmentN(name string, occurrence int) *Segment {
	seen := 0
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			if seen == occurrence {
				return &m.Segments[i]
			}
			seen++
		}
	}
	return nil
}

// GetSegments returns all segments with the given name.
func (m *Message) GetSegments(name string) []*Segment {
	var result []*Segment
	for i := range m.Segments {
		if m.Segments[i].Name == name {
			result = append(result, &m.Segments[i])
		}
	}
	return result
}

// GetField returns the unescaped value of the first repetition of a field by
// its 1-based index. Out-of-range indexes return "".
func (s *Segment) GetField(index int) string {
	return s.GetFieldRepeat(index, 0)
}

// GetFieldRepeat returns the unescaped value of one repetition of a field.
// The field index is 1-based, the repetition index 0-based.
func (s *Segment) GetFieldRepeat(index, repetition int) string {
	raw, ok := s.rawField(index, repetition)
	if !ok {
		return ""
	}
	// MSH-1 and MSH-2 are the control characters themselves.
	if s.Name == headerSegmentName && index <= 2 {
		return raw
	}
	return Unescape(raw, s.d)
}

// GetFieldRepeats returns the unescaped values of every repetition at a field
// position, dropping empty repetitions.
func (s *Segment) GetFieldRepeats(index int) []string {
	if index < 1 || index > len(s.Fields) {
		return nil
	}
	var out []string
	for _, raw := range s.Fields[index-1].Repetitions {
		if v := Unescape(raw, s.d); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// NumRepeats returns how many repetitions exist at a 1-based field position.
func (s *Segment) NumRepeats(fieldIdx int) int {
	if fieldIdx < 1 || fieldIdx > len(s.Fields) {
		return 0
	}
	return len(s.Fields[fieldIdx-1].Repetitions)
}

// GetComponent returns the unescaped value of a component within a field.
// Both indexes are 1-based; out-of-range returns "".
func (s *Segment) GetComponent(fieldIdx, compIdx int) string {
	return s.GetComponentRepeat(fieldIdx, 0, compIdx)
}

// GetComponentRepeat returns the unescaped value of a component within one
// repetition of a field. Field and component indexes are 1-based, the
// repetition index 0-based.
func (s *Segment) GetComponentRepeat(fieldIdx, repetition, compIdx int) string {
	raw, ok := s.rawField(fieldIdx, repetition)
	if !ok {
		return ""
	}
	comps := strings.Split(raw, string(s.d.Component))
	if compIdx < 1 || compIdx > len(comps) {
		return ""
	}
	return Unescape(comps[compIdx-1], s.d)
}

func (s *Segment) rawField(index, repetition int) (string, bool) {
	if index < 1 || index > len(s.Fields) {
		return "", false
	}
	reps := s.Fields[index-1].Repetitions
	if repetition < 0 || repetition >= len(reps) {
		return "", false
	}
	return reps[repetition], true
}

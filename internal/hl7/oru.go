package hl7

import (
	"fmt"
	"strings"
)

// ParseResult projects an ORU message onto a ResultMessage record: one
// Observation per OBX segment, grouped under the report described by OBR.
func ParseResult(m *Message) (*ResultMessage, error) {
	if !strings.HasPrefix(m.Type, "ORU") {
		return nil, fmt.Errorf("hl7: not an ORU message: %q", m.Type)
	}

	pid := m.GetSegment("PID")
	if pid == nil {
		return nil, fmt.Errorf("hl7: ORU message has no PID segment")
	}
	patient, err := parsePatient(pid)
	if err != nil {
		return nil, err
	}

	rm := &ResultMessage{Patient: patient}

	if obr := m.GetSegment("OBR"); obr != nil {
		rm.Report = Report{
			PlacerOrderNumber: obr.GetComponent(2, 1),
			FillerOrderNumber: obr.GetComponent(3, 1),
			Code:              obr.GetComponent(4, 1),
			Text:              obr.GetComponent(4, 2),
			ObservedAt:        obr.GetField(7),
			Status:            obr.GetField(25),
		}
	}

	for _, obx := range m.GetSegments("OBX") {
		rm.Report.Observations = append(rm.Report.Observations, Observation{
			SetID:          obx.GetField(1),
			ValueType:      obx.GetField(2),
			Code:           obx.GetComponent(3, 1),
			Text:           obx.GetComponent(3, 2),
			Value:          obx.GetField(5),
			Units:          obx.GetComponent(6, 1),
			ReferenceRange: obx.GetField(7),
			AbnormalFlags:  obx.GetField(8),
			Status:         obx.GetField(11),
		})
	}

	if len(rm.Report.Observations) == 0 {
		return nil, fmt.Errorf("hl7: ORU message has no OBX segment")
	}

	return rm, nil
}

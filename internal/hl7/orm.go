package hl7

import (
	"fmt"
	"strings"
)

// ParseOrder projects an ORM message onto an OrderMessage record. Each
// ORC segment is paired with the OBR that follows it, producing one Order
// per pair; any number of pairs may occur in a single message.
func ParseOrder(m *Message) (*OrderMessage, error) {
	if !strings.HasPrefix(m.Type, "ORM") {
		return nil, fmt.Errorf("hl7: not an ORM message: %q", m.Type)
	}

	pid := m.GetSegment("PID")
	if pid == nil {
		return nil, fmt.Errorf("hl7: ORM message has no PID segment")
	}
	patient, err := parsePatient(pid)
	if err != nil {
		return nil, err
	}

	om := &OrderMessage{Patient: patient}

	for i := range m.Segments {
		if m.Segments[i].Name != "ORC" {
			continue
		}
		orc := &m.Segments[i]
		order := Order{
			ControlCode:       orc.GetField(1),
			PlacerOrderNumber: orc.GetComponent(2, 1),
			FillerOrderNumber: orc.GetComponent(3, 1),
			RequestedAt:       orc.GetComponent(9, 1),
		}
		// The detail segment for this order is the next OBR before any
		// further ORC.
		for j := i + 1; j < len(m.Segments); j++ {
			if m.Segments[j].Name == "ORC" {
				break
			}
			if m.Segments[j].Name != "OBR" {
				continue
			}
			obr := &m.Segments[j]
			order.ProcedureCode = obr.GetComponent(4, 1)
			order.ProcedureText = obr.GetComponent(4, 2)
			order.ObservationAt = obr.GetField(7)
			if order.PlacerOrderNumber == "" {
				order.PlacerOrderNumber = obr.GetComponent(2, 1)
			}
			if order.FillerOrderNumber == "" {
				order.FillerOrderNumber = obr.GetComponent(3, 1)
			}
			break
		}
		om.Orders = append(om.Orders, order)
	}

	if len(om.Orders) == 0 {
		return nil, fmt.Errorf("hl7: ORM message has no ORC segment")
	}

	ext, err := parseExtensions(m)
	if err != nil {
		return nil, err
	}
	om.Extensions = ext
	if ext != nil {
		applyDemographicExtensions(&om.Patient, ext)
	}

	return om, nil
}

package hl7

import (
	"fmt"
	"strings"

	"github.com/hl7bridge/hl7bridge/internal/validate"
)

// ParseAdmission projects an ADT message (admission, transfer, discharge,
// update) onto an AdmissionMessage record.
func ParseAdmission(m *Message) (*AdmissionMessage, error) {
	if !strings.HasPrefix(m.Type, "ADT") {
		return nil, fmt.Errorf("hl7: not an ADT message: %q", m.Type)
	}

	pid := m.GetSegment("PID")
	if pid == nil {
		return nil, fmt.Errorf("hl7: ADT message has no PID segment")
	}
	patient, err := parsePatient(pid)
	if err != nil {
		return nil, err
	}

	adm := &AdmissionMessage{Patient: patient}
	if parts := strings.SplitN(m.Type, "^", 3); len(parts) >= 2 {
		adm.TriggerEvent = parts[1]
	}

	if pv1 := m.GetSegment("PV1"); pv1 != nil {
		adm.Visit = parseVisit(pv1)
	}
	if in1 := m.GetSegment("IN1"); in1 != nil {
		adm.Insurance = parseInsurance(in1)
	}

	ext, err := parseExtensions(m)
	if err != nil {
		return nil, err
	}
	adm.Extensions = ext
	if ext != nil {
		applyDemographicExtensions(&adm.Patient, ext)
	}

	return adm, nil
}

// parsePatient extracts demographics from a PID segment. CPF and CNS are
// picked out of the PID-3 repetitions by their identifier type code (CX.5)
// and checksum-validated; a bad checksum rejects the whole message with the
// specific rule that was violated.
func parsePatient(pid *Segment) (Patient, error) {
	p := Patient{
		ID:         pid.GetComponent(3, 1),
		FamilyName: pid.GetComponent(5, 1),
		GivenName:  pid.GetComponent(5, 2),
		Sex:        pid.GetField(8),
		Street:     pid.GetComponent(11, 1),
		City:       pid.GetComponent(11, 3),
		State:      pid.GetComponent(11, 4),
		PostalCode: pid.GetComponent(11, 5),
		Country:    pid.GetComponent(11, 6),
		Phone:      pid.GetComponent(13, 1),
	}
	p.BirthDate = formatBirthDate(pid.GetField(7))

	for rep := 0; rep < pid.NumRepeats(3); rep++ {
		value := pid.GetComponentRepeat(3, rep, 1)
		idType := pid.GetComponentRepeat(3, rep, 5)
		if value == "" || idType == "" {
			continue
		}
		switch strings.ToUpper(idType) {
		case "CPF":
			if err := validate.CPF(value); err != nil {
				return Patient{}, fmt.Errorf("hl7: PID-3 CPF: %w", err)
			}
			p.CPF = validate.DigitsOnly(value)
		case "CNS":
			if err := validate.CNS(value); err != nil {
				return Patient{}, fmt.Errorf("hl7: PID-3 CNS: %w", err)
			}
			p.CNS = validate.DigitsOnly(value)
		}
	}
	return p, nil
}

func parseVisit(pv1 *Segment) *Visit {
	return &Visit{
		VisitNumber:     pv1.GetComponent(19, 1),
		Class:           pv1.GetField(2),
		Location:        pv1.GetComponent(3, 1),
		AttendingDoctor: formatClinicianName(pv1, 7),
		AdmitTime:       pv1.GetField(44),
		DischargeTime:   pv1.GetField(45),
	}
}

func parseInsurance(in1 *Segment) *Insurance {
	return &Insurance{
		SetID:        in1.GetField(1),
		PlanID:       in1.GetComponent(2, 1),
		CompanyName:  in1.GetComponent(4, 1),
		PolicyNumber: in1.GetField(36),
	}
}

// formatClinicianName renders an XCN field (id^family^given) as "given family".
func formatClinicianName(seg *Segment, fieldIdx int) string {
	family := seg.GetComponent(fieldIdx, 2)
	given := seg.GetComponent(fieldIdx, 3)
	name := strings.TrimSpace(given + " " + family)
	if name == "" {
		return seg.GetComponent(fieldIdx, 1)
	}
	return name
}

// formatBirthDate renders an HL7 date (YYYYMMDD...) as an ISO date. Values
// that do not parse are passed through untouched.
func formatBirthDate(s string) string {
	t, err := ParseTimestamp(s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}

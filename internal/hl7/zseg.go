package hl7

import (
	"fmt"
	"strconv"

	"github.com/hl7bridge/hl7bridge/internal/validate"
)

// Proprietary vendor extension segments. Fields are positional and all
// optional; demographic identifiers are checksum-validated when present.
const (
	segExtDemographics = "ZPD"
	segExtVisit        = "ZVI"
	segExtInsurance    = "ZIN"
	segExtOrder        = "ZOR"
)

// ExtDemographics is the ZPD segment: extended patient demographics.
type ExtDemographics struct {
	CPF           string // ZPD-1
	CNS           string // ZPD-2
	MotherName    string // ZPD-3
	FatherName    string // ZPD-4
	Race          string // ZPD-5
	MaritalStatus string // ZPD-6
	Religion      string // ZPD-7
	Nationality   string // ZPD-8
	BirthCity     string // ZPD-9
	Education     string // ZPD-10
	Occupation    string // ZPD-11
}

// ExtVisit is the ZVI segment: extended visit details. Secondary diagnoses
// (ZVI-6) is the only repeatable field in the extension set.
type ExtVisit struct {
	CareUnit           string   // ZVI-1
	Bed                string   // ZVI-2
	AdmissionType      string   // ZVI-3
	ReferringUnit      string   // ZVI-4
	PrimaryDiagnosis   string   // ZVI-5
	SecondaryDiagnoses []string // ZVI-6, repeatable
	ExpectedDischarge  string   // ZVI-7
	LegalGuardian      string   // ZVI-8
	Notes              string   // ZVI-9
}

// ExtInsurance is the ZIN segment: extended insurance details.
type ExtInsurance struct {
	PlanCode            string // ZIN-1
	PlanName            string // ZIN-2
	CardNumber          string // ZIN-3
	CardValidity        string // ZIN-4
	CoverageType        string // ZIN-5
	CopayFlag           string // ZIN-6
	AuthorizationNumber string // ZIN-7
	CompanyCode         string // ZIN-8
	Notes               string // ZIN-9
}

// ExtOrder is the ZOR segment: extended order details. ZOR-8 and ZOR-9 must
// be numeric when present.
type ExtOrder struct {
	RequestingUnit  string // ZOR-1
	PerformingUnit  string // ZOR-2
	Urgency         string // ZOR-3
	Justification   string // ZOR-4
	ScheduledAt     string // ZOR-5
	Material        string // ZOR-6
	AuthorizationNo string // ZOR-7
	Quantity        int    // ZOR-8, numeric
	Sequence        int    // ZOR-9, numeric
}

// Extensions groups whichever vendor extension segments were present.
type Extensions struct {
	Demographics *ExtDemographics
	Visit        *ExtVisit
	Insurance    *ExtInsurance
	Order        *ExtOrder
}

// parseExtensions extracts the proprietary extension segments from a
// message. It returns nil when none are present.
func parseExtensions(m *Message) (*Extensions, error) {
	ext := &Extensions{}
	found := false

	if z := m.GetSegment(segExtDemographics); z != nil {
		d, err := parseExtDemographics(z)
		if err != nil {
			return nil, err
		}
		ext.Demographics = d
		found = true
	}
	if z := m.GetSegment(segExtVisit); z != nil {
		ext.Visit = &ExtVisit{
			CareUnit:           z.GetField(1),
			Bed:                z.GetField(2),
			AdmissionType:      z.GetField(3),
			ReferringUnit:      z.GetField(4),
			PrimaryDiagnosis:   z.GetField(5),
			SecondaryDiagnoses: z.GetFieldRepeats(6),
			ExpectedDischarge:  z.GetField(7),
			LegalGuardian:      z.GetField(8),
			Notes:              z.GetField(9),
		}
		found = true
	}
	if z := m.GetSegment(segExtInsurance); z != nil {
		ext.Insurance = &ExtInsurance{
			PlanCode:            z.GetField(1),
			PlanName:            z.GetField(2),
			CardNumber:          z.GetField(3),
			CardValidity:        z.GetField(4),
			CoverageType:        z.GetField(5),
			CopayFlag:           z.GetField(6),
			AuthorizationNumber: z.GetField(7),
			CompanyCode:         z.GetField(8),
			Notes:               z.GetField(9),
		}
		found = true
	}
	if z := m.GetSegment(segExtOrder); z != nil {
		o, err := parseExtOrder(z)
		if err != nil {
			return nil, err
		}
		ext.Order = o
		found = true
	}

	if !found {
		return nil, nil
	}
	return ext, nil
}

func parseExtDemographics(z *Segment) (*ExtDemographics, error) {
	d := &ExtDemographics{
		MotherName:    z.GetField(3),
		FatherName:    z.GetField(4),
		Race:          z.GetField(5),
		MaritalStatus: z.GetField(6),
		Religion:      z.GetField(7),
		Nationality:   z.GetField(8),
		BirthCity:     z.GetField(9),
		Education:     z.GetField(10),
		Occupation:    z.GetField(11),
	}
	if cpf := z.GetField(1); cpf != "" {
		if err := validate.CPF(cpf); err != nil {
			return nil, fmt.Errorf("hl7: %s-1: %w", segExtDemographics, err)
		}
		d.CPF = validate.DigitsOnly(cpf)
	}
	if cns := z.GetField(2); cns != "" {
		if err := validate.CNS(cns); err != nil {
			return nil, fmt.Errorf("hl7: %s-2: %w", segExtDemographics, err)
		}
		d.CNS = validate.DigitsOnly(cns)
	}
	return d, nil
}

func parseExtOrder(z *Segment) (*ExtOrder, error) {
	o := &ExtOrder{
		RequestingUnit:  z.GetField(1),
		PerformingUnit:  z.GetField(2),
		Urgency:         z.GetField(3),
		Justification:   z.GetField(4),
		ScheduledAt:     z.GetField(5),
		Material:        z.GetField(6),
		AuthorizationNo: z.GetField(7),
	}
	for _, f := range []struct {
		idx  int
		dest *int
	}{
		{8, &o.Quantity},
		{9, &o.Sequence},
	} {
		v := z.GetField(f.idx)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("hl7: %s-%d must be numeric, got %q", segExtOrder, f.idx, v)
		}
		*f.dest = n
	}
	return o, nil
}

// applyDemographicExtensions backfills the patient record with identifiers
// that arrived only in the extension segment.
func applyDemographicExtensions(p *Patient, ext *Extensions) {
	if ext.Demographics == nil {
		return
	}
	if p.CPF == "" {
		p.CPF = ext.Demographics.CPF
	}
	if p.CNS == "" {
		p.CNS = ext.Demographics.CNS
	}
}

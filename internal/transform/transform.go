// Package transform maps parsed HL7v2 domain records onto FHIR R4 resources
// bundled as a transaction. All functions are pure: the same record always
// produces the same bundle structure.
package transform

import (
	"fmt"
	"strconv"

	"github.com/hl7bridge/hl7bridge/internal/hl7"
	"github.com/hl7bridge/hl7bridge/internal/platform/fhir"
	"github.com/hl7bridge/hl7bridge/internal/validate"
	"github.com/hl7bridge/hl7bridge/pkg/fhirmodels"
)

// Admission turns an admission/discharge/transfer record into a transaction
// Bundle with Patient, Encounter and Coverage entries.
func Admission(adm *hl7.AdmissionMessage) (*fhir.Bundle, error) {
	patient, err := buildPatient(&adm.Patient)
	if err != nil {
		return nil, err
	}

	bundle := fhir.NewTransactionBundle()
	if err := addPatient(bundle, patient); err != nil {
		return nil, err
	}

	if adm.Visit != nil {
		enc := buildEncounter(adm.Visit, patient)
		if enc.ID != "" {
			err = bundle.AddPut(enc, "Encounter", enc.ID)
		} else {
			err = bundle.AddPost(enc, "Encounter")
		}
		if err != nil {
			return nil, err
		}
	}

	if adm.Insurance != nil {
		cov := buildCoverage(adm.Insurance, patient)
		if err := bundle.AddPost(cov, "Coverage"); err != nil {
			return nil, err
		}
	}

	return bundle, nil
}

// Orders turns an order record into a transaction Bundle with a Patient
// entry and one ServiceRequest per order.
func Orders(om *hl7.OrderMessage) (*fhir.Bundle, error) {
	patient, err := buildPatient(&om.Patient)
	if err != nil {
		return nil, err
	}

	bundle := fhir.NewTransactionBundle()
	if err := addPatient(bundle, patient); err != nil {
		return nil, err
	}

	for i := range om.Orders {
		sr := buildServiceRequest(&om.Orders[i], patient)
		if sr.ID != "" {
			err = bundle.AddPut(sr, "ServiceRequest", sr.ID)
		} else {
			err = bundle.AddPost(sr, "ServiceRequest")
		}
		if err != nil {
			return nil, err
		}
	}

	return bundle, nil
}

// Results turns a result record into a transaction Bundle with a Patient
// entry, one Observation per OBX, and a DiagnosticReport referencing them.
func Results(rm *hl7.ResultMessage) (*fhir.Bundle, error) {
	patient, err := buildPatient(&rm.Patient)
	if err != nil {
		return nil, err
	}

	bundle := fhir.NewTransactionBundle()
	if err := addPatient(bundle, patient); err != nil {
		return nil, err
	}

	subject := patientReference(patient)
	report := &fhir.DiagnosticReport{
		ResourceType:      "DiagnosticReport",
		ID:                rm.Report.FillerOrderNumber,
		Status:            MapReportStatus(rm.Report.Status),
		Subject:           subject,
		EffectiveDateTime: rm.Report.ObservedAt,
	}
	if rm.Report.Code != "" {
		report.Code = &fhir.CodeableConcept{
			Coding: []fhir.Coding{{Code: rm.Report.Code, Display: rm.Report.Text}},
			Text:   rm.Report.Text,
		}
	}
	if rm.Report.FillerOrderNumber != "" {
		report.Identifier = []fhir.Identifier{{Use: "official", Value: rm.Report.FillerOrderNumber}}
	}

	for i := range rm.Report.Observations {
		obs := buildObservation(&rm.Report.Observations[i], patient)
		if err := bundle.AddPost(obs, "Observation"); err != nil {
			return nil, err
		}
		// Observations have no stable natural key; reference them through
		// the bundle-local fullUrl.
		report.Result = append(report.Result, fhir.Reference{
			Reference: bundle.Entry[len(bundle.Entry)-1].FullURL,
		})
	}

	if report.ID != "" {
		err = bundle.AddPut(report, "DiagnosticReport", report.ID)
	} else {
		err = bundle.AddPost(report, "DiagnosticReport")
	}
	if err != nil {
		return nil, err
	}

	return bundle, nil
}

// buildPatient maps the demographics record to a FHIR Patient. Identifiers
// are re-validated here as the acceptance gate: a record with a bad CPF or
// CNS never reaches the bundle.
func buildPatient(p *hl7.Patient) (*fhir.Patient, error) {
	out := &fhir.Patient{
		ResourceType: "Patient",
		ID:           p.ID,
		Gender:       MapSex(p.Sex),
		BirthDate:    p.BirthDate,
	}

	if p.FamilyName != "" || p.GivenName != "" {
		name := fhir.HumanName{Use: "official", Family: p.FamilyName}
		if p.GivenName != "" {
			name.Given = []string{p.GivenName}
		}
		out.Name = []fhir.HumanName{name}
	}

	if p.Street != "" || p.City != "" {
		addr := fhir.Address{
			City:       p.City,
			State:      p.State,
			PostalCode: p.PostalCode,
			Country:    p.Country,
		}
		if p.Street != "" {
			addr.Line = []string{p.Street}
		}
		out.Address = []fhir.Address{addr}
	}

	if p.Phone != "" {
		out.Telecom = []fhir.ContactPoint{{System: "phone", Value: p.Phone}}
	}

	// The two national identifiers are emitted as separate entries with
	// distinct system URIs, never merged.
	if p.CPF != "" {
		if err := validate.CPF(p.CPF); err != nil {
			return nil, fmt.Errorf("transform: patient CPF rejected: %w", err)
		}
		out.Identifier = append(out.Identifier, fhir.Identifier{
			Use:    "official",
			System: fhirmodels.SystemCPF,
			Value:  validate.DigitsOnly(p.CPF),
		})
	}
	if p.CNS != "" {
		if err := validate.CNS(p.CNS); err != nil {
			return nil, fmt.Errorf("transform: patient CNS rejected: %w", err)
		}
		out.Identifier = append(out.Identifier, fhir.Identifier{
			Use:    "official",
			System: fhirmodels.SystemCNS,
			Value:  validate.DigitsOnly(p.CNS),
		})
	}

	return out, nil
}

// buildEncounter maps a visit record to a FHIR Encounter. Status is finished
// when a discharge timestamp is present, in-progress otherwise; admit and
// discharge timestamps are copied into the period verbatim.
func buildEncounter(v *hl7.Visit, patient *fhir.Patient) *fhir.Encounter {
	classCode, classDisplay := MapVisitClass(v.Class)

	status := fhirmodels.EncounterStatusInProgress
	if v.DischargeTime != "" {
		status = fhirmodels.EncounterStatusFinished
	}

	enc := &fhir.Encounter{
		ResourceType: "Encounter",
		ID:           v.VisitNumber,
		Status:       status,
		Class: fhir.Coding{
			System:  "http://terminology.hl7.org/CodeSystem/v3-ActCode",
			Code:    classCode,
			Display: classDisplay,
		},
		Subject: patientReference(patient),
	}

	if v.AdmitTime != "" || v.DischargeTime != "" {
		enc.Period = &fhir.Period{Start: v.AdmitTime, End: v.DischargeTime}
	}
	if v.Location != "" {
		enc.Location = []fhir.EncounterLocation{
			{Location: fhir.Reference{Display: v.Location}},
		}
	}
	if v.AttendingDoctor != "" {
		enc.Participant = []fhir.EncounterParticipant{{
			Type: []fhir.CodeableConcept{{
				Coding: []fhir.Coding{{
					System: "http://terminology.hl7.org/CodeSystem/v3-ParticipationType",
					Code:   fhirmodels.ParticipantAttender,
				}},
			}},
			Individual: &fhir.Reference{Display: v.AttendingDoctor},
		}}
	}
	return enc
}

func buildCoverage(ins *hl7.Insurance, patient *fhir.Patient) *fhir.Coverage {
	cov := &fhir.Coverage{
		ResourceType: "Coverage",
		Status:       "active",
		Beneficiary:  patientReference(patient),
		SubscriberID: ins.PolicyNumber,
	}
	if ins.PlanID != "" {
		cov.Identifier = []fhir.Identifier{{Value: ins.PlanID}}
	}
	if ins.CompanyName != "" {
		cov.Payor = []fhir.Reference{{Display: ins.CompanyName}}
	}
	return cov
}

func buildServiceRequest(o *hl7.Order, patient *fhir.Patient) *fhir.ServiceRequest {
	id := o.PlacerOrderNumber
	if id == "" {
		id = o.FillerOrderNumber
	}
	sr := &fhir.ServiceRequest{
		ResourceType: "ServiceRequest",
		ID:           id,
		Status:       MapOrderStatus(o.ControlCode),
		Intent:       "order",
		Subject:      patientReference(patient),
		AuthoredOn:   o.RequestedAt,
	}
	if o.ProcedureCode != "" || o.ProcedureText != "" {
		sr.Code = &fhir.CodeableConcept{
			Coding: []fhir.Coding{{Code: o.ProcedureCode, Display: o.ProcedureText}},
			Text:   o.ProcedureText,
		}
	}
	if o.PlacerOrderNumber != "" {
		sr.Identifier = append(sr.Identifier, fhir.Identifier{Use: "official", Value: o.PlacerOrderNumber})
	}
	if o.FillerOrderNumber != "" {
		sr.Identifier = append(sr.Identifier, fhir.Identifier{Use: "secondary", Value: o.FillerOrderNumber})
	}
	return sr
}

func buildObservation(o *hl7.Observation, patient *fhir.Patient) *fhir.Observation {
	obs := &fhir.Observation{
		ResourceType: "Observation",
		Status:       MapObservationStatus(o.Status),
		Code: fhir.CodeableConcept{
			Coding: []fhir.Coding{{Code: o.Code, Display: o.Text}},
			Text:   o.Text,
		},
		Subject: patientReference(patient),
	}

	// Numeric value types become a Quantity; everything else stays a string.
	if o.ValueType == "NM" {
		if v, err := strconv.ParseFloat(o.Value, 64); err == nil {
			obs.ValueQuantity = &fhir.Quantity{Value: v, Unit: o.Units}
		} else {
			obs.ValueString = o.Value
		}
	} else {
		obs.ValueString = o.Value
	}

	if o.AbnormalFlags != "" {
		obs.Interpretation = []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{
				System: "http://terminology.hl7.org/CodeSystem/v3-ObservationInterpretation",
				Code:   o.AbnormalFlags,
			}},
		}}
	}
	if o.ReferenceRange != "" {
		obs.ReferenceRange = []fhir.ObservationReferenceRange{{Text: o.ReferenceRange}}
	}
	return obs
}

func addPatient(bundle *fhir.Bundle, patient *fhir.Patient) error {
	if patient.ID != "" {
		return bundle.AddPut(patient, "Patient", patient.ID)
	}
	return bundle.AddPost(patient, "Patient")
}

func patientReference(p *fhir.Patient) *fhir.Reference {
	if p.ID == "" {
		return nil
	}
	return &fhir.Reference{Reference: fhir.FormatReference("Patient", p.ID)}
}

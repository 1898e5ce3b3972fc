package transform

import (
	"github.com/hl7bridge/hl7bridge/pkg/fhirmodels"
)

// Fixed code-system mapping tables between HL7v2 values and FHIR R4 codes.

// administrativeSex maps PID-8 to FHIR administrative gender.
var administrativeSex = map[string]string{
	"M": fhirmodels.GenderMale,
	"F": fhirmodels.GenderFemale,
	"O": fhirmodels.GenderOther,
	"U": fhirmodels.GenderUnknown,
}

// MapSex returns the FHIR gender for a PID-8 value, defaulting to unknown.
func MapSex(code string) string {
	if v, ok := administrativeSex[code]; ok {
		return v
	}
	return fhirmodels.GenderUnknown
}

// visitClass and visitClassDisplay map PV1-2 to a v3-ActCode encounter class
// and its display string. Unrecognized input defaults to ambulatory.
var visitClass = map[string]string{
	"I": fhirmodels.EncounterClassInpatient,
	"O": fhirmodels.EncounterClassAmbulatory,
	"E": fhirmodels.EncounterClassEmergency,
	"P": fhirmodels.EncounterClassPreAdmission,
	"B": fhirmodels.EncounterClassObstetric,
}

var visitClassDisplay = map[string]string{
	"I": "inpatient encounter",
	"O": "ambulatory",
	"E": "emergency",
	"P": "pre-admission",
	"B": "obstetrics",
}

// MapVisitClass returns the encounter class code and display for a PV1-2
// value.
func MapVisitClass(code string) (string, string) {
	if v, ok := visitClass[code]; ok {
		return v, visitClassDisplay[code]
	}
	return fhirmodels.EncounterClassAmbulatory, "ambulatory"
}

// orderStatus maps ORC-1 control codes to ServiceRequest status values.
var orderStatus = map[string]string{
	"NW": fhirmodels.RequestStatusActive,
	"CA": fhirmodels.RequestStatusRevoked,
	"OC": fhirmodels.RequestStatusRevoked,
	"DC": fhirmodels.RequestStatusRevoked,
	"HD": fhirmodels.RequestStatusOnHold,
	"RP": fhirmodels.RequestStatusReplaced,
	"RU": fhirmodels.RequestStatusReplaced,
}

// MapOrderStatus returns the ServiceRequest status for an order control
// code, defaulting to active.
func MapOrderStatus(code string) string {
	if v, ok := orderStatus[code]; ok {
		return v
	}
	return fhirmodels.RequestStatusActive
}

// reportStatus maps OBR-25 result status codes to DiagnosticReport status.
var reportStatus = map[string]string{
	"F": fhirmodels.ReportStatusFinal,
	"P": fhirmodels.ReportStatusPreliminary,
	"C": fhirmodels.ReportStatusCorrected,
	"X": fhirmodels.ReportStatusCancelled,
}

// MapReportStatus returns the DiagnosticReport status for an OBR-25 value,
// defaulting to final.
func MapReportStatus(code string) string {
	if v, ok := reportStatus[code]; ok {
		return v
	}
	return fhirmodels.ReportStatusFinal
}

// observationStatus maps OBX-11 result status codes to Observation status.
// The vocabulary differs from the report-level table: deletions are
// expressible per observation.
var observationStatus = map[string]string{
	"F": fhirmodels.ReportStatusFinal,
	"P": fhirmodels.ReportStatusPreliminary,
	"C": fhirmodels.ReportStatusCorrected,
	"D": fhirmodels.ReportStatusCancelled,
	"X": fhirmodels.ReportStatusCancelled,
	"W": "entered-in-error",
}

// MapObservationStatus returns the Observation status for an OBX-11 value,
// defaulting to final.
func MapObservationStatus(code string) string {
	if v, ok := observationStatus[code]; ok {
		return v
	}
	return fhirmodels.ReportStatusFinal
}

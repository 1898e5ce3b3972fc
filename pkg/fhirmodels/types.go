package fhirmodels

// Common FHIR value set constants used across the bridge.

// EncounterStatus values per FHIR R4.
const (
	EncounterStatusInProgress = "in-progress"
	EncounterStatusFinished   = "finished"
)

// EncounterClass codes per FHIR R4 v3-ActCode.
const (
	EncounterClassAmbulatory   = "AMB"
	EncounterClassEmergency    = "EMER"
	EncounterClassInpatient    = "IMP"
	EncounterClassPreAdmission = "PRENC"
	EncounterClassObstetric    = "OBSENC"
)

// ParticipantType codes.
const (
	ParticipantAttender = "ATND"
)

// AdministrativeGender codes.
const (
	GenderMale    = "male"
	GenderFemale  = "female"
	GenderOther   = "other"
	GenderUnknown = "unknown"
)

// Request status values shared by ServiceRequest.
const (
	RequestStatusActive   = "active"
	RequestStatusOnHold   = "on-hold"
	RequestStatusRevoked  = "revoked"
	RequestStatusReplaced = "replaced"
)

// DiagnosticReport / Observation status values.
const (
	ReportStatusFinal       = "final"
	ReportStatusPreliminary = "preliminary"
	ReportStatusCorrected   = "corrected"
	ReportStatusCancelled   = "cancelled"
)

// Identifier system URIs for the Brazilian national identifiers.
const (
	SystemCPF = "https://rnds.saude.gov.br/fhir/r4/NamingSystem/cpf"
	SystemCNS = "https://rnds.saude.gov.br/fhir/r4/NamingSystem/cns"
)

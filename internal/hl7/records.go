package hl7

// Domain records are derived views projected from a Message. They hold no
// independent identity and are recomputed from the message on every parse.

// Patient carries the demographics extracted from a PID segment, plus the
// two Brazilian national identifiers when present.
type Patient struct {
	ID         string // PID-3.1
	FamilyName string // PID-5.1
	GivenName  string // PID-5.2
	BirthDate  string // PID-7, ISO date when parseable
	Sex        string // PID-8 (M/F/O/U)
	Street     string // PID-11.1
	City       string // PID-11.3
	State      string // PID-11.4
	PostalCode string // PID-11.5
	Country    string // PID-11.6
	Phone      string // PID-13
	CPF        string // 11-digit national identifier
	CNS        string // 15-digit national health card
}

// Visit carries the encounter details extracted from a PV1 segment.
type Visit struct {
	VisitNumber     string // PV1-19
	Class           string // PV1-2 (I/O/E/...)
	Location        string // PV1-3
	AttendingDoctor string // PV1-7
	AdmitTime       string // PV1-44, raw HL7 timestamp
	DischargeTime   string // PV1-45, raw HL7 timestamp
}

// Insurance carries the coverage details extracted from an IN1 segment.
type Insurance struct {
	SetID        string // IN1-1
	PlanID       string // IN1-2.1
	CompanyName  string // IN1-4
	PolicyNumber string // IN1-36
}

// Order is one ORC/OBR pair from an order message.
type Order struct {
	ControlCode       string // ORC-1 (NW/CA/DC/HD/RP/...)
	PlacerOrderNumber string // ORC-2, falling back to OBR-2
	FillerOrderNumber string // ORC-3, falling back to OBR-3
	ProcedureCode     string // OBR-4.1
	ProcedureText     string // OBR-4.2
	RequestedAt       string // ORC-9, raw HL7 timestamp
	ObservationAt     string // OBR-7, raw HL7 timestamp
}

// Observation is one OBX segment of a result message.
type Observation struct {
	SetID          string // OBX-1
	ValueType      string // OBX-2 (NM/ST/TX/...)
	Code           string // OBX-3.1
	Text           string // OBX-3.2
	Value          string // OBX-5
	Units          string // OBX-6.1
	ReferenceRange string // OBX-7
	AbnormalFlags  string // OBX-8
	Status         string // OBX-11
}

// Report aggregates the observations of one result message under its OBR.
type Report struct {
	PlacerOrderNumber string // OBR-2
	FillerOrderNumber string // OBR-3
	Code              string // OBR-4.1
	Text              string // OBR-4.2
	ObservedAt        string // OBR-7, raw HL7 timestamp
	Status            string // OBR-25
	Observations      []Observation
}

// AdmissionMessage is the typed projection of an ADT message.
type AdmissionMessage struct {
	TriggerEvent string // e.g. "A01"
	Patient      Patient
	Visit        *Visit
	Insurance    *Insurance
	Extensions   *Extensions
}

// OrderMessage is the typed projection of an ORM message.
type OrderMessage struct {
	Patient    Patient
	Orders     []Order
	Extensions *Extensions
}

// ResultMessage is the typed projection of an ORU message.
type ResultMessage struct {
	Patient Patient
	Report  Report
}

package hl7

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateACK(t *testing.T) {
	incoming, err := Parse([]byte(sampleADT))
	require.NoError(t, err)

	ack := GenerateACK(incoming, AckAccept, "")

	assert.Equal(t, "ACK^A01", ack.Type)
	assert.Equal(t, "2.5", ack.Version)
	assert.True(t, strings.HasPrefix(ack.ControlID, "ACK-"))
	assert.NotEqual(t, incoming.ControlID, ack.ControlID)

	// Sender and receiver are swapped.
	assert.Equal(t, "LIS", ack.SendingApp)
	assert.Equal(t, "LAB", ack.SendingFac)
	assert.Equal(t, "HIS", ack.ReceivingApp)
	assert.Equal(t, "HOSP", ack.ReceivingFac)

	msa := ack.GetSegment("MSA")
	require.NotNil(t, msa)
	assert.Equal(t, "AA", msa.GetField(1))
	assert.Equal(t, "MSG001", msa.GetField(2))
	assert.Equal(t, "", msa.GetField(3))
}

func TestGenerateACKWire(t *testing.T) {
	incoming, err := Parse([]byte(sampleADT))
	require.NoError(t, err)

	wire := string(Serialize(GenerateACK(incoming, AckAccept, "")))
	parsed, err := Parse([]byte(wire))
	require.NoError(t, err)

	assert.Equal(t, "ACK^A01", parsed.Type)
	assert.Equal(t, "MSG001", parsed.GetSegment("MSA").GetField(2))
	assert.Equal(t, "P", parsed.GetSegment("MSH").GetField(11))
}

func TestGenerateNAK(t *testing.T) {
	incoming, err := Parse([]byte(sampleADT))
	require.NoError(t, err)

	nak := GenerateNAK(incoming, "validation failed: cpf has invalid check digit")
	msa := nak.GetSegment("MSA")
	require.NotNil(t, msa)
	assert.Equal(t, AckError, msa.GetField(1))
	assert.Equal(t, "MSG001", msa.GetField(2))
	assert.Equal(t, "validation failed: cpf has invalid check digit", msa.GetField(3))
}

func TestGenerateNAKEscapesText(t *testing.T) {
	incoming, err := Parse([]byte(sampleADT))
	require.NoError(t, err)

	nak := GenerateNAK(incoming, "bad field PID|3")
	wire := string(Serialize(nak))
	parsed, err := Parse([]byte(wire))
	require.NoError(t, err)
	assert.Equal(t, "bad field PID|3", parsed.GetSegment("MSA").GetField(3))
}

func TestGenerateParseNAK(t *testing.T) {
	nak := GenerateParseNAK("hl7: header too short to extract delimiters (5 bytes)")
	msa := nak.GetSegment("MSA")
	require.NotNil(t, msa)
	assert.Equal(t, AckError, msa.GetField(1))
	assert.Equal(t, "UNKNOWN", msa.GetField(2))

	// The reply must survive its own serialization.
	_, err := Parse(Serialize(nak))
	require.NoError(t, err)
}

func TestGenerateACKNoTrigger(t *testing.T) {
	wire := "MSH|^~\\&|A|B|C|D|20240101||ACK|M9|P|2.5"
	incoming, err := Parse([]byte(wire))
	require.NoError(t, err)

	ack := GenerateACK(incoming, AckReject, "unsupported")
	assert.Equal(t, "ACK", ack.Type)
	assert.Equal(t, AckReject, ack.GetSegment("MSA").GetField(1))
}

package mllp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	f := DefaultFraming()
	got := f.Wrap([]byte("MSH|data"))
	assert.Equal(t, append(append([]byte{0x0b}, "MSH|data"...), 0x1c, 0x0d), got)
}

func TestNextComplete(t *testing.T) {
	f := DefaultFraming()
	buf := f.Wrap([]byte("MSG1"))

	msg, rest, found := f.Next(buf)
	require.True(t, found)
	assert.Equal(t, "MSG1", string(msg))
	assert.Empty(t, rest)
}

func TestNextIncomplete(t *testing.T) {
	f := DefaultFraming()

	// No start marker yet.
	_, rest, found := f.Next([]byte("noise"))
	assert.False(t, found)
	assert.Equal(t, "noise", string(rest))

	// Start but no end sequence.
	partial := []byte{0x0b, 'M', 'S', 'G'}
	_, rest, found = f.Next(partial)
	assert.False(t, found)
	assert.Equal(t, partial, rest)

	// End block without the trailing carriage return is not a frame end.
	_, _, found = f.Next([]byte{0x0b, 'M', 0x1c})
	assert.False(t, found)
}

func TestNextSkipsLeadingJunk(t *testing.T) {
	f := DefaultFraming()
	buf := append([]byte("garbage"), f.Wrap([]byte("MSG1"))...)

	msg, rest, found := f.Next(buf)
	require.True(t, found)
	assert.Equal(t, "MSG1", string(msg))
	assert.Empty(t, rest)
}

func TestNextMultipleFrames(t *testing.T) {
	f := DefaultFraming()
	buf := append(f.Wrap([]byte("MSG1")), f.Wrap([]byte("MSG2"))...)

	msg, rest, found := f.Next(buf)
	require.True(t, found)
	assert.Equal(t, "MSG1", string(msg))

	msg, rest, found = f.Next(rest)
	require.True(t, found)
	assert.Equal(t, "MSG2", string(msg))
	assert.Empty(t, rest)
}

func TestNextByteAtATime(t *testing.T) {
	f := DefaultFraming()
	frame := f.Wrap([]byte("MSG1"))

	var buf []byte
	for i, b := range frame {
		buf = append(buf, b)
		msg, rest, found := f.Next(buf)
		if i < len(frame)-1 {
			require.False(t, found, "frame complete after %d of %d bytes", i+1, len(frame))
			buf = rest
			continue
		}
		require.True(t, found)
		assert.Equal(t, "MSG1", string(msg))
		assert.Empty(t, rest)
	}
}

func TestCustomFraming(t *testing.T) {
	f := Framing{Start: 0x02, End1: 0x03, End2: 0x0a}
	buf := f.Wrap([]byte("MSG1"))
	assert.Equal(t, byte(0x02), buf[0])

	msg, _, found := f.Next(buf)
	require.True(t, found)
	assert.Equal(t, "MSG1", string(msg))

	// Standard markers are plain payload under custom framing.
	_, _, found = f.Next(DefaultFraming().Wrap([]byte("MSG1")))
	assert.False(t, found)
}

func TestEncodingValid(t *testing.T) {
	assert.True(t, EncodingUTF8.Valid())
	assert.True(t, EncodingLatin1.Valid())
	assert.False(t, Encoding("utf-16").Valid())
}

func TestEncodingLatin1RoundTrip(t *testing.T) {
	text := []byte("José Conceição")

	wire, err := EncodingLatin1.Encode(text)
	require.NoError(t, err)
	assert.NotEqual(t, text, wire)

	back, err := EncodingLatin1.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, text, back)
}

func TestEncodingUTF8Passthrough(t *testing.T) {
	text := []byte("José")
	wire, err := EncodingUTF8.Encode(text)
	require.NoError(t, err)
	assert.Equal(t, text, wire)
}

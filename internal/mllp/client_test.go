package mllp

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hl7bridge/hl7bridge/internal/hl7"
)

// fakePeer is a raw TCP acceptor whose behavior per received frame is
// scripted by the test.
func fakePeer(t *testing.T, respond func(msg []byte, nc net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func(nc net.Conn) {
				defer nc.Close()
				f := DefaultFraming()
				var buf []byte
				tmp := make([]byte, 1024)
				for {
					n, err := nc.Read(tmp)
					if err != nil {
						return
					}
					buf = append(buf, tmp[:n]...)
					for {
						msg, rest, found := f.Next(buf)
						if !found {
							break
						}
						buf = append(buf[:0], rest...)
						respond(msg, nc)
					}
				}
			}(nc)
		}
	}()
	return ln.Addr().String()
}

func writeAck(t *testing.T, nc net.Conn, incoming []byte, code, echoControlID string) {
	t.Helper()
	msg, err := hl7.Parse(incoming)
	require.NoError(t, err)
	ack := hl7.GenerateACK(msg, code, "")
	wire := string(hl7.Serialize(ack))
	if echoControlID != "" {
		wire = strings.Replace(wire, "MSA|"+code+"|"+msg.ControlID, "MSA|"+code+"|"+echoControlID, 1)
	}
	_, err = nc.Write(DefaultFraming().Wrap([]byte(wire)))
	require.NoError(t, err)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial("127.0.0.1:1", ClientConfig{DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Equal(t, CodeConnectionFailed, CodeOf(err))

	var mllpErr *Error
	require.ErrorAs(t, err, &mllpErr)
	assert.True(t, mllpErr.Retryable())
}

func TestDialRejectsBadEncoding(t *testing.T) {
	_, err := Dial("127.0.0.1:1", ClientConfig{Encoding: "utf-16"})
	require.Error(t, err)
	assert.Equal(t, CodeConfiguration, CodeOf(err))
}

func TestClientSendAccepted(t *testing.T) {
	addr := fakePeer(t, func(msg []byte, nc net.Conn) {
		writeAck(t, nc, msg, hl7.AckAccept, "")
	})

	conn, err := Dial(addr, ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	ack, err := conn.Send(RawPayload(testADT))
	require.NoError(t, err)
	assert.Equal(t, hl7.AckAccept, ack.GetSegment("MSA").GetField(1))
	assert.True(t, conn.Healthy())
}

func TestClientAckMismatch(t *testing.T) {
	addr := fakePeer(t, func(msg []byte, nc net.Conn) {
		writeAck(t, nc, msg, hl7.AckAccept, "WRONG-ID")
	})

	conn, err := Dial(addr, ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Send(RawPayload(testADT))
	require.Error(t, err)
	assert.Equal(t, CodeAckMismatch, CodeOf(err))

	// Desynchronized streams must not be retried.
	var mllpErr *Error
	require.ErrorAs(t, err, &mllpErr)
	assert.False(t, mllpErr.Retryable())
}

func TestClientAckTimeout(t *testing.T) {
	addr := fakePeer(t, func(msg []byte, nc net.Conn) {
		// Never answer.
	})

	conn, err := Dial(addr, ClientConfig{AckTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Send(RawPayload(testADT))
	require.Error(t, err)
	assert.Equal(t, CodeAckTimeout, CodeOf(err))

	var mllpErr *Error
	require.ErrorAs(t, err, &mllpErr)
	assert.True(t, mllpErr.Retryable())
}

func TestClientInvalidAck(t *testing.T) {
	addr := fakePeer(t, func(msg []byte, nc net.Conn) {
		nc.Write(DefaultFraming().Wrap([]byte("garbage response")))
	})

	conn, err := Dial(addr, ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Send(RawPayload(testADT))
	require.Error(t, err)
	assert.Equal(t, CodeInvalidAck, CodeOf(err))
}

func TestClientRejectedAck(t *testing.T) {
	addr := fakePeer(t, func(msg []byte, nc net.Conn) {
		writeAck(t, nc, msg, hl7.AckReject, "")
	})

	conn, err := Dial(addr, ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Send(RawPayload(testADT))
	require.Error(t, err)
	assert.Equal(t, CodeMessageRejected, CodeOf(err))
}

func TestClientSendMessagePayload(t *testing.T) {
	addr := fakePeer(t, func(msg []byte, nc net.Conn) {
		writeAck(t, nc, msg, hl7.AckAccept, "")
	})

	conn, err := Dial(addr, ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	msg, err := hl7.Parse([]byte(testADT))
	require.NoError(t, err)

	ack, err := conn.Send(MessagePayload(msg))
	require.NoError(t, err)
	assert.Equal(t, "MSG001", ack.GetSegment("MSA").GetField(2))
}

func TestRawPayloadRejectsUnparseable(t *testing.T) {
	addr := fakePeer(t, func(msg []byte, nc net.Conn) {})

	conn, err := Dial(addr, ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Send(RawPayload("not hl7 at all"))
	require.Error(t, err)
}

func TestClientClose(t *testing.T) {
	addr := fakePeer(t, func(msg []byte, nc net.Conn) {})

	conn, err := Dial(addr, ClientConfig{})
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	assert.False(t, conn.Healthy())

	_, err = conn.Send(RawPayload(testADT))
	require.Error(t, err)
}

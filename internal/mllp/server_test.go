package mllp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hl7bridge/hl7bridge/internal/hl7"
	"github.com/hl7bridge/hl7bridge/internal/platform/telemetry"
)

const testADT = "MSH|^~\\&|HIS|HOSP|LIS|LAB|20240102030405||ADT^A01|MSG001|P|2.5\r" +
	"PID|1||12345^^^HOSP^MR||Silva^Joao||19800101|M"

// recordingHandler collects transport events for assertions.
type recordingHandler struct {
	mu       sync.Mutex
	messages []*hl7.Message
	errors   []error
	connects int
	closes   int
	reply    func(msg *hl7.Message, respond Responder)
}

func (h *recordingHandler) OnMessage(msg *hl7.Message, respond Responder) {
	h.mu.Lock()
	h.messages = append(h.messages, msg)
	reply := h.reply
	h.mu.Unlock()
	if reply != nil {
		reply(msg, respond)
	}
}

func (h *recordingHandler) OnError(remote string, err error) {
	h.mu.Lock()
	h.errors = append(h.errors, err)
	h.mu.Unlock()
}

func (h *recordingHandler) OnConnect(remote string) {
	h.mu.Lock()
	h.connects++
	h.mu.Unlock()
}

func (h *recordingHandler) OnClose(remote string) {
	h.mu.Lock()
	h.closes++
	h.mu.Unlock()
}

func (h *recordingHandler) messageCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

func (h *recordingHandler) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errors)
}

func (h *recordingHandler) connectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects
}

func startServer(t *testing.T, cfg ServerConfig, h Handler) *Server {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv, err := NewServer(cfg, h)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServerConfigValidation(t *testing.T) {
	_, err := NewServer(ServerConfig{}, &recordingHandler{})
	require.Error(t, err)
	assert.Equal(t, CodeConfiguration, CodeOf(err))

	_, err = NewServer(ServerConfig{Addr: ":0", Encoding: "utf-16"}, &recordingHandler{})
	require.Error(t, err)
	assert.Equal(t, CodeConfiguration, CodeOf(err))
}

func TestServerAutoAck(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, ServerConfig{AutoAck: true, Logger: zerolog.Nop()}, h)

	conn, err := Dial(srv.Addr(), ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	ack, err := conn.Send(RawPayload(testADT))
	require.NoError(t, err)

	msa := ack.GetSegment("MSA")
	require.NotNil(t, msa)
	assert.Equal(t, hl7.AckAccept, msa.GetField(1))
	assert.Equal(t, "MSG001", msa.GetField(2))
	assert.Equal(t, 1, h.messageCount())
}

func TestServerHandlerReply(t *testing.T) {
	h := &recordingHandler{
		reply: func(msg *hl7.Message, respond Responder) {
			respond(hl7.GenerateNAK(msg, "not allowed"))
		},
	}
	srv := startServer(t, ServerConfig{AutoAck: true, Logger: zerolog.Nop()}, h)

	conn, err := Dial(srv.Addr(), ClientConfig{})
	require.NoError(t, err)
	defer conn.Close()

	// The handler replied, so auto-ack must not fire: the error ACK is the
	// one and only response and surfaces as MESSAGE_ERROR.
	_, err = conn.Send(RawPayload(testADT))
	require.Error(t, err)
	assert.Equal(t, CodeMessageError, CodeOf(err))
	assert.Contains(t, err.Error(), "not allowed")
}

func TestServerParseNAK(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, ServerConfig{AutoAck: true, Logger: zerolog.Nop()}, h)

	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer nc.Close()

	f := DefaultFraming()
	_, err = nc.Write(f.Wrap([]byte("this is not hl7")))
	require.NoError(t, err)

	reply := readFrame(t, nc, f)
	nak, err := hl7.Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, hl7.AckError, nak.GetSegment("MSA").GetField(1))
	assert.Equal(t, "UNKNOWN", nak.GetSegment("MSA").GetField(2))

	// The connection survives a malformed frame.
	_, err = nc.Write(f.Wrap([]byte(testADT)))
	require.NoError(t, err)
	reply = readFrame(t, nc, f)
	ack, err := hl7.Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, hl7.AckAccept, ack.GetSegment("MSA").GetField(1))

	assert.Equal(t, 1, h.messageCount())
	assert.Equal(t, 1, h.errorCount())
}

func TestServerChunkedDelivery(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, ServerConfig{AutoAck: true, Logger: zerolog.Nop()}, h)

	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer nc.Close()

	f := DefaultFraming()
	frame := f.Wrap([]byte(testADT))
	for _, b := range frame {
		_, err := nc.Write([]byte{b})
		require.NoError(t, err)
	}

	reply := readFrame(t, nc, f)
	ack, err := hl7.Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, "MSG001", ack.GetSegment("MSA").GetField(2))
	assert.Equal(t, 1, h.messageCount())
}

func TestServerMultipleMessagesOneWrite(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, ServerConfig{AutoAck: true, Logger: zerolog.Nop()}, h)

	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer nc.Close()

	f := DefaultFraming()
	second := []byte("MSH|^~\\&|HIS|HOSP|LIS|LAB|20240102030405||ADT^A02|MSG002|P|2.5\rPID|1||777")
	_, err = nc.Write(append(f.Wrap([]byte(testADT)), f.Wrap(second)...))
	require.NoError(t, err)

	first := readFrame(t, nc, f)
	ack1, err := hl7.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, "MSG001", ack1.GetSegment("MSA").GetField(2))

	next := readFrame(t, nc, f)
	ack2, err := hl7.Parse(next)
	require.NoError(t, err)
	assert.Equal(t, "MSG002", ack2.GetSegment("MSA").GetField(2))

	waitFor(t, func() bool { return h.messageCount() == 2 }, "expected 2 messages")
}

func TestServerBufferOverflow(t *testing.T) {
	h := &recordingHandler{}
	metrics := telemetry.New()
	srv := startServer(t, ServerConfig{
		MaxBuffer: 64,
		AutoAck:   true,
		Logger:    zerolog.Nop(),
		Metrics:   metrics,
	}, h)

	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer nc.Close()

	// Unframed junk beyond the ceiling is discarded with an error event.
	junk := make([]byte, 256)
	for i := range junk {
		junk[i] = 'x'
	}
	_, err = nc.Write(junk)
	require.NoError(t, err)

	waitFor(t, func() bool { return h.errorCount() > 0 }, "expected overflow error event")

	// The connection is still usable afterwards.
	f := DefaultFraming()
	_, err = nc.Write(f.Wrap([]byte(testADT)))
	require.NoError(t, err)
	reply := readFrame(t, nc, f)
	ack, err := hl7.Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, "MSG001", ack.GetSegment("MSA").GetField(2))
}

func TestServerOverflowSparesPartialFrame(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, ServerConfig{
		MaxBuffer: 64,
		AutoAck:   true,
		Logger:    zerolog.Nop(),
	}, h)

	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer nc.Close()

	f := DefaultFraming()
	frame := f.Wrap([]byte(testADT))
	require.Greater(t, len(frame), 64)

	// Everything except the end markers: the buffer exceeds the ceiling
	// while a started frame is still in flight, which must not discard it.
	_, err = nc.Write(frame[:len(frame)-2])
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	_, err = nc.Write(frame[len(frame)-2:])
	require.NoError(t, err)

	reply := readFrame(t, nc, f)
	ack, err := hl7.Parse(reply)
	require.NoError(t, err)
	assert.Equal(t, "MSG001", ack.GetSegment("MSA").GetField(2))
	assert.Equal(t, 0, h.errorCount())
}

func TestServerIdleTimeout(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, ServerConfig{
		IdleTimeout: 50 * time.Millisecond,
		AutoAck:     true,
		Logger:      zerolog.Nop(),
	}, h)

	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer nc.Close()

	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.closes == 1
	}, "expected idle connection to be closed")
	assert.GreaterOrEqual(t, h.errorCount(), 1)
}

func TestServerConnectionEvents(t *testing.T) {
	h := &recordingHandler{}
	srv := startServer(t, ServerConfig{AutoAck: true, Logger: zerolog.Nop()}, h)

	nc, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.connects == 1
	}, "expected connect event")

	nc.Close()
	waitFor(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.closes == 1
	}, "expected close event")
}

// readFrame reads one complete MLLP frame from a raw connection.
func readFrame(t *testing.T, nc net.Conn, f Framing) []byte {
	t.Helper()
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	var buf []byte
	tmp := make([]byte, 1024)
	for {
		n, err := nc.Read(tmp)
		require.NoError(t, err)
		buf = append(buf, tmp[:n]...)
		if msg, _, found := f.Next(buf); found {
			return msg
		}
	}
}

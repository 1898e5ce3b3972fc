package mllp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hl7bridge/hl7bridge/internal/hl7"
)

// ClientConfig configures one outbound MLLP connection.
type ClientConfig struct {
	Framing     Framing
	Encoding    Encoding
	DialTimeout time.Duration
	AckTimeout  time.Duration
}

func (c *ClientConfig) applyDefaults() {
	zero := Framing{}
	if c.Framing == zero {
		c.Framing = DefaultFraming()
	}
	if c.Encoding == "" {
		c.Encoding = EncodingUTF8
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = 30 * time.Second
	}
}

// Conn is a single client-side MLLP connection. A Conn serializes its sends:
// each send writes one framed message and waits for exactly one framed
// response before the next may proceed.
type Conn struct {
	nc     net.Conn
	cfg    ClientConfig
	mu     sync.Mutex // serializes Send
	buf    []byte
	closed atomic.Bool
}

// Dial opens an MLLP connection to addr.
func Dial(addr string, cfg ClientConfig) (*Conn, error) {
	cfg.applyDefaults()
	if !cfg.Encoding.Valid() {
		return nil, newError(CodeConfiguration, "unsupported encoding "+string(cfg.Encoding))
	}
	nc, err := net.DialTimeout("tcp", addr, cfg.DialTimeout)
	if err != nil {
		return nil, wrapError(CodeConnectionFailed, "dial "+addr, err)
	}
	return &Conn{nc: nc, cfg: cfg}, nil
}

// Send frames and writes the payload, then waits for the matching
// acknowledgment. The response's echoed control id must equal the control id
// of the message just sent; a mismatch fails the send without accepting the
// frame. AE and AR acknowledgments are surfaced as application-level errors.
func (c *Conn) Send(p Payload) (*hl7.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wire, controlID, err := p.resolve()
	if err != nil {
		return nil, err
	}

	encoded, err := c.cfg.Encoding.Encode(wire)
	if err != nil {
		return nil, wrapError(CodeConfiguration, "encode message", err)
	}

	deadline := time.Now().Add(c.cfg.AckTimeout)
	c.nc.SetWriteDeadline(deadline)
	if _, err := c.nc.Write(c.cfg.Framing.Wrap(encoded)); err != nil {
		c.closed.Store(true)
		return nil, wrapError(CodeConnectionFailed, "write message", err)
	}

	frame, err := c.readFrame(deadline)
	if err != nil {
		return nil, err
	}

	decoded, err := c.cfg.Encoding.Decode(frame)
	if err != nil {
		return nil, wrapError(CodeInvalidAck, "decode response", err)
	}

	ack, err := hl7.Parse(decoded)
	if err != nil {
		return nil, wrapError(CodeInvalidAck, "response is not valid HL7", err)
	}

	msa := ack.GetSegment("MSA")
	if msa == nil {
		return nil, newError(CodeInvalidAck, "response has no MSA segment")
	}
	if echoed := msa.GetField(2); echoed != controlID {
		return nil, newError(CodeAckMismatch,
			"acknowledgment for control id "+echoed+", expected "+controlID)
	}

	switch code := msa.GetField(1); code {
	case hl7.AckAccept:
		return ack, nil
	case hl7.AckError:
		return ack, newError(CodeMessageError, "receiver returned AE: "+msa.GetField(3))
	case hl7.AckReject:
		return ack, newError(CodeMessageRejected, "receiver returned AR: "+msa.GetField(3))
	default:
		return ack, newError(CodeInvalidAck, "unknown acknowledgment code "+code)
	}
}

// readFrame reads from the socket until one complete frame is buffered or
// the deadline expires.
func (c *Conn) readFrame(deadline time.Time) ([]byte, error) {
	readBuf := make([]byte, 4096)
	for {
		if msg, rest, found := c.cfg.Framing.Next(c.buf); found {
			c.buf = append([]byte(nil), rest...)
			return msg, nil
		}

		c.nc.SetReadDeadline(deadline)
		n, err := c.nc.Read(readBuf)
		if n > 0 {
			c.buf = append(c.buf, readBuf[:n]...)
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil, wrapError(CodeAckTimeout, "ACK timeout", err)
			}
			c.closed.Store(true)
			return nil, wrapError(CodeConnectionFailed, "read response", err)
		}
	}
}

// Healthy reports whether the connection has not yet observed a socket
// failure.
func (c *Conn) Healthy() bool {
	return !c.closed.Load()
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	c.closed.Store(true)
	return c.nc.Close()
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

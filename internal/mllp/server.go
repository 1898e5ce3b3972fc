package mllp

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hl7bridge/hl7bridge/internal/hl7"
	"github.com/hl7bridge/hl7bridge/internal/platform/telemetry"
)

const (
	// defaultMaxBuffer caps a connection's receive buffer (1 MB). When no
	// start marker is present and the buffer exceeds this, accumulated junk
	// is dropped to protect memory.
	defaultMaxBuffer = 1 << 20

	defaultIdleTimeout = 5 * time.Minute
)

// Responder writes a reply message back on the connection the triggering
// message arrived on.
type Responder func(reply *hl7.Message) error

// Handler receives transport events. OnMessage is called once per
// well-formed message, in byte-stream order for any single connection.
type Handler interface {
	OnMessage(msg *hl7.Message, respond Responder)
	OnError(remote string, err error)
	OnConnect(remote string)
	OnClose(remote string)
}

// ServerConfig configures an MLLP server.
type ServerConfig struct {
	Addr        string
	Framing     Framing
	Encoding    Encoding
	MaxBuffer   int
	IdleTimeout time.Duration
	// AutoAck sends a positive acknowledgment automatically after the
	// message event fires, unless the handler already replied.
	AutoAck bool
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

func (c *ServerConfig) applyDefaults() error {
	zero := Framing{}
	if c.Framing == zero {
		c.Framing = DefaultFraming()
	}
	if c.Encoding == "" {
		c.Encoding = EncodingUTF8
	}
	if !c.Encoding.Valid() {
		return newError(CodeConfiguration, "unsupported encoding "+string(c.Encoding))
	}
	if c.Addr == "" {
		return newError(CodeConfiguration, "listen address is required")
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = defaultMaxBuffer
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	return nil
}

// Server listens for HL7v2 messages over MLLP/TCP and dispatches them to a
// Handler. Each connection owns a private receive buffer; a malformed frame
// is answered with a NAK and never tears the connection down.
type Server struct {
	cfg      ServerConfig
	handler  Handler
	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

// nopHandler backs servers constructed without a handler, typically
// auto-ack receivers used in tests and tooling.
type nopHandler struct{}

func (nopHandler) OnMessage(*hl7.Message, Responder) {}
func (nopHandler) OnError(string, error)             {}
func (nopHandler) OnConnect(string)                  {}
func (nopHandler) OnClose(string)                    {}

// NewServer creates an MLLP server. The configuration is validated here;
// an unusable configuration is fatal at construction time. A nil handler
// is replaced with a no-op handler.
func NewServer(cfg ServerConfig, handler Handler) (*Server, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if handler == nil {
		handler = nopHandler{}
	}
	return &Server{
		cfg:     cfg,
		handler: handler,
		conns:   make(map[net.Conn]struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start begins listening. The accept loop runs in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return wrapError(CodeConnectionFailed, "listen on "+s.cfg.Addr, err)
	}
	s.listener = ln
	s.cfg.Logger.Info().Str("addr", ln.Addr().String()).Msg("mllp server listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
	return nil
}

// Stop closes the listener and all tracked connections, then waits for the
// connection goroutines to finish.
func (s *Server) Stop() error {
	close(s.done)

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return err
}

// Addr returns the listener address, useful when started with port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.cfg.Logger.Error().Err(err).Msg("mllp accept error")
			return
		}

		s.trackConn(conn, true)
		s.cfg.Metrics.ConnectionOpened()
		s.handler.OnConnect(conn.RemoteAddr().String())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				conn.Close()
				s.trackConn(conn, false)
				s.cfg.Metrics.ConnectionClosed()
				s.handler.OnClose(conn.RemoteAddr().String())
			}()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// handleConnection reads framed messages from conn until it closes, idles
// out, or the server stops.
func (s *Server) handleConnection(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	buf := make([]byte, 0, 4096)
	readBuf := make([]byte, 4096)

	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		n, err := conn.Read(readBuf)
		if n > 0 {
			buf = append(buf, readBuf[:n]...)

			for {
				msgBytes, rest, found := s.cfg.Framing.Next(buf)
				if !found {
					break
				}
				buf = append(buf[:0], rest...)
				s.processMessage(conn, remote, msgBytes)
			}

			// Overflow protection: unframed data beyond the ceiling is
			// dropped rather than held forever. A buffer that contains a
			// start marker is an in-flight frame and is kept, minus any
			// junk ahead of the marker.
			if len(buf) > s.cfg.MaxBuffer {
				if i := bytes.IndexByte(buf, s.cfg.Framing.Start); i >= 0 {
					buf = append(buf[:0], buf[i:]...)
				} else {
					buf = buf[:0]
					s.cfg.Metrics.BufferOverflow()
					s.handler.OnError(remote, fmt.Errorf("mllp: receive buffer exceeded %d bytes, discarded", s.cfg.MaxBuffer))
				}
			}
		}

		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				s.handler.OnError(remote, fmt.Errorf("mllp: connection idle for %s, closing", s.cfg.IdleTimeout))
				return
			}
			return
		}
	}
}

// processMessage decodes and parses one framed message. Parse failures are
// answered with a NAK referencing an unknown control id; the connection
// stays up.
func (s *Server) processMessage(conn net.Conn, remote string, raw []byte) {
	decoded, err := s.cfg.Encoding.Decode(raw)
	if err == nil {
		var msg *hl7.Message
		msg, err = hl7.Parse(decoded)
		if err == nil {
			s.cfg.Metrics.MessageReceived()
			responded := false
			respond := func(reply *hl7.Message) error {
				responded = true
				return s.writeMessage(conn, reply)
			}
			s.handler.OnMessage(msg, respond)
			if s.cfg.AutoAck && !responded {
				if ackErr := s.writeMessage(conn, hl7.GenerateACK(msg, hl7.AckAccept, "")); ackErr != nil {
					s.handler.OnError(remote, ackErr)
				}
			}
			return
		}
	}

	s.cfg.Metrics.ParseError()
	s.handler.OnError(remote, err)
	if nakErr := s.writeMessage(conn, hl7.GenerateParseNAK(err.Error())); nakErr != nil {
		s.handler.OnError(remote, nakErr)
	}
}

func (s *Server) writeMessage(conn net.Conn, msg *hl7.Message) error {
	encoded, err := s.cfg.Encoding.Encode(hl7.Serialize(msg))
	if err != nil {
		return wrapError(CodeConfiguration, "encode reply", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Write(s.cfg.Framing.Wrap(encoded)); err != nil {
		return wrapError(CodeConnectionFailed, "write reply", err)
	}
	s.cfg.Metrics.MessageSent()
	return nil
}

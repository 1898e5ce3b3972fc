package mllp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hl7bridge/hl7bridge/internal/hl7"
	"github.com/hl7bridge/hl7bridge/internal/platform/telemetry"
)

// State is the lifecycle state of a Connector.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// SlotState is the tri-state of one pool slot. Addressing slots by index
// with an explicit state removes any ambiguity between "removed from the
// pool" and "released back to the pool".
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotInUse
	SlotDead
)

type slot struct {
	conn     *Conn
	state    SlotState
	lastUsed time.Time
}

// ConnectorConfig configures a pooled connector to one logical endpoint.
type ConnectorConfig struct {
	Addr            string
	PoolSize        int
	Framing         Framing
	Encoding        Encoding
	DialTimeout     time.Duration
	AckTimeout      time.Duration
	AcquireTimeout  time.Duration
	AcquireInterval time.Duration
	HealthInterval  time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	Logger          zerolog.Logger
	Metrics         *telemetry.Metrics
}

func (c *ConnectorConfig) applyDefaults() error {
	if c.Addr == "" {
		return newError(CodeConfiguration, "connector address is required")
	}
	if c.PoolSize == 0 {
		c.PoolSize = 3
	}
	if c.PoolSize < 1 {
		return newError(CodeConfiguration, "pool size must be at least 1")
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 10 * time.Second
	}
	if c.AcquireInterval == 0 {
		c.AcquireInterval = 100 * time.Millisecond
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 30 * time.Second
	}
	return nil
}

// Connector owns a fixed-size pool of MLLP connections to one endpoint and
// the resilience machinery around them: health checks, dead-connection
// eviction, and guarded reconnection with backoff.
//
// The slot list is the connector's only shared mutable state; every slot
// transition happens under the mutex, so a connection is never handed to two
// concurrent sends.
type Connector struct {
	cfg ConnectorConfig

	mu               sync.Mutex
	state            State
	slots            []*slot
	reconnectPending bool
	backoff          time.Duration

	healthStop chan struct{}
	healthOnce sync.Once
	closed     bool
}

// NewConnector validates the configuration and returns a disconnected
// connector.
func NewConnector(cfg ConnectorConfig) (*Connector, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Connector{
		cfg:        cfg,
		state:      StateDisconnected,
		backoff:    cfg.InitialBackoff,
		healthStop: make(chan struct{}),
	}, nil
}

// State returns the connector's current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the full pool sequentially. If any dial fails, connections
// opened so far are closed and the connector enters the error state.
func (c *Connector) Connect() error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	clientCfg := ClientConfig{
		Framing:     c.cfg.Framing,
		Encoding:    c.cfg.Encoding,
		DialTimeout: c.cfg.DialTimeout,
		AckTimeout:  c.cfg.AckTimeout,
	}

	slots := make([]*slot, 0, c.cfg.PoolSize)
	for i := 0; i < c.cfg.PoolSize; i++ {
		conn, err := Dial(c.cfg.Addr, clientCfg)
		if err != nil {
			for _, s := range slots {
				s.conn.Close()
			}
			c.mu.Lock()
			c.state = StateError
			c.mu.Unlock()
			c.cfg.Logger.Error().Err(err).Str("addr", c.cfg.Addr).Msg("connector failed to open pool")
			return err
		}
		slots = append(slots, &slot{conn: conn, state: SlotIdle, lastUsed: time.Now()})
	}

	c.mu.Lock()
	c.slots = slots
	c.state = StateConnected
	c.backoff = c.cfg.InitialBackoff
	c.mu.Unlock()

	c.healthOnce.Do(func() { go c.healthLoop() })

	c.cfg.Logger.Info().Str("addr", c.cfg.Addr).Int("pool_size", c.cfg.PoolSize).Msg("connector connected")
	return nil
}

// Acquire returns an idle pool connection, marked in-use. When the whole
// pool is busy it polls until a connection frees up or the wait timeout
// elapses. Callers must Release the returned handle on every exit path.
func (c *Connector) Acquire(ctx context.Context) (*PoolConn, error) {
	deadline := time.Now().Add(c.cfg.AcquireTimeout)
	for {
		if pc := c.tryAcquire(); pc != nil {
			return pc, nil
		}
		if time.Now().After(deadline) {
			return nil, newError(CodeNoConnection, "no available connections")
		}
		select {
		case <-ctx.Done():
			return nil, wrapError(CodeNoConnection, "acquire cancelled", ctx.Err())
		case <-time.After(c.cfg.AcquireInterval):
		}
	}
}

func (c *Connector) tryAcquire() *PoolConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil
	}
	for i, s := range c.slots {
		if s.state == SlotIdle && s.conn.Healthy() {
			s.state = SlotInUse
			s.lastUsed = time.Now()
			return &PoolConn{connector: c, index: i, conn: s.conn}
		}
	}
	return nil
}

// release returns a slot to the pool. A connection that died while in use
// is marked dead instead of idle. It reports false when the slot no longer
// owns conn, which happens when the pool was rebuilt while the handle was
// held; releasing by index alone would hand the new slot's connection to
// two callers at once.
func (c *Connector) release(index int, conn *Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.slots) {
		return false
	}
	s := c.slots[index]
	if s.conn != conn {
		return false
	}
	if !s.conn.Healthy() {
		s.state = SlotDead
	} else {
		s.state = SlotIdle
	}
	s.lastUsed = time.Now()
	return true
}

// Send acquires a connection, sends the payload, and releases the
// connection regardless of outcome. Connection-level failures mark the slot
// dead and schedule a reconnect.
func (c *Connector) Send(ctx context.Context, p Payload) (*hl7.Message, error) {
	pc, err := c.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer pc.Release()

	start := time.Now()
	ack, err := pc.conn.Send(p)
	c.cfg.Metrics.ObserveSendLatency(time.Since(start))
	if err != nil {
		c.cfg.Metrics.SendError(string(CodeOf(err)))
		if CodeOf(err) == CodeConnectionFailed {
			c.onConnectionLost()
		}
		return ack, err
	}
	c.cfg.Metrics.MessageSent()
	return ack, nil
}

// PoolConn is a pooled connection handle held for the duration of one send.
type PoolConn struct {
	connector *Connector
	index     int
	conn      *Conn

	releaseOnce sync.Once
}

// Conn exposes the underlying client connection.
func (pc *PoolConn) Conn() *Conn { return pc.conn }

// Release returns the connection to the pool. Safe to call more than once.
// A handle that outlived its pool closes the orphaned connection instead.
func (pc *PoolConn) Release() {
	pc.releaseOnce.Do(func() {
		if !pc.connector.release(pc.index, pc.conn) {
			pc.conn.Close()
		}
	})
}

// healthLoop periodically evicts connections whose socket has already
// closed. If the pool empties out, a full reconnect cycle is triggered.
func (c *Connector) healthLoop() {
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.healthStop:
			return
		case <-ticker.C:
			c.healthCheck()
		}
	}
}

func (c *Connector) healthCheck() {
	c.mu.Lock()
	alive := 0
	for _, s := range c.slots {
		if s.state == SlotIdle && !s.conn.Healthy() {
			s.state = SlotDead
		}
		if s.state != SlotDead {
			alive++
		}
	}
	empty := alive == 0 && len(c.slots) > 0
	c.mu.Unlock()

	if empty {
		c.cfg.Logger.Warn().Str("addr", c.cfg.Addr).Msg("pool has no live connections, reconnecting")
		c.onConnectionLost()
	}
}

// onConnectionLost schedules a single reconnect attempt. The pending flag
// guarantees at most one timer is outstanding no matter how many failures
// are observed concurrently.
func (c *Connector) onConnectionLost() {
	c.mu.Lock()
	if c.closed || c.reconnectPending {
		c.mu.Unlock()
		return
	}
	c.reconnectPending = true
	c.state = StateDisconnected
	delay := c.backoff
	c.backoff *= 2
	if c.backoff > c.cfg.MaxBackoff {
		c.backoff = c.cfg.MaxBackoff
	}
	c.mu.Unlock()

	c.cfg.Logger.Info().Dur("delay", delay).Str("addr", c.cfg.Addr).Msg("scheduling reconnect")
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectPending = false
		closed := c.closed
		// Drop the old pool before redialing. Connections still in use are
		// left open; their holders close them on Release.
		old := c.slots
		c.slots = nil
		c.mu.Unlock()
		for _, s := range old {
			if s.state != SlotInUse {
				s.conn.Close()
			}
		}
		if closed {
			return
		}
		if err := c.Connect(); err != nil {
			// Repeated failures reschedule rather than stack timers.
			c.onConnectionLost()
		}
	})
}

// Close shuts the connector down and closes every pooled connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = StateDisconnected
	slots := c.slots
	c.slots = nil
	c.mu.Unlock()

	close(c.healthStop)
	for _, s := range slots {
		if s.state != SlotInUse {
			s.conn.Close()
		}
	}
	return nil
}

package evi

import (
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// State is the transport's lifecycle position. Transitions are guarded so a
// second connect can never race an in-flight one.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	// ErrNotOpen is returned by Send while the transport is not open.
	// Frames are dropped, never queued.
	ErrNotOpen = errors.New("transport not open, frame dropped")

	// ErrConnectInFlight is returned when Connect is called while another
	// connect attempt is still outstanding.
	ErrConnectInFlight = errors.New("connect already in progress")
)

// Conn is the subset of *websocket.Conn the client uses, extracted so tests
// can stand in a fake.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens the websocket to the given URL.
type Dialer func(rawURL string) (Conn, error)

func gorillaDial(rawURL string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Config struct {
	BaseURL  string
	ConfigID string
	APIKey   string

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	KeepAliveInterval    time.Duration
}

// Client owns the duplex connection to the EVI chat endpoint: dialing,
// session negotiation, keep-alive, reconnection with growing backoff, and
// typed frame IO. Inbound frames are delivered on a single channel in
// arrival order.
type Client struct {
	cfg       Config
	dial      Dialer
	contextFn func() string // conversation context for session negotiation

	mu             sync.Mutex
	state          State
	conn           Conn
	attempts       int
	chatGroupID    string
	lastSent       []byte
	reconnectTimer *time.Timer
	pingStop       chan struct{}
	terminated     bool

	inbound chan *Message
	done    chan struct{} // closed by Terminate

	// replaceable in tests
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewClient(cfg Config, contextFn func() string) *Client {
	if contextFn == nil {
		contextFn = func() string { return "" }
	}
	return &Client{
		cfg:       cfg,
		dial:      gorillaDial,
		contextFn: contextFn,
		inbound:   make(chan *Message, 64),
		done:      make(chan struct{}),
		afterFunc: time.AfterFunc,
	}
}

// Inbound returns the channel of parsed frames, in strict arrival order.
func (c *Client) Inbound() <-chan *Message {
	return c.inbound
}

// Connect starts an asynchronous connect attempt. It is a no-op while a
// connect is already in flight or the transport is open. A pending reconnect
// timer is superseded by a manual trigger.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return ErrNotOpen
	}
	if c.state == StateConnecting {
		c.mu.Unlock()
		return ErrConnectInFlight
	}
	if c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.state = StateConnecting
	rawURL := c.dialURLLocked()
	c.mu.Unlock()

	go c.connect(rawURL)
	return nil
}

func (c *Client) dialURLLocked() string {
	params := url.Values{}
	params.Set("config_id", c.cfg.ConfigID)
	params.Set("api_key", c.cfg.APIKey)
	if c.chatGroupID != "" {
		params.Set("resumed_chat_group_id", c.chatGroupID)
	}
	return c.cfg.BaseURL + "?" + params.Encode()
}

func (c *Client) connect(rawURL string) {
	log.Info().Str("state", StateConnecting.String()).Msg("Connecting to EVI")

	conn, err := c.dial(rawURL)

	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		log.Warn().Err(err).Msg("EVI connect failed")
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	stop := make(chan struct{})
	c.pingStop = stop
	c.mu.Unlock()

	log.Info().Str("state", StateOpen.String()).Msg("Connected to EVI")

	c.sendSessionSettings()

	go c.readLoop(conn)
	go c.keepAlive(conn, stop)
}

func (c *Client) sendSessionSettings() {
	settings := NewSessionSettings(c.contextFn())
	if err := c.Send(settings); err != nil {
		log.Error().Err(err).Msg("Failed to send session settings")
	}
}

// Send marshals and writes one typed frame. Frames sent while the transport
// is not open are dropped and logged, never queued for later delivery.
func (c *Client) Send(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen || c.conn == nil {
		log.Debug().Str("state", c.state.String()).Msg("Dropping outbound frame, transport not open")
		return ErrNotOpen
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.lastSent = data

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Warn().Err(err).Msg("Failed to write frame")
		return err
	}
	return nil
}

// LastSent returns the most recently written frame, kept for diagnosing
// remote payload errors.
func (c *Client) LastSent() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSent
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping unparseable inbound frame")
			continue
		}

		if msg.Type == TypeChatMetadata && msg.ChatGroupID != "" {
			c.mu.Lock()
			c.chatGroupID = msg.ChatGroupID
			c.mu.Unlock()
		}

		// The consumer may be gone after a shutdown; never wedge the read
		// loop on a full channel
		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Client) keepAlive(conn Conn, stop chan struct{}) {
	interval := c.cfg.KeepAliveInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Warn().Err(err).Msg("Keep-alive ping failed")
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *Client) handleClose(conn Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A stale read loop from a previous connection must not disturb the
	// current one
	if c.conn != conn {
		return
	}

	log.Warn().Err(cause).Msg("EVI connection closed")

	c.stopKeepAliveLocked()
	conn.Close()
	c.conn = nil

	if c.terminated {
		c.state = StateClosed
		return
	}

	c.scheduleReconnectLocked()
}

func (c *Client) scheduleReconnectLocked() {
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = StateClosed
		log.Error().
			Int("attempts", c.attempts).
			Msg("Max reconnection attempts reached, transport closed until next voice activity")
		return
	}

	c.attempts++
	delay := c.cfg.ReconnectBaseDelay * time.Duration(c.attempts)
	c.state = StateReconnecting

	log.Info().
		Int("attempt", c.attempts).
		Int("max_attempts", c.cfg.MaxReconnectAttempts).
		Dur("delay", delay).
		Msg("Scheduling reconnect")

	c.reconnectTimer = c.afterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.terminated || c.state != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.state = StateIdle
		c.mu.Unlock()

		if err := c.Connect(); err != nil {
			log.Warn().Err(err).Msg("Scheduled reconnect not started")
		}
	})
}

func (c *Client) stopKeepAliveLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
}

// Terminate tears the transport down without scheduling a reconnect. Used on
// unrecoverable failures such as rejected credentials, and on shutdown.
func (c *Client) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.terminated {
		close(c.done)
	}
	c.terminated = true
	c.state = StateClosed

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopKeepAliveLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// State returns the current lifecycle position.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open reports whether frames can currently be sent.
func (c *Client) Open() bool {
	return c.State() == StateOpen
}

// ChatGroupID returns the resumption identifier captured from chat metadata,
// empty before the first successful negotiation.
func (c *Client) ChatGroupID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatGroupID
}

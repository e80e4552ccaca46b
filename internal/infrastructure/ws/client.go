package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/visper-relay/internal/infrastructure/configs"
	"github.com/hilthontt/visper-relay/internal/infrastructure/logging"
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

// RetryPolicy gives the wait before a zero-based attempt, false once exhausted.
type RetryPolicy interface {
	Backoff(attempt int) (time.Duration, bool)
}

type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	SendBuffer     int
	Retry          RetryPolicy
}

func NewOptions(cfg configs.SocketConfig, retry RetryPolicy) Options {
	return Options{
		PingInterval:   cfg.PingInterval,
		PongWait:       cfg.PingTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
		Retry:          retry,
	}
}

// Client is one websocket connection. Emit is non-blocking; a client whose
// buffer stays full through every retry of the policy is disconnected.
type Client struct {
	id     string
	conn   *connWrapper
	raw    *websocket.Conn
	send   chan Envelope
	opts   Options
	logger logging.Logger

	stalled   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, id string, opts Options, logger logging.Logger) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	c := &Client{
		id:      id,
		conn:    newConnWrapper(conn, opts.WriteTimeout),
		raw:     conn,
		send:    make(chan Envelope, opts.SendBuffer),
		opts:    opts,
		logger:  logger,
		stalled: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.watchStall()
	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Emit(event string, data json.RawMessage) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- Envelope{Event: event, Data: data}:
		return nil
	default:
		select {
		case c.stalled <- struct{}{}:
		default:
		}
		return ErrSendBufferFull
	}
}

// Send encodes data and emits it.
func (c *Client) Send(event string, data any) error {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	return c.Emit(env.Event, env.Data)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// ReadPump decodes envelopes until the connection fails or ctx ends, then
// closes the client.
func (c *Client) ReadPump(ctx context.Context, handle func(context.Context, Envelope)) {
	defer func() {
		_ = c.Close()
	}()

	if c.opts.MaxMessageSize > 0 {
		c.raw.SetReadLimit(c.opts.MaxMessageSize)
	}
	c.extendReadDeadline()
	c.raw.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	for {
		var env Envelope
		if err := c.raw.ReadJSON(&env); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				_ = c.Send(ErrorEvent, ErrorPayload{Type: InvalidEvent, Message: "malformed event envelope"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn(logging.Socket, logging.Protocol, "read error", map[logging.ExtraKey]any{
					logging.SocketID:     c.id,
					logging.ErrorMessage: err.Error(),
				})
			}
			return
		}
		if env.Event == "" {
			_ = c.Send(ErrorEvent, ErrorPayload{Type: InvalidEvent, Message: "event name is required"})
			continue
		}
		handle(ctx, env)
	}
}

// WritePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) WritePump() {
	var ticker *time.Ticker
	var tick <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker = time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		_ = c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn(logging.Socket, logging.Protocol, "write error", map[logging.ExtraKey]any{
					logging.SocketID:     c.id,
					logging.Event:        env.Event,
					logging.ErrorMessage: err.Error(),
				})
				return
			}
		case <-tick:
			if err := c.conn.Ping(); err != nil {
				return
			}
		}
	}
}

func (c *Client) extendReadDeadline() {
	if c.opts.PongWait > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	}
}

func (c *Client) watchStall() {
	for {
		select {
		case <-c.done:
			return
		case <-c.stalled:
		}

		if !c.waitDrain() {
			c.logger.Warn(logging.Socket, logging.Protocol, "send buffer stalled, disconnecting", map[logging.ExtraKey]any{
				logging.SocketID: c.id,
				logging.Pending:  len(c.send),
			})
			_ = c.Close()
			return
		}
	}
}

// waitDrain reports whether the buffer regains room within the retry policy.
func (c *Client) waitDrain() bool {
	if c.opts.Retry == nil {
		return false
	}
	for attempt := 0; ; attempt++ {
		d, ok := c.opts.Retry.Backoff(attempt)
		if !ok {
			return false
		}
		timer := time.NewTimer(d)
		select {
		case <-c.done:
			timer.Stop()
			return true
		case <-timer.C:
		}
		if len(c.send) < cap(c.send) {
			return true
		}
	}
}

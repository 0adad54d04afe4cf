package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client speaks the rippled websocket JSON API. A single connection is shared
// by all callers: requests are tagged with an id and matched to responses by
// one reader goroutine. The connection is dialed lazily and re-dialed after a
// read failure.
type Client struct {
	url          string
	logger       *slog.Logger
	dialer       *websocket.Dialer
	timeout      time.Duration
	pollInterval time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan envelope
	nextID  uint64
	closed  bool
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

func New(url string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		url:          url,
		logger:       logger,
		dialer:       websocket.DefaultDialer,
		timeout:      15 * time.Second,
		pollInterval: time.Second,
		pending:      make(map[uint64]chan envelope),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type envelope struct {
	ID           uint64          `json:"id"`
	Type         string          `json:"type"`
	Status       string          `json:"status"`
	Result       json.RawMessage `json:"result"`
	Error        string          `json:"error"`
	ErrorMessage string          `json:"error_message"`

	err error
}

// Close drops the connection and fails every in-flight request.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ledger: dial %s: %w", c.url, err)
	}
	c.logger.Debug("Connected to ledger node", slog.String("url", c.url))

	c.conn = conn
	go c.readLoop(conn)

	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warn("Skipping malformed ledger message", "error", err)
			continue
		}
		// subscription streams (ledgerClosed, transaction) carry no id
		if env.Type != "" && env.Type != "response" {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()

		if ok {
			ch <- env
		}
	}
}

func (c *Client) dropConn(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != nil && c.conn != conn {
		// already replaced by a newer connection
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = nil
	pending := c.pending
	c.pending = make(map[uint64]chan envelope)
	c.mu.Unlock()

	_ = conn.Close()
	c.logger.Debug("Ledger connection dropped", "error", cause)

	for _, ch := range pending {
		ch <- envelope{err: fmt.Errorf("ledger: connection lost: %w", cause)}
	}
}

// request sends command with params and decodes the result into out.
func (c *Client) request(ctx context.Context, command string, params map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}

	ch := make(chan envelope, 1)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.mu.Unlock()

	msg := make(map[string]any, len(params)+2)
	for k, v := range params {
		msg[k] = v
	}
	msg["id"] = id
	msg["command"] = command

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		c.dropConn(conn, err)
		return fmt.Errorf("ledger: send %s: %w", command, err)
	}

	select {
	case env := <-ch:
		return decode(command, env, out)
	case <-ctx.Done():
		c.forget(id)
		return fmt.Errorf("ledger: %s: %w", command, ctx.Err())
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func decode(command string, env envelope, out any) error {
	if env.err != nil {
		return env.err
	}

	if env.Status == "error" || env.Error != "" {
		return &RPCError{Code: env.Error, Message: env.ErrorMessage}
	}

	// some nodes nest the error inside result
	var nested struct {
		Error        string `json:"error"`
		ErrorMessage string `json:"error_message"`
	}
	if len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, &nested); err == nil && nested.Error != "" {
			return &RPCError{Code: nested.Error, Message: nested.ErrorMessage}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("ledger: decode %s result: %w", command, err)
	}
	return nil
}

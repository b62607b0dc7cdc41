// Package camilladsp controls the main volume fader of a CamillaDSP
// instance over its websocket API.
package camilladsp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal CamillaDSP websocket client. It holds at most one
// connection; a failed write or read drops it and the next call re-dials
// once. There is no retry loop, callers poll again on their own cadence.
type Client struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	url         string
	logger      *slog.Logger
	readTimeout time.Duration
}

// NewClient validates wsURL. It does not dial.
func NewClient(wsURL string, readTimeout time.Duration, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid websocket URL %q: scheme must be ws or wss", wsURL)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{url: wsURL, logger: logger, readTimeout: readTimeout}, nil
}

// connectLocked dials if there is no live connection. c.mu must be held.
func (c *Client) connectLocked() error {
	if c.conn != nil {
		return nil
	}
	d := websocket.Dialer{HandshakeTimeout: c.readTimeout}
	conn, _, err := d.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.logger.Info("connected to CamillaDSP", "url", c.url)
	c.conn = conn
	return nil
}

// Connect makes sure a connection is up, dialing at most once.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.logger.Warn("CamillaDSP connection lost", "url", c.url)
	}
}

// sendAndRead sends a command and waits for its reply.
func (c *Client) sendAndRead(v any) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.readTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		return nil, err
	}

	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	_, message, err := c.conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return nil, err
	}
	c.conn.SetReadDeadline(time.Time{})
	return message, nil
}

// Close closes the connection. The client may be used again afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

type reply struct {
	Result string          `json:"result"`
	Value  json.RawMessage `json:"value"`
}

// call issues cmd and decodes the reply envelope keyed by name.
func (c *Client) call(name string, cmd any) (reply, error) {
	raw, err := c.sendAndRead(cmd)
	if err != nil {
		return reply{}, err
	}
	var resp map[string]reply
	if err := json.Unmarshal(raw, &resp); err != nil {
		return reply{}, fmt.Errorf("parse %s response: %w", name, err)
	}
	r, ok := resp[name]
	if !ok {
		return reply{}, fmt.Errorf("unexpected response to %s: %s", name, raw)
	}
	if r.Result != "Ok" {
		return r, fmt.Errorf("%s: %s", name, r.Result)
	}
	return r, nil
}

// SetVolume sets the main fader in dB.
func (c *Client) SetVolume(db float64) error {
	if _, err := c.call("SetVolume", map[string]any{"SetVolume": db}); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	c.logger.Debug("SetVolume", "target_db", db)
	return nil
}

// GetVolume returns the main fader in dB.
func (c *Client) GetVolume() (float64, error) {
	r, err := c.call("GetVolume", "GetVolume")
	if err != nil {
		return 0, fmt.Errorf("get volume: %w", err)
	}
	var v float64
	if err := json.Unmarshal(r.Value, &v); err != nil {
		return 0, fmt.Errorf("get volume: %w", err)
	}
	return v, nil
}

// GetState returns the processing state ("Running", "Paused", ...).
func (c *Client) GetState() (string, error) {
	r, err := c.call("GetState", "GetState")
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	var s string
	if err := json.Unmarshal(r.Value, &s); err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	return s, nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"joyvol/internal/scheduler"
)

// ============================================================================
// Status WebSocket: hub + per-client pumps + reading broadcaster
// ============================================================================
//
// Frames are JSON text messages with an envelope {type, ts, data}:
//   - "state_init" on connect, data is the full status report
//   - "reading" per binding, coalesced latest-wins per binding index
//   - "scheduler" when the scheduler is started or stopped
//
// Slow clients are disconnected when their send buffer fills.
// ============================================================================

const (
	msgStateInit = "state_init"
	msgReading   = "reading"
	msgScheduler = "scheduler"
)

// envelope is the wire format for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(typ string, at time.Time, data any) ([]byte, error) {
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	return json.Marshal(envelope{Type: typ, Ts: &at, Data: data})
}

// ============================================================================
// Reading board
// ============================================================================

// readingBoard keeps the latest reading per binding index for /status and
// state_init.
type readingBoard struct {
	mu   sync.RWMutex
	last map[int]scheduler.Reading
}

func newReadingBoard() *readingBoard {
	return &readingBoard{last: make(map[int]scheduler.Reading)}
}

func (b *readingBoard) put(rd scheduler.Reading) {
	b.mu.Lock()
	b.last[rd.Index] = rd
	b.mu.Unlock()
}

func (b *readingBoard) get(i int) (scheduler.Reading, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rd, ok := b.last[i]
	return rd, ok
}

// readingFeed returns a scheduler observer that forwards readings to ch
// without ever blocking the worker.
func readingFeed(ch chan<- scheduler.Reading, logger *slog.Logger) scheduler.Observer {
	var dropped uint64
	return func(rd scheduler.Reading) {
		select {
		case ch <- rd:
		default:
			dropped++
			if dropped&(dropped-1) == 0 { // log at powers of two
				logger.Debug("status feed full, dropping readings", "dropped", dropped)
			}
		}
	}
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	SendBuf      int // per-client outbound queue, default 32
	BroadcastBuf int // hub inbound queue, default 128
}

func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	if cfg.SendBuf <= 0 {
		cfg.SendBuf = 32
	}
	if cfg.BroadcastBuf <= 0 {
		cfg.BroadcastBuf = 128
	}
	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, cfg.BroadcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		sendBuf:    cfg.SendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects every
// client. All client removal happens on this goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after unlocking.
			var slow []*Client
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send makes writePump exit.
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}

	if c.conn != nil {
		_ = c.conn.Close()
	}
	close(c.send)
	h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
}

// Unregister asks the hub to drop c. It never blocks after the hub stopped.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastBytes enqueues a serialized frame. It drops the frame when the
// hub queue is full.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, hub.sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("ws "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump drains the send queue onto the socket and keeps it alive with
// pings. It exits on write error or when the hub closes send.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound messages so control frames are processed and
// disconnects are noticed, then unregisters the client.
func (c *Client) readPump() {
	defer c.hub.Unregister(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			return
		}
	}
}

// ============================================================================
// HTTP handlers
// ============================================================================

// StatusServer serves GET /status and the GET /ws stream.
type StatusServer struct {
	logger   *slog.Logger
	hub      *Hub
	snapshot func() statusReport
}

func NewStatusServer(logger *slog.Logger, snapshot func() statusReport, cfg HubConfig) *StatusServer {
	return &StatusServer{
		logger:   logger,
		hub:      NewHub(logger, cfg),
		snapshot: snapshot,
	}
}

func (s *StatusServer) Hub() *Hub { return s.hub }

// Register mounts the handlers on mux.
func (s *StatusServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleWS)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}

var upgrader = websocket.Upgrader{
	// The status stream is read-only; accept any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *StatusServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue state_init before registering so it is the first frame.
	msg, err := marshalEnvelope(msgStateInit, time.Now(), s.snapshot())
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		conn.Close()
		return
	}
	client.send <- msg

	// Register client so broadcasts can reach it.
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}

	// Start pumps. They outlive this handler; net/http cancels r.Context()
	// on return.
	go client.writePump()
	go client.readPump()
}

// BroadcastScheduler pushes a scheduler state change to all clients.
func (s *StatusServer) BroadcastScheduler(st scheduler.Status) {
	msg, err := marshalEnvelope(msgScheduler, time.Now(), st)
	if err != nil {
		s.logger.Warn("ws scheduler marshal failed", "error", err)
		return
	}
	s.hub.BroadcastBytes(msg)
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster consumes scheduler readings, records them on board and
// fans them out to hub clients. Within each coalesce window only the latest
// reading per binding index is sent; the window keeps ticking while
// readings arrive (no debounce-on-silence).
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan scheduler.Reading, board *readingBoard, window time.Duration, logger *slog.Logger) {
	pending := make(map[int]scheduler.Reading)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		idx := make([]int, 0, len(pending))
		for i := range pending {
			idx = append(idx, i)
		}
		sort.Ints(idx)
		for _, i := range idx {
			rd := pending[i]
			msg, err := marshalEnvelope(msgReading, rd.At, viewReading(rd))
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err)
				continue
			}
			hub.BroadcastBytes(msg)
		}
		clear(pending)
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerC:
			// Window elapsed: send the latest reading per binding.
			flush()
			stopTimer()

		case rd, ok := <-src:
			if !ok {
				flush()
				stopTimer()
				return
			}
			// Record for /status and state_init before coalescing.
			if board != nil {
				board.put(rd)
			}
			pending[rd.Index] = rd
			// Open a window on the first reading after a flush.
			if timer == nil {
				timer = time.NewTimer(window)
				timerC = timer.C
			}
		}
	}
}

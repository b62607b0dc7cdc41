package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// frame is the joyvold status stream envelope.
type frame struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type reading struct {
	Index   int     `json:"index"`
	Raw     int32   `json:"raw"`
	Volume  float64 `json:"volume"`
	Applied bool    `json:"applied"`
	Stage   string  `json:"stage"`
	Error   string  `json:"error"`
}

func main() {
	var (
		wsURL = flag.String("url", "ws://127.0.0.1:3002/ws", "joyvold status websocket URL")
		raw   = flag.Bool("raw", false, "Print every frame as received")
	)
	flag.Parse()

	// Parse websocket URL
	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	// Connect to websocket
	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// Set up ping/pong handlers for connection health
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	// Start ping ticker to keep connection alive
	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	// Track last volume and error per binding for change detection
	p := newPrinter()

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// The daemon's frames keep the connection alive as well as pongs.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *raw {
				fmt.Printf("%s\n", message)
				continue
			}
			p.handle(message)
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		// Clean close
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// printer prints readings only when a binding's volume or error changes.
type printer struct {
	lastVolume map[int]float64
	lastErr    map[int]string
}

func newPrinter() *printer {
	return &printer{lastVolume: make(map[int]float64), lastErr: make(map[int]string)}
}

func (p *printer) handle(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		fmt.Printf("[TEXT] %s\n", string(message))
		return
	}

	switch f.Type {
	case "state_init", "scheduler":
		var v any
		_ = json.Unmarshal(f.Data, &v)
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Printf("[%s]\n%s\n\n", f.Type, pretty)
		if f.Type == "state_init" {
			clear(p.lastVolume)
			clear(p.lastErr)
		}

	case "reading":
		var r reading
		if err := json.Unmarshal(f.Data, &r); err != nil {
			fmt.Printf("[TEXT] %s\n", string(message))
			return
		}
		p.reading(f.Ts, r)

	default:
		fmt.Printf("[%s] %s\n", f.Type, string(f.Data))
	}
}

func (p *printer) reading(at time.Time, r reading) {
	if r.Error != "" {
		if p.lastErr[r.Index] != r.Error {
			fmt.Printf("%s [%d] skipped at %s: %s\n", at.Local().Format(time.TimeOnly), r.Index, r.Stage, r.Error)
		}
		p.lastErr[r.Index] = r.Error
		delete(p.lastVolume, r.Index)
		return
	}
	delete(p.lastErr, r.Index)

	// Round to a tenth of a percent to avoid printing axis jitter.
	vol := math.Round(r.Volume*1000) / 10
	if last, ok := p.lastVolume[r.Index]; ok && last == vol {
		return
	}
	p.lastVolume[r.Index] = vol
	fmt.Printf("%s [%d] raw %6d -> %5.1f%%\n", at.Local().Format(time.TimeOnly), r.Index, r.Raw, vol)
}

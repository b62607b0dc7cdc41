// Package ipc is the daemon's control socket.
//
// Protocol: line-delimited JSON over a Unix domain socket.
//   - Client sends: {"type": "command_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
//
// A connection may carry any number of request/response pairs.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	// maxLine bounds a single request line.
	maxLine = 1 << 20

	// DefaultCallTimeout is how long a client waits for a reply. Daemon
	// commands that block (stop) must finish well inside it.
	DefaultCallTimeout = 5 * time.Second
)

// Request is one command sent to the daemon.
type Request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the daemon's reply to one Request.
type Response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// OK builds a success response carrying v (which may be nil).
func OK(v any) Response {
	if v == nil {
		return Response{Status: StatusOK}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return Fail(fmt.Errorf("marshal response: %w", err))
	}
	return Response{Status: StatusOK, Data: data}
}

// Fail builds an error response.
func Fail(err error) Response {
	return Response{Status: StatusError, Error: err.Error()}
}

// Handler answers requests. It is called from one goroutine per connection.
type Handler interface {
	Handle(ctx context.Context, req Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response { return f(ctx, req) }

// Serve listens on socketPath until ctx is canceled. A stale socket file
// is removed first; the socket is removed again on exit.
func Serve(ctx context.Context, socketPath string, h Handler, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)
	defer listener.Close()

	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}
		go serveConn(ctx, conn, h, logger)
	}
}

func serveConn(ctx context.Context, conn net.Conn, h Handler, logger *slog.Logger) {
	defer conn.Close()

	// Unblock the scanner on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		logger.Debug("IPC received", "line", string(line))

		var resp Response
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = Fail(fmt.Errorf("parse request: %w", err))
		} else if req.Type == "" {
			resp = Fail(errors.New("parse request: missing type"))
		} else {
			resp = h.Handle(ctx, req)
		}

		if err := encoder.Encode(resp); err != nil {
			logger.Warn("IPC failed to send response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		logger.Debug("IPC connection read error", "error", err)
	}
}

// Call sends one request and decodes the reply's data into out (if non-nil).
// A response with status "error" is returned as an error.
func Call(socketPath, typ string, in, out any, timeout time.Duration) error {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}

	req := Request{Type: typ}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", typ, err)
		}
		req.Data = data
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != StatusOK {
		return fmt.Errorf("daemon: %s", resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decode %s reply: %w", typ, err)
		}
	}
	return nil
}

package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler() Handler {
	return HandlerFunc(func(_ context.Context, req Request) Response {
		switch req.Type {
		case "echo":
			var v map[string]any
			if err := json.Unmarshal(req.Data, &v); err != nil {
				return Fail(err)
			}
			return OK(v)
		case "ping":
			return OK(nil)
		}
		return Fail(errors.New("unknown command: " + req.Type))
	})
}

func startServer(t *testing.T, h Handler) string {
	t.Helper()
	// Keep the path short; unix socket paths are limited to ~108 bytes.
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, sock, h, slog.New(slog.DiscardHandler)) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down")
		}
		_, err := os.Stat(sock)
		assert.True(t, os.IsNotExist(err), "socket file removed on exit")
	})

	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", sock)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return sock
}

func TestCallRoundTrip(t *testing.T) {
	sock := startServer(t, echoHandler())

	var out map[string]any
	require.NoError(t, Call(sock, "echo", map[string]any{"a": "b"}, &out, time.Second))
	assert.Equal(t, map[string]any{"a": "b"}, out)

	require.NoError(t, Call(sock, "ping", nil, nil, time.Second))

	err := Call(sock, "nope", nil, nil, time.Second)
	assert.EqualError(t, err, "daemon: unknown command: nope")
}

func TestMultipleRequestsPerConnection(t *testing.T) {
	sock := startServer(t, echoHandler())

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{\"type\":\"ping\"}\nnot json\n\n{\"data\":{}}\n{\"type\":\"echo\",\"data\":{\"x\":1}}\n"))
	require.NoError(t, err)

	sc := bufio.NewScanner(conn)
	var got []Response
	for len(got) < 4 && sc.Scan() {
		var r Response
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 4)
	assert.Equal(t, StatusOK, got[0].Status)
	assert.Equal(t, StatusError, got[1].Status)
	assert.Contains(t, got[1].Error, "parse request")
	assert.Equal(t, StatusError, got[2].Status)
	assert.Contains(t, got[2].Error, "missing type")
	assert.Equal(t, StatusOK, got[3].Status)
	assert.JSONEq(t, `{"x":1}`, string(got[3].Data))
}

func TestCallNoDaemon(t *testing.T) {
	err := Call(filepath.Join(t.TempDir(), "absent.sock"), "ping", nil, nil, 100*time.Millisecond)
	assert.Error(t, err)
}

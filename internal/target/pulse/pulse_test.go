package pulse

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joyvol/internal/target"
)

const sinkInputsJSON = `[
  {"index": 41, "sink": 0, "properties": {
    "application.name": "Firefox",
    "application.process.id": "1200",
    "application.process.binary": "firefox"}},
  {"index": 42, "sink": 0, "properties": {
    "application.name": "Firefox",
    "application.process.id": "1200",
    "application.process.binary": "firefox"}},
  {"index": 57, "sink": 1, "properties": {
    "application.name": "mpv Media Player",
    "application.process.id": "3311",
    "application.process.binary": "mpv"}},
  {"index": 60, "sink": 1, "properties": {
    "application.name": "mpv Media Player",
    "application.process.id": "3312",
    "application.process.binary": "mpv"}},
  {"index": 70, "sink": 0, "properties": {"media.name": "loopback"}}
]`

type fakeRunner struct {
	mu       sync.Mutex
	list     string
	failSet  map[string]error // keyed by sink input index
	calls    [][]string
	deadline bool
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, f.deadline = ctx.Deadline()
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(args) > 0 && args[0] == "-f" {
		return []byte(f.list), nil
	}
	if len(args) > 1 && args[0] == "set-sink-input-volume" {
		if err := f.failSet[args[1]]; err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (f *fakeRunner) setCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c[1], "set-") {
			out = append(out, strings.Join(c[1:], " "))
		}
	}
	return out
}

func newTestSink(r *fakeRunner) *Sink {
	return New(Config{PactlPath: "/usr/bin/pactl", Timeout: time.Second, Runner: r}, nil)
}

func TestResolveExeAppliesToEveryInput(t *testing.T) {
	r := &fakeRunner{list: sinkInputsJSON}
	s := newTestSink(r)

	h, err := s.Resolve(context.Background(), "exe:mpv")
	require.NoError(t, err)
	require.NoError(t, h.Apply(0.25))
	require.NoError(t, h.Close())

	assert.Equal(t, []string{
		"set-sink-input-volume 57 25.0%",
		"set-sink-input-volume 60 25.0%",
	}, r.setCalls())
	assert.Equal(t, "/usr/bin/pactl", r.calls[0][0])
	assert.True(t, r.deadline, "pactl calls must carry a timeout")
}

func TestResolvePid(t *testing.T) {
	r := &fakeRunner{list: sinkInputsJSON}
	s := newTestSink(r)

	h, err := s.Resolve(context.Background(), "pid:1200")
	require.NoError(t, err)
	require.NoError(t, h.Apply(1))

	assert.Equal(t, []string{
		"set-sink-input-volume 41 100.0%",
		"set-sink-input-volume 42 100.0%",
	}, r.setCalls())
}

func TestResolveSystem(t *testing.T) {
	r := &fakeRunner{list: sinkInputsJSON}
	s := newTestSink(r)

	h, err := s.Resolve(context.Background(), target.System)
	require.NoError(t, err)
	require.NoError(t, h.Apply(0.5))

	assert.Equal(t, []string{"set-sink-volume @DEFAULT_SINK@ 50.0%"}, r.setCalls())
	assert.Len(t, r.calls, 1, "system resolve should not list sink inputs")
}

func TestResolveNotFound(t *testing.T) {
	r := &fakeRunner{list: sinkInputsJSON}
	s := newTestSink(r)

	for _, ref := range []string{"exe:vlc", "pid:9", "pid:abc", "pid:-3", "exe:", "spotify", "app:mpv"} {
		_, err := s.Resolve(context.Background(), ref)
		assert.ErrorIs(t, err, target.ErrTargetNotFound, ref)
	}
}

func TestResolveWithNoAudio(t *testing.T) {
	s := newTestSink(&fakeRunner{list: "[]"})
	_, err := s.Resolve(context.Background(), "exe:mpv")
	assert.ErrorIs(t, err, target.ErrTargetNotFound)

	s = newTestSink(&fakeRunner{list: ""})
	_, err = s.Resolve(context.Background(), "exe:mpv")
	assert.ErrorIs(t, err, target.ErrTargetNotFound)
}

func TestApplyReportsPartialFailure(t *testing.T) {
	boom := errors.New("No such entity")
	r := &fakeRunner{list: sinkInputsJSON, failSet: map[string]error{"57": boom}}
	s := newTestSink(r)

	h, err := s.Resolve(context.Background(), "exe:mpv")
	require.NoError(t, err)

	err = h.Apply(0.1)
	assert.ErrorIs(t, err, boom)
	// The second input is still updated.
	assert.Contains(t, r.setCalls(), "set-sink-input-volume 60 10.0%")
}

func TestTargetsOnePerProcess(t *testing.T) {
	s := newTestSink(&fakeRunner{list: sinkInputsJSON})

	got, err := s.Targets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []target.Info{
		{ID: "pid:1200", Name: "Firefox (firefox, pid 1200)"},
		{ID: "pid:3311", Name: "mpv Media Player (mpv, pid 3311)"},
		{ID: "pid:3312", Name: "mpv Media Player (mpv, pid 3312)"},
	}, got)
}

func TestTargetsBadJSON(t *testing.T) {
	s := newTestSink(&fakeRunner{list: "Connection failure"})
	_, err := s.Targets(context.Background())
	assert.Error(t, err)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "0.0%", percent(0))
	assert.Equal(t, "33.3%", percent(1.0/3))
	assert.Equal(t, "100.0%", percent(1))
}

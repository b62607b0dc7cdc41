// Package pulse drives PulseAudio (and PipeWire's pulse server) volumes
// through the pactl command line tool.
//
// Target refs:
//
//	system        the default sink
//	pid:<n>       every sink input owned by process n
//	exe:<binary>  every sink input of processes running binary
package pulse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"joyvol/internal/target"
)

const (
	DefaultPactlPath = "pactl"
	DefaultTimeout   = 500 * time.Millisecond

	defaultSink = "@DEFAULT_SINK@"
)

// Runner executes a command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

type Config struct {
	PactlPath string
	Timeout   time.Duration // per pactl invocation
	Runner    Runner        // nil uses ExecRunner
}

// Sink implements target.Sink and target.Enumerator.
type Sink struct {
	pactl   string
	timeout time.Duration
	run     Runner
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Sink {
	if cfg.PactlPath == "" {
		cfg.PactlPath = DefaultPactlPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{
		pactl:   cfg.PactlPath,
		timeout: cfg.Timeout,
		run:     cfg.Runner,
		logger:  logger,
	}
}

// sinkInput is the subset of `pactl -f json list sink-inputs` we use.
type sinkInput struct {
	Index      int               `json:"index"`
	Properties map[string]string `json:"properties"`
}

func (in sinkInput) pid() int {
	n, err := strconv.Atoi(in.Properties["application.process.id"])
	if err != nil {
		return 0
	}
	return n
}

func (in sinkInput) binary() string { return in.Properties["application.process.binary"] }

func (in sinkInput) appName() string {
	if n := in.Properties["application.name"]; n != "" {
		return n
	}
	if b := in.binary(); b != "" {
		return b
	}
	return fmt.Sprintf("sink input #%d", in.Index)
}

func (s *Sink) pactlRun(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.run.Run(ctx, s.pactl, args...)
}

func (s *Sink) sinkInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := s.pactlRun(ctx, "-f", "json", "list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	return parseSinkInputs(out)
}

func parseSinkInputs(data []byte) ([]sinkInput, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	var inputs []sinkInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("parse pactl sink-inputs: %w", err)
	}
	return inputs, nil
}

// ref is a parsed application target.
type ref struct {
	pid int
	exe string
}

func parseRef(s string) (ref, error) {
	kind, val, ok := strings.Cut(s, ":")
	if !ok || val == "" {
		return ref{}, fmt.Errorf("%w: malformed target %q", target.ErrTargetNotFound, s)
	}
	switch kind {
	case "pid":
		n, err := strconv.Atoi(val)
		if err != nil || n <= 0 {
			return ref{}, fmt.Errorf("%w: malformed pid in %q", target.ErrTargetNotFound, s)
		}
		return ref{pid: n}, nil
	case "exe":
		return ref{exe: val}, nil
	}
	return ref{}, fmt.Errorf("%w: unknown target kind %q", target.ErrTargetNotFound, kind)
}

func (r ref) matches(in sinkInput) bool {
	if r.pid != 0 {
		return in.pid() == r.pid
	}
	return in.binary() == r.exe
}

// Resolve finds the sink inputs a ref currently refers to. The system
// sentinel resolves to the default sink without querying pactl.
func (s *Sink) Resolve(ctx context.Context, refStr string) (target.Handle, error) {
	if refStr == target.System {
		return &handle{sink: s, system: true}, nil
	}
	r, err := parseRef(refStr)
	if err != nil {
		return nil, err
	}
	inputs, err := s.sinkInputs(ctx)
	if err != nil {
		return nil, err
	}
	var idx []int
	for _, in := range inputs {
		if r.matches(in) {
			idx = append(idx, in.Index)
		}
	}
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: %s", target.ErrTargetNotFound, refStr)
	}
	return &handle{sink: s, inputs: idx}, nil
}

// Targets lists one entry per process currently playing audio.
func (s *Sink) Targets(ctx context.Context) ([]target.Info, error) {
	inputs, err := s.sinkInputs(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var out []target.Info
	for _, in := range inputs {
		pid := in.pid()
		if pid == 0 {
			s.logger.Debug("sink input without process id", "index", in.Index, "name", in.appName())
			continue
		}
		if seen[pid] {
			continue
		}
		seen[pid] = true
		out = append(out, target.Info{
			ID:   "pid:" + strconv.Itoa(pid),
			Name: fmt.Sprintf("%s (%s, pid %d)", in.appName(), in.binary(), pid),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type handle struct {
	sink   *Sink
	system bool
	inputs []int
}

// percent formats v in [0,1] as a pactl volume argument.
func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

func (h *handle) Apply(v float64) error {
	ctx := context.Background()
	if h.system {
		_, err := h.sink.pactlRun(ctx, "set-sink-volume", defaultSink, percent(v))
		return err
	}
	var errs []error
	for _, idx := range h.inputs {
		if _, err := h.sink.pactlRun(ctx, "set-sink-input-volume", strconv.Itoa(idx), percent(v)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *handle) Close() error { return nil }

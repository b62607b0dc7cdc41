// Package scheduler runs the polling loop that turns joystick axis
// positions into volume changes.
//
// Every tick the scheduler takes a snapshot of the binding store and, for
// each binding in order, acquires the device, samples the axis, maps it to
// a volume and applies it to the target. Device and target handles live for
// a single binding step. A failing binding is skipped for that tick and
// retried on the next one; it never stops the loop or affects other
// bindings.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"joyvol/internal/binding"
	"joyvol/internal/device"
	"joyvol/internal/mapping"
	"joyvol/internal/target"
)

var (
	ErrNoBindings     = errors.New("no bindings configured")
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrStopTimeout    = errors.New("scheduler did not stop in time")
)

// Defaults for Config.
const (
	DefaultInterval    = 40 * time.Millisecond
	DefaultStopTimeout = time.Second
)

// State is the scheduler lifecycle state.
type State string

const (
	Idle     State = "idle"
	Running  State = "running"
	Stopping State = "stopping" // stop requested, worker still finishing a tick
)

// Stage names the step at which a binding was skipped or failed.
type Stage string

const (
	StageDevice Stage = "device"
	StageTarget Stage = "target"
	StageApply  Stage = "apply"
)

// Snapshotter hands out an immutable view of the binding set.
type Snapshotter interface {
	Snapshot() binding.Set
}

// Reading is the outcome of one binding step in one tick.
type Reading struct {
	RunID   string
	Tick    uint64
	Index   int
	Binding binding.Binding
	Raw     int32
	Volume  float64
	Applied bool
	Stage   Stage // set when Err is set
	Err     error
	At      time.Time
}

// Observer receives every Reading. It runs on the worker goroutine and
// must not block.
type Observer func(Reading)

type Config struct {
	Interval    time.Duration
	StopTimeout time.Duration
}

type Option func(*Scheduler)

func WithObserver(fn Observer) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// Status is a point-in-time summary of the scheduler.
type Status struct {
	State     State     `json:"state"`
	RunID     string    `json:"run_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	Ticks     uint64    `json:"ticks"`
	Overruns  uint64    `json:"overruns"`
	Interval  string    `json:"interval"`
}

type Scheduler struct {
	store       Snapshotter
	sampler     device.Sampler
	sink        target.Sink
	interval    time.Duration
	stopTimeout time.Duration
	logger      *slog.Logger
	observe     Observer

	mu  sync.Mutex
	run *run
}

// run is one Idle -> Running -> Idle cycle.
type run struct {
	id       string
	started  time.Time
	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool
	ticks    atomic.Uint64
	overruns atomic.Uint64
}

func New(store Snapshotter, sampler device.Sampler, sink target.Sink, cfg Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{
		store:       store,
		sampler:     sampler,
		sink:        sink,
		interval:    cfg.Interval,
		stopTimeout: cfg.StopTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker. It fails with ErrNoBindings when the store is
// empty and with ErrAlreadyRunning when a worker is active or still
// finishing after a timed-out Stop.
func (s *Scheduler) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run != nil {
		return s.run.id, ErrAlreadyRunning
	}
	if len(s.store.Snapshot()) == 0 {
		return "", ErrNoBindings
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      uuid.NewString(),
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.run = r
	go s.loop(ctx, r)

	s.logger.Info("scheduler started", "run_id", r.id, "interval", s.interval)
	return r.id, nil
}

// Stop requests cancellation and waits up to the stop timeout for the
// worker to exit. Stopping an idle scheduler is a no-op.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	r.stopping.Store(true)
	r.cancel()

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
		s.logger.Info("scheduler stopped", "run_id", r.id, "ticks", r.ticks.Load())
		return nil
	case <-timer.C:
		s.logger.Warn("scheduler stop timed out", "run_id", r.id, "timeout", s.stopTimeout)
		return fmt.Errorf("%w after %s", ErrStopTimeout, s.stopTimeout)
	}
}

// Wait blocks until the current run, if any, has exited.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r != nil {
		<-r.done
	}
}

func (s *Scheduler) State() State {
	return s.Status().State
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()

	st := Status{State: Idle, Interval: s.interval.String()}
	if r == nil {
		return st
	}
	st.State = Running
	if r.stopping.Load() {
		st.State = Stopping
	}
	st.RunID = r.id
	st.StartedAt = r.started
	st.Ticks = r.ticks.Load()
	st.Overruns = r.overruns.Load()
	return st
}

func (s *Scheduler) loop(ctx context.Context, r *run) {
	defer func() {
		s.mu.Lock()
		if s.run == r {
			s.run = nil
		}
		s.mu.Unlock()
		close(r.done)
	}()

	// Ticks are not interrupted by Stop; cancellation is observed between
	// ticks only.
	tickCtx := context.WithoutCancel(ctx)
	health := make(map[binding.Binding]Stage)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	next := time.Now()
	for {
		if ctx.Err() != nil {
			return
		}

		n := r.ticks.Add(1)
		s.tick(tickCtx, r, n, health)

		next = next.Add(s.interval)
		wait := time.Until(next)
		if wait <= 0 {
			// Overran: start the next tick now instead of catching up.
			r.overruns.Add(1)
			next = time.Now()
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, r *run, n uint64, health map[binding.Binding]Stage) {
	snap := s.store.Snapshot()

	seen := make(map[binding.Binding]bool, len(snap))
	for i, b := range snap {
		rd := s.step(ctx, b)
		rd.RunID = r.id
		rd.Tick = n
		rd.Index = i
		seen[b] = true

		s.track(health, rd)
		if s.observe != nil {
			s.observe(rd)
		}
	}
	for b := range health {
		if !seen[b] {
			delete(health, b)
		}
	}
}

// track logs healthy/failing transitions once instead of every tick.
func (s *Scheduler) track(health map[binding.Binding]Stage, rd Reading) {
	prev, failing := health[rd.Binding]
	switch {
	case rd.Err != nil && (!failing || prev != rd.Stage):
		health[rd.Binding] = rd.Stage
		level := slog.LevelInfo
		if rd.Stage == StageApply {
			level = slog.LevelWarn
		}
		s.logger.Log(context.Background(), level, "binding degraded",
			"index", rd.Index, "device_ref", rd.Binding.DeviceRef, "target_ref", rd.Binding.TargetRef,
			"stage", rd.Stage, "error", rd.Err)
	case rd.Err == nil && failing:
		delete(health, rd.Binding)
		s.logger.Info("binding recovered",
			"index", rd.Index, "device_ref", rd.Binding.DeviceRef, "target_ref", rd.Binding.TargetRef)
	}
}

// step runs one binding: sample, map, apply. Handles are released before
// it returns.
func (s *Scheduler) step(ctx context.Context, b binding.Binding) Reading {
	rd := Reading{Binding: b, At: time.Now()}

	raw, err := s.sample(ctx, b)
	if err != nil {
		rd.Stage, rd.Err = StageDevice, err
		s.logger.Debug("skip binding", "device_ref", b.DeviceRef, "axis", b.Axis, "error", err)
		return rd
	}
	rd.Raw = raw
	rd.Volume = mapping.Volume(raw, b.AxisMin, b.AxisMax, b.VolMin, b.VolMax)

	h, err := s.sink.Resolve(ctx, b.TargetRef)
	if err != nil {
		rd.Stage, rd.Err = StageTarget, err
		s.logger.Debug("skip binding", "target_ref", b.TargetRef, "error", err)
		return rd
	}
	defer func() {
		if err := h.Close(); err != nil {
			s.logger.Debug("release target", "target_ref", b.TargetRef, "error", err)
		}
	}()

	if err := h.Apply(rd.Volume); err != nil {
		rd.Stage, rd.Err = StageApply, err
		s.logger.Debug("apply volume failed", "target_ref", b.TargetRef, "volume", rd.Volume, "error", err)
		return rd
	}
	rd.Applied = true
	return rd
}

func (s *Scheduler) sample(ctx context.Context, b binding.Binding) (int32, error) {
	h, err := s.sampler.Acquire(ctx, b.DeviceRef)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := h.Close(); err != nil {
			s.logger.Debug("release device", "device_ref", b.DeviceRef, "error", err)
		}
	}()

	smp, err := h.Sample()
	if err != nil {
		return 0, err
	}
	raw, ok := smp.Value(b.Axis)
	if !ok {
		return 0, fmt.Errorf("%w: %s has no %s axis", device.ErrDeviceUnavailable, b.DeviceRef, b.Axis)
	}
	return raw, nil
}

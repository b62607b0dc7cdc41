package camilladsp

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"joyvol/internal/target"
)

// Defaults for Config.
const (
	DefaultURL     = "ws://127.0.0.1:1234"
	DefaultTimeout = 500 * time.Millisecond
	DefaultMinDB   = -65.0
	DefaultMaxDB   = 0.0
)

type Config struct {
	URL     string
	Timeout time.Duration
	MinDB   float64
	MaxDB   float64
}

// Sink serves the system output sentinel through CamillaDSP.
type Sink struct {
	client *Client
	minDB  float64
	maxDB  float64
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if !(cfg.MinDB < cfg.MaxDB) {
		return nil, fmt.Errorf("camilladsp: min_db (%g) must be below max_db (%g)", cfg.MinDB, cfg.MaxDB)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, err := NewClient(cfg.URL, cfg.Timeout, logger)
	if err != nil {
		return nil, err
	}
	return &Sink{client: client, minDB: cfg.MinDB, maxDB: cfg.MaxDB, logger: logger}, nil
}

// Client exposes the underlying connection for status queries.
func (s *Sink) Client() *Client { return s.client }

// DB converts a linear volume in [0,1] to the fader setting.
func (s *Sink) DB(v float64) float64 {
	v = math.Max(0, math.Min(1, v))
	return s.minDB + v*(s.maxDB-s.minDB)
}

// Resolve accepts only the system sentinel. It dials at most once.
func (s *Sink) Resolve(_ context.Context, ref string) (target.Handle, error) {
	if ref != target.System {
		return nil, fmt.Errorf("%w: camilladsp only serves %q, got %q", target.ErrTargetNotFound, target.System, ref)
	}
	if err := s.client.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", target.ErrTargetNotFound, err)
	}
	return handle{s}, nil
}

func (s *Sink) Targets(context.Context) ([]target.Info, error) {
	return []target.Info{target.SystemInfo()}, nil
}

func (s *Sink) Close() error { return s.client.Close() }

type handle struct{ s *Sink }

func (h handle) Apply(v float64) error { return h.s.client.SetVolume(h.s.DB(v)) }

// Close leaves the shared connection open for the next tick.
func (handle) Close() error { return nil }

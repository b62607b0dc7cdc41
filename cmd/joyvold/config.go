package main

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for joyvold.
//
// The file is the primary configuration surface; flags exist for small
// overrides. Defaults and validation live here so the rest of the daemon
// can assume a well-formed config.
type Config struct {
	// Where the binding set is persisted.
	BindingsFile string `yaml:"bindings_file"`

	Poll       PollConfig       `yaml:"poll"`
	Input      InputConfig      `yaml:"input"`
	Pulse      PulseConfig      `yaml:"pulse"`
	CamillaDSP CamillaDSPConfig `yaml:"camilladsp"`
	IPC        IPCConfig        `yaml:"ipc"`
	Status     StatusConfig     `yaml:"status"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type PollConfig struct {
	IntervalMS    int  `yaml:"interval_ms"`
	StopTimeoutMS int  `yaml:"stop_timeout_ms"`
	Autostart     bool `yaml:"autostart"` // start polling after loading a non-empty bindings file
}

type InputConfig struct {
	ByIDDir string `yaml:"by_id_dir"`
	Pattern string `yaml:"pattern"`
}

type PulseConfig struct {
	Enabled   bool   `yaml:"enabled"`
	PactlPath string `yaml:"pactl_path"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// CamillaDSPConfig, when enabled, makes CamillaDSP own the system output
// target instead of the Pulse default sink.
type CamillaDSPConfig struct {
	Enabled   bool    `yaml:"enabled"`
	WsURL     string  `yaml:"ws_url"`
	TimeoutMS int     `yaml:"timeout_ms"`
	MinDB     float64 `yaml:"min_db"`
	MaxDB     float64 `yaml:"max_db"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		BindingsFile: "~/.config/joyvol/bindings.yaml",
		Poll: PollConfig{
			IntervalMS:    defaultPollIntervalMS,
			StopTimeoutMS: defaultStopTimeoutMS,
			Autostart:     true,
		},
		Input: InputConfig{
			ByIDDir: "/dev/input/by-id",
			Pattern: "*-event-joystick",
		},
		Pulse: PulseConfig{
			Enabled:   true,
			PactlPath: "pactl",
			TimeoutMS: defaultPactlTimeoutMS,
		},
		CamillaDSP: CamillaDSPConfig{
			Enabled:   false,
			WsURL:     "ws://127.0.0.1:1234",
			TimeoutMS: defaultCamillaTimeoutMS,
			MinDB:     -65.0,
			MaxDB:     0.0,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/joyvol.sock",
		},
		Status: StatusConfig{
			Enabled: true,
			Port:    3002,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the
// defaults. Unknown fields and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides holds flag values that were explicitly set. A nil pointer
// means the flag was not given; a non-nil pointer is applied even if it
// holds a zero value.
type FlagOverrides struct {
	BindingsFile   *string
	PollIntervalMS *int
	InputDir       *string
	PactlPath      *string
	CamillaWsURL   *string
	IPCSocketPath  *string
	StatusPort     *int
	LogLevel       *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.BindingsFile != nil {
		cfg.BindingsFile = *o.BindingsFile
	}
	if o.PollIntervalMS != nil {
		cfg.Poll.IntervalMS = *o.PollIntervalMS
	}
	if o.InputDir != nil {
		cfg.Input.ByIDDir = *o.InputDir
	}
	if o.PactlPath != nil {
		cfg.Pulse.PactlPath = *o.PactlPath
	}
	if o.CamillaWsURL != nil {
		// Naming a CamillaDSP endpoint on the command line implies using it.
		cfg.CamillaDSP.WsURL = *o.CamillaWsURL
		cfg.CamillaDSP.Enabled = true
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StatusPort != nil {
		cfg.Status.Port = *o.StatusPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants after defaults, file and overrides
// have been applied.
func (c *Config) Validate() error {
	if c.BindingsFile == "" {
		return errors.New("bindings_file must not be empty")
	}

	if c.Poll.IntervalMS < 1 || c.Poll.IntervalMS > 1000 {
		return errors.New("poll.interval_ms must be between 1 and 1000")
	}
	// stop is answered over IPC, so it has to fit inside the client's wait.
	if c.Poll.StopTimeoutMS <= 0 || c.Poll.StopTimeoutMS > maxStopTimeoutMS {
		return fmt.Errorf("poll.stop_timeout_ms must be between 1 and %d", maxStopTimeoutMS)
	}

	if c.Input.ByIDDir == "" {
		return errors.New("input.by_id_dir must not be empty")
	}
	if c.Input.Pattern == "" {
		return errors.New("input.pattern must not be empty")
	}
	if _, err := filepath.Match(c.Input.Pattern, ""); err != nil {
		return fmt.Errorf("input.pattern: %w", err)
	}

	if c.Pulse.Enabled {
		if c.Pulse.PactlPath == "" {
			return errors.New("pulse.pactl_path must not be empty")
		}
		if c.Pulse.TimeoutMS <= 0 {
			return errors.New("pulse.timeout_ms must be > 0")
		}
	}

	if c.CamillaDSP.Enabled {
		if c.CamillaDSP.WsURL == "" {
			return errors.New("camilladsp.ws_url must not be empty")
		}
		u, err := url.Parse(c.CamillaDSP.WsURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("camilladsp.ws_url %q must be a ws:// or wss:// URL", c.CamillaDSP.WsURL)
		}
		if c.CamillaDSP.TimeoutMS <= 0 {
			return errors.New("camilladsp.timeout_ms must be > 0")
		}
		if math.IsNaN(c.CamillaDSP.MinDB) || math.IsNaN(c.CamillaDSP.MaxDB) {
			return errors.New("camilladsp.min_db and camilladsp.max_db must be numbers")
		}
		if c.CamillaDSP.MinDB >= c.CamillaDSP.MaxDB {
			return errors.New("camilladsp.min_db must be < camilladsp.max_db")
		}
	}

	if !c.Pulse.Enabled && !c.CamillaDSP.Enabled {
		return errors.New("at least one of pulse.enabled or camilladsp.enabled must be true")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		return errors.New("status.port must be between 1 and 65535")
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}

func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Poll.StopTimeoutMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}

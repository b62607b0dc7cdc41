package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"joyvol/internal/binding"
	"joyvol/internal/device/evdev"
	"joyvol/internal/ipc"
	"joyvol/internal/scheduler"
	"joyvol/internal/target"
	"joyvol/internal/target/camilladsp"
	"joyvol/internal/target/pulse"
)

const version = "1.0.0"

const defaultConfigPath = "~/.config/joyvol/config.yaml"

func printVersion() {
	fmt.Printf("joyvold v%s\n", version)
	fmt.Println("Joystick axis to audio volume daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  joyvold [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Polls joystick axes (via Linux evdev) and drives the volume of")
	fmt.Println("  applications or the system output (via PulseAudio/PipeWire or")
	fmt.Println("  CamillaDSP). Bindings are managed with joyvol-ctl over a Unix socket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        YAML config file (default %q, optional)\n", defaultConfigPath)
	fmt.Println()
	fmt.Println("  -bindings-file string")
	fmt.Println("        Where bindings are saved and loaded from")
	fmt.Println()
	fmt.Println("  -poll-interval-ms int")
	fmt.Printf("        Polling interval in ms, 1..1000 (default %d)\n", defaultPollIntervalMS)
	fmt.Println()
	fmt.Println("  -input-dir string")
	fmt.Println("        Directory of stable input device links (default \"/dev/input/by-id\")")
	fmt.Println()
	fmt.Println("  -pactl string")
	fmt.Println("        pactl binary (default \"pactl\")")
	fmt.Println()
	fmt.Println("  -camilladsp-ws-url string")
	fmt.Println("        CamillaDSP websocket URL; when set CamillaDSP drives the system output")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for control commands (default \"/tmp/joyvol.sock\")")
	fmt.Println()
	fmt.Println("  -status-port int")
	fmt.Println("        Status HTTP/WebSocket port (default 3002)")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Requires read access to /dev/input (add the user to the 'input' group)")
	fmt.Println("  - Target refs: system, pid:<n>, exe:<binary>")
	fmt.Println()
}

func main() {
	flags := flag.NewFlagSet("joyvold", flag.ExitOnError)
	flags.Usage = printUsage

	var (
		configPath  = flags.String("config", "", "YAML config file")
		bindings    = flags.String("bindings-file", "", "Bindings file")
		pollMS      = flags.Int("poll-interval-ms", defaultPollIntervalMS, "Polling interval in ms")
		inputDir    = flags.String("input-dir", "", "Input device link directory")
		pactl       = flags.String("pactl", "", "pactl binary")
		camillaURL  = flags.String("camilladsp-ws-url", "", "CamillaDSP websocket URL")
		ipcSocket   = flags.String("ipc-socket", "", "Unix domain socket path for IPC")
		statusPort  = flags.Int("status-port", 0, "Status HTTP port")
		logLevel    = flags.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion = flags.Bool("version", false, "Print version and exit")
		showHelp    = flags.Bool("help", false, "Print help message")
	)
	_ = flags.Parse(os.Args[1:])

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Only flags given on the command line override the config file.
	var ov FlagOverrides
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bindings-file":
			ov.BindingsFile = bindings
		case "poll-interval-ms":
			ov.PollIntervalMS = pollMS
		case "input-dir":
			ov.InputDir = inputDir
		case "pactl":
			ov.PactlPath = pactl
		case "camilladsp-ws-url":
			ov.CamillaWsURL = camillaURL
		case "ipc-socket":
			ov.IPCSocketPath = ipcSocket
		case "status-port":
			ov.StatusPort = statusPort
		case "log-level":
			ov.LogLevel = logLevel
		}
	})

	cfg, err := loadConfig(*configPath, ov)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := newLogger(os.Stdout, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("joyvold stopped", "error", err)
		os.Exit(1)
	}
}

// loadConfig applies defaults, the config file (if any) and flag overrides,
// then validates. An explicit -config must exist; the default path may not.
func loadConfig(path string, ov FlagOverrides) (Config, error) {
	cfg := DefaultConfig()
	switch {
	case path != "":
		c, err := LoadConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = c
	default:
		c, err := LoadConfigFile(defaultConfigPath)
		if err == nil {
			cfg = c
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	ov.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	cfg.BindingsFile = ExpandPath(cfg.BindingsFile)
	return cfg, nil
}

// daemon is the wired set of components for one process lifetime.
type daemon struct {
	cfg     Config
	logger  *slog.Logger
	store   *binding.Store
	sched   *scheduler.Scheduler
	ctl     *Controller
	status  *StatusServer
	board   *readingBoard
	feed    chan scheduler.Reading
	closers []func() error
}

var _ mixerState = (*camilladsp.Client)(nil)

func newDaemon(cfg Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:    cfg,
		logger: logger,
		board:  newReadingBoard(),
		feed:   make(chan scheduler.Reading, readingQueue),
	}

	store, err := binding.NewStore()
	if err != nil {
		return nil, err
	}
	d.store = store

	sampler := evdev.New(evdev.Config{ByIDDir: cfg.Input.ByIDDir, Pattern: cfg.Input.Pattern}, logger.With("component", "evdev"))

	router := &target.Router{}
	if cfg.Pulse.Enabled {
		p := pulse.New(pulse.Config{
			PactlPath: cfg.Pulse.PactlPath,
			Timeout:   time.Duration(cfg.Pulse.TimeoutMS) * time.Millisecond,
		}, logger.With("component", "pulse"))
		router.Apps = p
		router.System = p
	}
	var dsp *camilladsp.Client
	if cfg.CamillaDSP.Enabled {
		c, err := camilladsp.New(camilladsp.Config{
			URL:     cfg.CamillaDSP.WsURL,
			Timeout: time.Duration(cfg.CamillaDSP.TimeoutMS) * time.Millisecond,
			MinDB:   cfg.CamillaDSP.MinDB,
			MaxDB:   cfg.CamillaDSP.MaxDB,
		}, logger.With("component", "camilladsp"))
		if err != nil {
			return nil, err
		}
		router.System = c
		d.closers = append(d.closers, c.Close)
		dsp = c.Client()
	}

	d.sched = scheduler.New(store, sampler, router,
		scheduler.Config{Interval: cfg.PollInterval(), StopTimeout: cfg.StopTimeout()},
		logger.With("component", "scheduler"),
		scheduler.WithObserver(readingFeed(d.feed, logger)),
	)

	d.ctl = NewController(store, d.sched, sampler, router, d.board, cfg.BindingsFile, logger)
	if dsp != nil {
		d.ctl.dsp = dsp
	}
	d.status = NewStatusServer(logger.With("component", "status"), d.ctl.Status, HubConfig{})
	d.ctl.notify = d.status.BroadcastScheduler
	return d, nil
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range d.closers {
			_ = c()
		}
	}()

	if err := d.ctl.LoadInitial(); err != nil {
		// A broken bindings file should not keep the daemon down; fix it over IPC.
		logger.Error("failed to load bindings", "path", cfg.BindingsFile, "error", err)
	}
	if cfg.Poll.Autostart && d.store.Len() > 0 {
		if _, err := d.ctl.Start(); err != nil {
			logger.Warn("autostart failed", "error", err)
		}
	}

	var ln net.Listener
	if cfg.Status.Enabled {
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Status.Port))
		if err != nil {
			return fmt.Errorf("status listener: %w", err)
		}
	}

	logger.Info("listening",
		"ipc", cfg.IPC.SocketPath,
		"status_port", cfg.Status.Port,
		"bindings_file", cfg.BindingsFile,
		"poll_interval", cfg.PollInterval(),
		"pulse", cfg.Pulse.Enabled,
		"camilladsp", cfg.CamillaDSP.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ipc.Serve(gctx, cfg.IPC.SocketPath, d.ctl, logger.With("component", "ipc"))
	})
	g.Go(func() error {
		RunBroadcaster(gctx, d.status.Hub(), d.feed, d.board, readingCoalesceWindow, logger)
		return nil
	})
	g.Go(func() error {
		d.status.Hub().Run(gctx)
		return nil
	})
	if ln != nil {
		g.Go(func() error {
			mux := http.NewServeMux()
			d.status.Register(mux)
			return runHTTPServer(gctx, ln, mux, logger)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	if stopErr := d.sched.Stop(); stopErr != nil {
		logger.Warn("scheduler stop", "error", stopErr)
	}
	return err
}

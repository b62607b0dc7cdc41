package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"joyvol/internal/binding"
	"joyvol/internal/ipc"
)

// ============================================================================
// joyvol-ctl - Command-line IPC Client
// ============================================================================
// This tool manages bindings and polling on a running joyvold via IPC.
//
// Usage:
//   joyvol-ctl list
//   joyvol-ctl add <device> <axis> <axis-min> <axis-max> <vol-min> <vol-max> <target>
//   joyvol-ctl start
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/joyvol.sock)
// ============================================================================

// Reply shapes (duplicated from the daemon for a standalone binary).

type axisInfo struct {
	Axis binding.Axis `json:"axis"`
	Min  int32        `json:"min"`
	Max  int32        `json:"max"`
}

type deviceInfo struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Axes []axisInfo `json:"axes"`
}

type targetInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type schedulerStatus struct {
	State     string    `json:"state"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Ticks     uint64    `json:"ticks"`
	Overruns  uint64    `json:"overruns"`
	Interval  string    `json:"interval"`
}

type lastReading struct {
	Raw     int32   `json:"raw"`
	Volume  float64 `json:"volume"`
	Applied bool    `json:"applied"`
	Stage   string  `json:"stage"`
	Error   string  `json:"error"`
}

type camillaStatus struct {
	State    string   `json:"state"`
	VolumeDB *float64 `json:"volume_db"`
	Error    string   `json:"error"`
}

type statusReply struct {
	Scheduler    schedulerStatus `json:"scheduler"`
	BindingsFile string          `json:"bindings_file"`
	CamillaDSP   *camillaStatus  `json:"camilladsp"`
	Bindings     []struct {
		Index   int             `json:"index"`
		Binding binding.Binding `json:"binding"`
		Last    *lastReading    `json:"last"`
	} `json:"bindings"`
}

type loadReply struct {
	Path    string `json:"path"`
	Loaded  int    `json:"loaded"`
	Skipped []struct {
		Index int    `json:"index"`
		Line  int    `json:"line"`
		Error string `json:"error"`
	} `json:"skipped"`
}

type saveReply struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

var (
	cyan   = color.New(color.FgCyan)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	gray   = color.New(color.FgHiBlack)
)

func main() {
	socketPath := "/tmp/joyvol.sock"

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "-socket" || args[0] == "--socket" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if err := run(socketPath, args[0], args[1:]); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func run(socket, cmd string, args []string) error {
	call := func(typ string, in, out any) error {
		return ipc.Call(socket, typ, in, out, ipc.DefaultCallTimeout)
	}

	switch cmd {
	case "list", "ls":
		var set binding.Set
		if err := call("list", nil, &set); err != nil {
			return err
		}
		printBindings(set)

	case "add":
		b, err := parseBinding(args)
		if err != nil {
			return err
		}
		var set binding.Set
		if err := call("add", b, &set); err != nil {
			return err
		}
		printBindings(set)

	case "replace":
		if len(args) < 1 {
			return errors.New("replace requires an index followed by a binding")
		}
		i, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		b, err := parseBinding(args[1:])
		if err != nil {
			return err
		}
		var set binding.Set
		req := struct {
			Index   int             `json:"index"`
			Binding binding.Binding `json:"binding"`
		}{i, b}
		if err := call("replace", req, &set); err != nil {
			return err
		}
		printBindings(set)

	case "remove", "rm":
		if len(args) != 1 {
			return errors.New("remove requires an index")
		}
		i, err := parseIndex(args[0])
		if err != nil {
			return err
		}
		var set binding.Set
		if err := call("remove", map[string]int{"index": i}, &set); err != nil {
			return err
		}
		printBindings(set)

	case "save":
		var rep saveReply
		if err := call("save", nil, &rep); err != nil {
			return err
		}
		green.Printf("saved %d binding(s) to %s\n", rep.Count, rep.Path)

	case "load":
		var rep loadReply
		if err := call("load", nil, &rep); err != nil {
			return err
		}
		green.Printf("loaded %d binding(s) from %s\n", rep.Loaded, rep.Path)
		for _, s := range rep.Skipped {
			yellow.Printf("  skipped entry %d (line %d): %s\n", s.Index, s.Line, s.Error)
		}

	case "start":
		var rep struct {
			RunID string `json:"run_id"`
		}
		if err := call("start", nil, &rep); err != nil {
			return err
		}
		green.Printf("polling started (run %s)\n", rep.RunID)

	case "stop":
		if err := call("stop", nil, nil); err != nil {
			return err
		}
		green.Println("polling stopped")

	case "status":
		var rep statusReply
		if err := call("status", nil, &rep); err != nil {
			return err
		}
		printStatus(rep)

	case "devices":
		var devs []deviceInfo
		if err := call("devices", nil, &devs); err != nil {
			return err
		}
		printDevices(devs)

	case "targets":
		var tgts []targetInfo
		if err := call("targets", nil, &tgts); err != nil {
			return err
		}
		printTargets(tgts)

	case "help", "-h", "--help":
		printUsage()

	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func printBindings(set binding.Set) {
	if len(set) == 0 {
		gray.Println("  (no bindings)")
		return
	}
	cyan.Printf("  %-3s %-40s %-8s %-17s %-13s %s\n", "#", "DEVICE", "AXIS", "AXIS RANGE", "VOLUME", "TARGET")
	for i, b := range set {
		fmt.Printf("  %-3d %-40s %-8s %-17s %-13s %s\n",
			i, b.DeviceRef, b.Axis,
			fmt.Sprintf("%d..%d", b.AxisMin, b.AxisMax),
			fmt.Sprintf("%.0f%%..%.0f%%", b.VolMin*100, b.VolMax*100),
			b.TargetRef)
	}
}

func printStatus(rep statusReply) {
	st := rep.Scheduler
	fmt.Println()
	cyan.Println("  Scheduler")
	cyan.Println("  ---------")
	switch st.State {
	case "running":
		green.Printf("  State:      %s\n", st.State)
	default:
		yellow.Printf("  State:      %s\n", st.State)
	}
	if st.RunID != "" {
		fmt.Printf("  Run ID:     %s\n", st.RunID)
		fmt.Printf("  Started:    %s\n", st.StartedAt.Local().Format(time.DateTime))
	}
	fmt.Printf("  Interval:   %s\n", st.Interval)
	fmt.Printf("  Ticks:      %d (overruns %d)\n", st.Ticks, st.Overruns)
	fmt.Printf("  File:       %s\n", rep.BindingsFile)
	fmt.Println()

	if dsp := rep.CamillaDSP; dsp != nil {
		cyan.Println("  CamillaDSP")
		cyan.Println("  ----------")
		if dsp.State != "" {
			fmt.Printf("  State:      %s\n", dsp.State)
		}
		if dsp.VolumeDB != nil {
			fmt.Printf("  Volume:     %.1f dB\n", *dsp.VolumeDB)
		}
		if dsp.Error != "" {
			yellow.Printf("  Error:      %s\n", dsp.Error)
		}
		fmt.Println()
	}

	cyan.Println("  Bindings")
	cyan.Println("  --------")
	if len(rep.Bindings) == 0 {
		gray.Println("  (no bindings)")
	}
	for _, b := range rep.Bindings {
		fmt.Printf("  %-3d %s\n", b.Index, b.Binding)
		switch {
		case b.Last == nil:
			gray.Println("      no reading yet")
		case b.Last.Error != "":
			yellow.Printf("      skipped at %s: %s\n", b.Last.Stage, b.Last.Error)
		case b.Last.Applied:
			green.Printf("      raw %d -> %.1f%%\n", b.Last.Raw, b.Last.Volume*100)
		default:
			fmt.Printf("      raw %d -> %.1f%% (not applied)\n", b.Last.Raw, b.Last.Volume*100)
		}
	}
	fmt.Println()
}

func printDevices(devs []deviceInfo) {
	if len(devs) == 0 {
		gray.Println("  (no joysticks found)")
		return
	}
	for _, d := range devs {
		cyan.Printf("  %s\n", d.ID)
		fmt.Printf("    name: %s\n", d.Name)
		for _, a := range d.Axes {
			fmt.Printf("    %-8s %d..%d\n", a.Axis, a.Min, a.Max)
		}
	}
}

func printTargets(tgts []targetInfo) {
	cyan.Printf("  %-24s %s\n", "TARGET", "NAME")
	for _, t := range tgts {
		fmt.Printf("  %-24s %s\n", t.ID, t.Name)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `joyvol-ctl - Control the joyvold daemon via IPC

Usage:
  joyvol-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/joyvol.sock)

Commands:
  list, ls                         Show the current bindings
  add <binding>                    Append a binding
  replace <index> <binding>        Replace the binding at index
  remove, rm <index>               Remove the binding at index
  save                             Write bindings to the daemon's bindings file
  load                             Replace bindings with the bindings file
  start                            Start polling
  stop                             Stop polling
  status                           Show scheduler state and last readings
  devices                          List attached joysticks and their axes
  targets                          List bindable audio targets
  help, -h, --help                 Show this help message

Binding:
  <device> <axis> <axis-min> <axis-max> <vol-min> <vol-max> <target>

  device    joystick id from 'devices' (or an absolute /dev/input path)
  axis      X, Y, Z, Rx, Ry, Rz, Slider0, Slider1
  vol-*     0..1 or a percentage such as 75%%
  target    system, pid:<n> or exe:<binary> (see 'targets')

Examples:
  joyvol-ctl add usb-Thrustmaster-event-joystick Slider0 0 65535 0 100%% system
  joyvol-ctl add usb-Thrustmaster-event-joystick Rz 255 0 0 1 exe:mpv
  joyvol-ctl -socket /run/joyvol.sock status
`)
}

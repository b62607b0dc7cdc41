package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"joyvol/internal/binding"
	"joyvol/internal/device"
	"joyvol/internal/scheduler"
	"joyvol/internal/target"
)

// runner is the part of the scheduler the control plane drives.
type runner interface {
	Start() (string, error)
	Stop() error
	Status() scheduler.Status
}

// mixerState is the read side of the CamillaDSP client.
type mixerState interface {
	GetState() (string, error)
	GetVolume() (float64, error)
}

// Controller owns the binding store on behalf of every control surface
// (IPC commands, startup, status). It is the only writer of the store.
type Controller struct {
	store   *binding.Store
	sched   runner
	devices device.Enumerator
	targets target.Enumerator
	board   *readingBoard
	path    string
	logger  *slog.Logger

	// notify, if set, receives the scheduler status after start and stop.
	notify func(scheduler.Status)

	// dsp is set when CamillaDSP owns the system target.
	dsp mixerState

	// fileMu serializes save and load against each other.
	fileMu sync.Mutex
}

func NewController(
	store *binding.Store,
	sched runner,
	devices device.Enumerator,
	targets target.Enumerator,
	board *readingBoard,
	bindingsFile string,
	logger *slog.Logger,
) *Controller {
	if board == nil {
		board = newReadingBoard()
	}
	return &Controller{
		store:   store,
		sched:   sched,
		devices: devices,
		targets: targets,
		board:   board,
		path:    bindingsFile,
		logger:  logger,
	}
}

func (c *Controller) List() binding.Set {
	return c.store.List()
}

func (c *Controller) Add(b binding.Binding) error {
	if err := c.store.Add(b); err != nil {
		return err
	}
	c.logger.Info("binding added", "binding", b.String())
	return nil
}

func (c *Controller) Replace(i int, b binding.Binding) error {
	if err := c.store.Replace(i, b); err != nil {
		return err
	}
	c.logger.Info("binding replaced", "index", i, "binding", b.String())
	return nil
}

func (c *Controller) Remove(i int) error {
	if err := c.store.Remove(i); err != nil {
		return err
	}
	c.logger.Info("binding removed", "index", i)
	return nil
}

// saveReport is the reply to save.
type saveReport struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// Save writes the current binding set to the bindings file atomically.
func (c *Controller) Save() (saveReport, error) {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	set := c.store.Snapshot()
	if err := binding.SaveFile(c.path, set); err != nil {
		return saveReport{}, err
	}
	c.logger.Info("bindings saved", "path", c.path, "count", len(set))
	return saveReport{Path: c.path, Count: len(set)}, nil
}

// skippedEntry describes one persisted entry that was not loaded.
type skippedEntry struct {
	Index int    `json:"index"`
	Line  int    `json:"line,omitempty"`
	Error string `json:"error"`
}

// loadReport is the reply to load.
type loadReport struct {
	Path    string         `json:"path"`
	Loaded  int            `json:"loaded"`
	Skipped []skippedEntry `json:"skipped,omitempty"`
}

// Load replaces the store contents with the bindings file. Entries that
// fail to parse or validate are skipped and reported. A running scheduler
// picks up the new set on its next tick.
func (c *Controller) Load() (loadReport, error) {
	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	res, err := binding.LoadFile(c.path)
	if err != nil {
		return loadReport{}, err
	}
	if err := c.store.ReplaceAll(res.Set); err != nil {
		return loadReport{}, err
	}

	rep := loadReport{Path: c.path, Loaded: len(res.Set)}
	for _, e := range res.Skipped {
		c.logger.Warn("skipped persisted binding", "path", c.path, "entry", e.Index, "line", e.Line, "error", e.Err)
		rep.Skipped = append(rep.Skipped, skippedEntry{Index: e.Index, Line: e.Line, Error: e.Err.Error()})
	}
	c.logger.Info("bindings loaded", "path", c.path, "loaded", rep.Loaded, "skipped", len(rep.Skipped))
	return rep, nil
}

// LoadInitial is Load for daemon startup: a missing file is an empty set.
func (c *Controller) LoadInitial() error {
	_, err := c.Load()
	if errors.Is(err, fs.ErrNotExist) {
		c.logger.Info("no bindings file yet", "path", c.path)
		return nil
	}
	return err
}

func (c *Controller) Start() (string, error) {
	id, err := c.sched.Start()
	if err != nil {
		return "", err
	}
	c.publishScheduler()
	return id, nil
}

// Stop halts polling. The status is published even when the stop timed
// out, since the run has been canceled either way.
func (c *Controller) Stop() error {
	err := c.sched.Stop()
	c.publishScheduler()
	return err
}

func (c *Controller) publishScheduler() {
	if c.notify != nil {
		c.notify(c.sched.Status())
	}
}

// readingView is a Reading as shown to status clients.
type readingView struct {
	RunID   string    `json:"run_id"`
	Tick    uint64    `json:"tick"`
	Index   int       `json:"index"`
	Raw     int32     `json:"raw"`
	Volume  float64   `json:"volume"`
	Applied bool      `json:"applied"`
	Stage   string    `json:"stage,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

func viewReading(rd scheduler.Reading) readingView {
	v := readingView{
		RunID:   rd.RunID,
		Tick:    rd.Tick,
		Index:   rd.Index,
		Raw:     rd.Raw,
		Volume:  rd.Volume,
		Applied: rd.Applied,
		Stage:   string(rd.Stage),
		At:      rd.At,
	}
	if rd.Err != nil {
		v.Error = rd.Err.Error()
	}
	return v
}

type bindingStatus struct {
	Index   int             `json:"index"`
	Binding binding.Binding `json:"binding"`
	Last    *readingView    `json:"last,omitempty"`
}

// dspStatus is what CamillaDSP reported when status was taken. A failed
// query leaves its field empty and sets Error.
type dspStatus struct {
	State    string   `json:"state,omitempty"`
	VolumeDB *float64 `json:"volume_db,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type statusReport struct {
	Scheduler    scheduler.Status `json:"scheduler"`
	BindingsFile string           `json:"bindings_file"`
	CamillaDSP   *dspStatus       `json:"camilladsp,omitempty"`
	Bindings     []bindingStatus  `json:"bindings"`
}

// Status reports the scheduler state and, per binding, the last reading
// taken for that exact binding.
func (c *Controller) Status() statusReport {
	set := c.store.Snapshot()
	rep := statusReport{
		Scheduler:    c.sched.Status(),
		BindingsFile: c.path,
		Bindings:     make([]bindingStatus, 0, len(set)),
	}
	for i, b := range set {
		bs := bindingStatus{Index: i, Binding: b}
		if rd, ok := c.board.get(i); ok && rd.Binding == b {
			v := viewReading(rd)
			bs.Last = &v
		}
		rep.Bindings = append(rep.Bindings, bs)
	}
	if c.dsp != nil {
		rep.CamillaDSP = c.dspStatus()
	}
	return rep
}

func (c *Controller) dspStatus() *dspStatus {
	var (
		st   dspStatus
		errs []error
	)
	state, err := c.dsp.GetState()
	if err != nil {
		errs = append(errs, err)
	} else {
		st.State = state
	}
	vol, err := c.dsp.GetVolume()
	if err != nil {
		errs = append(errs, err)
	} else {
		st.VolumeDB = &vol
	}
	if err := errors.Join(errs...); err != nil {
		st.Error = err.Error()
		c.logger.Debug("CamillaDSP status unavailable", "error", err)
	}
	return &st
}

func (c *Controller) Devices(ctx context.Context) ([]device.Info, error) {
	if c.devices == nil {
		return nil, errors.New("device enumeration not available")
	}
	return c.devices.Devices(ctx)
}

// Targets lists bindable targets. A backend failure still yields whatever
// could be listed (at least the system sentinel).
func (c *Controller) Targets(ctx context.Context) ([]target.Info, error) {
	if c.targets == nil {
		return []target.Info{target.SystemInfo()}, nil
	}
	list, err := c.targets.Targets(ctx)
	if err != nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("list targets: %w", err)
		}
		c.logger.Warn("target enumeration incomplete", "error", err)
	}
	return list, nil
}

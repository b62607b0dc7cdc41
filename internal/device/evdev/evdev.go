// Package evdev samples joystick axes through the Linux evdev interface.
//
// Devices are addressed by their /dev/input/by-id link name, which udev
// derives from the vendor, product and serial and therefore survives
// re-plugging and reboots, unlike eventN numbers.
//
// Axis values are read with the EVIOCGABS ioctl, which returns the current
// absolute position without consuming the event stream, so a device can be
// opened, sampled and closed on every poll.
package evdev

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"joyvol/internal/binding"
	"joyvol/internal/device"
)

// Linux absolute axis codes (from <linux/input-event-codes.h>) in sample
// order. The two sliders are reported by most HID sticks as throttle/rudder.
const (
	absX        = 0x00
	absY        = 0x01
	absZ        = 0x02
	absRX       = 0x03
	absRY       = 0x04
	absRZ       = 0x05
	absThrottle = 0x06
	absRudder   = 0x07

	absCnt = 0x40 // ABS_CNT
)

var axisCodes = [binding.NumAxes]uint{absX, absY, absZ, absRX, absRY, absRZ, absThrottle, absRudder}

// Defaults for Config.
const (
	DefaultByIDDir = "/dev/input/by-id"
	DefaultPattern = "*-event-joystick"
)

// absInfo mirrors struct input_absinfo.
type absInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

// ops is the slice of the kernel interface this package needs.
type ops interface {
	open(path string) (int, error)
	close(fd int) error
	name(fd int) (string, error)
	absBits(fd int) ([absCnt / 8]byte, error)
	absInfo(fd int, code uint) (absInfo, error)
}

// Config selects where devices are looked up.
type Config struct {
	ByIDDir string // directory of stable device links
	Pattern string // glob for joystick links inside ByIDDir
}

// Sampler implements device.Sampler and device.Enumerator for evdev.
type Sampler struct {
	dir     string
	pattern string
	sys     ops
	logger  *slog.Logger
}

// New returns a Sampler. Zero Config fields take the package defaults.
func New(cfg Config, logger *slog.Logger) *Sampler {
	if cfg.ByIDDir == "" {
		cfg.ByIDDir = DefaultByIDDir
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sampler{
		dir:     cfg.ByIDDir,
		pattern: cfg.Pattern,
		sys:     sysOps{},
		logger:  logger,
	}
}

// path maps a device ref onto a device node. Absolute refs are used as-is.
func (s *Sampler) path(id string) string {
	if filepath.IsAbs(id) {
		return id
	}
	return filepath.Join(s.dir, id)
}

// Acquire opens the device for sampling.
func (s *Sampler) Acquire(_ context.Context, id string) (device.Handle, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty device ref", device.ErrDeviceUnavailable)
	}
	p := s.path(id)
	fd, err := s.sys.open(p)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", device.ErrDeviceUnavailable, p, err)
	}
	return &handle{fd: fd, path: p, sys: s.sys}, nil
}

// Devices lists attached joysticks. Each call re-reads the by-id directory.
func (s *Sampler) Devices(_ context.Context) ([]device.Info, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", s.pattern, err)
	}
	sort.Strings(matches)

	out := make([]device.Info, 0, len(matches))
	for _, m := range matches {
		info := device.Info{ID: filepath.Base(m), Name: filepath.Base(m)}

		fd, err := s.sys.open(m)
		if err != nil {
			s.logger.Debug("cannot open input device", "path", m, "error", err)
			out = append(out, info)
			continue
		}
		if name, err := s.sys.name(fd); err == nil && name != "" {
			info.Name = name
		}
		info.Axes = s.axes(fd)
		_ = s.sys.close(fd)

		out = append(out, info)
	}
	return out, nil
}

func (s *Sampler) axes(fd int) []device.AxisInfo {
	bits, err := s.sys.absBits(fd)
	if err != nil {
		return nil
	}
	var out []device.AxisInfo
	for _, a := range binding.Axes() {
		code := axisCodes[a]
		if !bitSet(bits[:], code) {
			continue
		}
		ai, err := s.sys.absInfo(fd, code)
		if err != nil {
			continue
		}
		out = append(out, device.AxisInfo{Axis: a, Min: ai.Minimum, Max: ai.Maximum})
	}
	return out
}

func bitSet(bits []byte, n uint) bool {
	i := n / 8
	if int(i) >= len(bits) {
		return false
	}
	return bits[i]&(1<<(n%8)) != 0
}

type handle struct {
	fd     int
	path   string
	sys    ops
	closed bool
}

// Sample reads every channel. Any kernel error means the device went away.
func (h *handle) Sample() (device.Sample, error) {
	var smp device.Sample
	if h.closed {
		return smp, fmt.Errorf("%w: %s: handle closed", device.ErrDeviceUnavailable, h.path)
	}

	bits, err := h.sys.absBits(h.fd)
	if err != nil {
		return smp, fmt.Errorf("%w: %s: %v", device.ErrDeviceUnavailable, h.path, err)
	}
	for i, code := range axisCodes {
		if !bitSet(bits[:], code) {
			continue
		}
		ai, err := h.sys.absInfo(h.fd, code)
		if err != nil {
			return smp, fmt.Errorf("%w: %s: %v", device.ErrDeviceUnavailable, h.path, err)
		}
		smp.Values[i] = ai.Value
		smp.Supported[i] = true
	}
	return smp, nil
}

func (h *handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.sys.close(h.fd); err != nil {
		return fmt.Errorf("close %s: %w", h.path, err)
	}
	return nil
}

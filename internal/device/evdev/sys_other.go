//go:build !linux

package evdev

import "errors"

var errUnsupported = errors.New("evdev is only available on linux")

type sysOps struct{}

func (sysOps) open(string) (int, error) { return -1, errUnsupported }

func (sysOps) close(int) error { return errUnsupported }

func (sysOps) name(int) (string, error) { return "", errUnsupported }

func (sysOps) absInfo(int, uint) (absInfo, error) { return absInfo{}, errUnsupported }

func (sysOps) absBits(int) ([absCnt / 8]byte, error) { return [absCnt / 8]byte{}, errUnsupported }

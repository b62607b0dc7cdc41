//go:build linux

package evdev

import (
	"bytes"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl request encoding from <asm-generic/ioctl.h>.
const (
	iocRead      = 2
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30

	evType = 'E'
	evAbs  = 0x03 // EV_ABS
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

// eviocgname is EVIOCGNAME(len).
func eviocgname(n int) uintptr { return ioc(iocRead, evType, 0x06, uintptr(n)) }

// eviocgbit is EVIOCGBIT(ev, len).
func eviocgbit(ev, n int) uintptr { return ioc(iocRead, evType, uintptr(0x20+ev), uintptr(n)) }

// eviocgabs is EVIOCGABS(abs).
func eviocgabs(code uint) uintptr {
	return ioc(iocRead, evType, uintptr(0x40+code), unsafe.Sizeof(absInfo{}))
}

type sysOps struct{}

func (sysOps) open(path string) (int, error) {
	return unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
}

func (sysOps) close(fd int) error {
	return unix.Close(fd)
}

func ioctlPtr(fd int, req uintptr, p unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(p))
	if errno != 0 {
		return errno
	}
	return nil
}

func (sysOps) name(fd int) (string, error) {
	var buf [256]byte
	if err := ioctlPtr(fd, eviocgname(len(buf)), unsafe.Pointer(&buf[0])); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf[:], 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf[:]), nil
}

func (sysOps) absBits(fd int) ([absCnt / 8]byte, error) {
	var bits [absCnt / 8]byte
	err := ioctlPtr(fd, eviocgbit(evAbs, len(bits)), unsafe.Pointer(&bits[0]))
	return bits, err
}

func (sysOps) absInfo(fd int, code uint) (absInfo, error) {
	var ai absInfo
	err := ioctlPtr(fd, eviocgabs(code), unsafe.Pointer(&ai))
	return ai, err
}

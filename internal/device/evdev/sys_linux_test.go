//go:build linux

package evdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIoctlNumbers(t *testing.T) {
	// Request numbers as the kernel headers define them.
	assert.Equal(t, uintptr(0x80184540), eviocgabs(absX))
	assert.Equal(t, uintptr(0x80184547), eviocgabs(absRudder))
	assert.Equal(t, uintptr(0x80084523), eviocgbit(evAbs, absCnt/8))
	assert.Equal(t, uintptr(0x81004506), eviocgname(256))
}

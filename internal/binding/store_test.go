package binding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBinding(device string) Binding {
	return Binding{
		DeviceRef: device,
		Axis:      AxisZ,
		AxisMin:   -32768,
		AxisMax:   32767,
		VolMin:    0,
		VolMax:    1,
		TargetRef: "exe:spotify",
	}
}

func TestBinding_Validate(t *testing.T) {
	valid := testBinding("usb-Logitech_Extreme_3D-event-joystick")
	require.NoError(t, valid.Validate())

	cases := []struct {
		name    string
		mutate  func(*Binding)
		wantErr error
	}{
		{"equal axis bounds", func(b *Binding) { b.AxisMax = b.AxisMin }, ErrInvalidRange},
		{"equal volume bounds", func(b *Binding) { b.VolMax = b.VolMin }, ErrInvalidRange},
		{"volume above one", func(b *Binding) { b.VolMax = 1.5 }, ErrInvalidRange},
		{"negative volume", func(b *Binding) { b.VolMin = -0.1 }, ErrInvalidRange},
		{"unknown axis", func(b *Binding) { b.Axis = Axis(8) }, ErrUnknownAxis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := valid
			tc.mutate(&b)
			assert.ErrorIs(t, b.Validate(), tc.wantErr)
		})
	}

	b := valid
	b.DeviceRef = "  "
	assert.Error(t, b.Validate())
	b = valid
	b.TargetRef = ""
	assert.Error(t, b.Validate())
}

func TestBinding_InvertedRangesAreValid(t *testing.T) {
	b := testBinding("dev")
	b.AxisMin, b.AxisMax = 1023, 0
	b.VolMin, b.VolMax = 1, 0
	assert.NoError(t, b.Validate())
}

func TestParseAxis(t *testing.T) {
	for _, a := range Axes() {
		got, err := ParseAxis(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	got, err := ParseAxis("slider1")
	require.NoError(t, err)
	assert.Equal(t, AxisSlider1, got)

	_, err = ParseAxis("W")
	assert.ErrorIs(t, err, ErrUnknownAxis)
}

func TestStore_AddRejectsInvalidRangeAndLeavesStoreUnchanged(t *testing.T) {
	s, err := NewStore(testBinding("a"))
	require.NoError(t, err)
	before := s.List()

	bad := testBinding("b")
	bad.AxisMax = bad.AxisMin
	assert.ErrorIs(t, s.Add(bad), ErrInvalidRange)

	bad = testBinding("c")
	bad.VolMax = bad.VolMin
	assert.ErrorIs(t, s.Add(bad), ErrInvalidRange)

	assert.Equal(t, before, s.List())
}

func TestStore_AddRemoveReplace(t *testing.T) {
	s, err := NewStore()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())

	require.NoError(t, s.Add(testBinding("a")))
	require.NoError(t, s.Add(testBinding("b")))
	require.NoError(t, s.Add(testBinding("c")))

	repl := testBinding("B")
	repl.Axis = AxisSlider0
	require.NoError(t, s.Replace(1, repl))

	got := s.List()
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].DeviceRef)
	assert.Equal(t, repl, got[1])
	assert.Equal(t, "c", got[2].DeviceRef)

	require.NoError(t, s.Remove(0))
	got = s.List()
	require.Len(t, got, 2)
	assert.Equal(t, "B", got[0].DeviceRef)
	assert.Equal(t, "c", got[1].DeviceRef)

	assert.ErrorIs(t, s.Remove(2), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Remove(-1), ErrIndexOutOfRange)
	assert.ErrorIs(t, s.Replace(5, testBinding("x")), ErrIndexOutOfRange)
}

func TestStore_ReplaceValidatesBeforeIndex(t *testing.T) {
	s, err := NewStore(testBinding("a"))
	require.NoError(t, err)

	bad := testBinding("z")
	bad.VolMin, bad.VolMax = 0.5, 0.5
	assert.ErrorIs(t, s.Replace(0, bad), ErrInvalidRange)
	assert.Equal(t, "a", s.List()[0].DeviceRef)
}

func TestStore_SnapshotIsStableAcrossEdits(t *testing.T) {
	s, err := NewStore(testBinding("a"), testBinding("b"))
	require.NoError(t, err)

	snap := s.Snapshot()
	require.NoError(t, s.Replace(0, testBinding("x")))
	require.NoError(t, s.Remove(1))
	require.NoError(t, s.Add(testBinding("y")))

	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].DeviceRef)
	assert.Equal(t, "b", snap[1].DeviceRef)
}

func TestStore_ListIsPrivateCopy(t *testing.T) {
	s, err := NewStore(testBinding("a"))
	require.NoError(t, err)

	l := s.List()
	l[0].DeviceRef = "mutated"
	assert.Equal(t, "a", s.Snapshot()[0].DeviceRef)
}

func TestStore_ReplaceAllIsAllOrNothing(t *testing.T) {
	s, err := NewStore(testBinding("a"))
	require.NoError(t, err)

	bad := testBinding("b")
	bad.AxisMin, bad.AxisMax = 3, 3
	err = s.ReplaceAll(Set{testBinding("x"), bad})
	assert.ErrorIs(t, err, ErrInvalidRange)
	assert.Equal(t, "a", s.List()[0].DeviceRef)

	require.NoError(t, s.ReplaceAll(Set{testBinding("x"), testBinding("y")}))
	assert.Equal(t, 2, s.Len())
}

// Every binding written by the control side carries matching fields, so a
// reader that observes a half-updated binding sees a mismatch.
func consistentBinding(n int) Binding {
	return Binding{
		DeviceRef: "dev",
		Axis:      Axis(n % NumAxes),
		AxisMin:   int32(n),
		AxisMax:   int32(n) + 1000,
		VolMin:    float64(n%100) / 1000,
		VolMax:    float64(n%100)/1000 + 0.5,
		TargetRef: "pid:" + string(rune('a'+n%26)),
	}
}

func checkConsistent(t *testing.T, b Binding) bool {
	n := int(b.AxisMin)
	want := consistentBinding(n)
	return assert.Equal(t, want, b)
}

func TestStore_ConcurrentSnapshotsNeverTorn(t *testing.T) {
	s, err := NewStore(consistentBinding(0))
	require.NoError(t, err)

	const iterations = 5000
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, b := range s.Snapshot() {
					if !checkConsistent(t, b) {
						return
					}
				}
			}
		}()
	}

	for i := 1; i <= iterations; i++ {
		require.NoError(t, s.Add(consistentBinding(i)))
		if s.Len() > 8 {
			require.NoError(t, s.Remove(0))
		}
		if i%3 == 0 {
			require.NoError(t, s.Replace(s.Len()-1, consistentBinding(i+iterations)))
		}
	}
	close(stop)
	wg.Wait()
}

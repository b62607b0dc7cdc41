package binding

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fiveBindings() Set {
	return Set{
		{DeviceRef: "usb-Thrustmaster_TWCS_Throttle-event-joystick", Axis: AxisZ, AxisMin: 0, AxisMax: 65535, VolMin: 0, VolMax: 1, TargetRef: "system"},
		{DeviceRef: "usb-Logitech_Extreme_3D_Pro-event-joystick", Axis: AxisSlider0, AxisMin: 255, AxisMax: 0, VolMin: 0.1, VolMax: 0.9, TargetRef: "exe:firefox"},
		{DeviceRef: "/dev/input/event17", Axis: AxisRz, AxisMin: -32768, AxisMax: 32767, VolMin: 1, VolMax: 0, TargetRef: "pid:4242"},
		{DeviceRef: "dev: with \"quotes\", commas # and hashes", Axis: AxisRx, AxisMin: -1, AxisMax: 1, VolMin: 0.333333333333, VolMax: 0.6666666667, TargetRef: "exe:My App\nSecond line"},
		{DeviceRef: "usb-VKB_Gladiator-event-joystick", Axis: AxisSlider1, AxisMin: -2147483648, AxisMax: 2147483647, VolMin: 0.05, VolMax: 0.95, TargetRef: "exe:mpv"},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	cases := map[string]Set{
		"empty":    {},
		"single":   fiveBindings()[:1],
		"multiple": fiveBindings(),
	}

	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := Marshal(set)
			require.NoError(t, err)

			res, err := Unmarshal(data)
			require.NoError(t, err)
			assert.Empty(t, res.Skipped)
			assert.Equal(t, set, res.Set)
		})
	}
}

func TestCodec_MarshalNilSet(t *testing.T) {
	data, err := Marshal(nil)
	require.NoError(t, err)

	res, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Empty(t, res.Set)
}

func TestCodec_WritesAxisNames(t *testing.T) {
	data, err := Marshal(fiveBindings()[1:2])
	require.NoError(t, err)
	assert.Contains(t, string(data), "axis: Slider0")
	assert.Contains(t, string(data), "version: 1")
}

func TestCodec_SkipsMalformedEntries(t *testing.T) {
	doc := `version: 1
bindings:
  - device: first
    axis: X
    axis_min: 0
    axis_max: 255
    vol_min: 0
    vol_max: 1
    target: system
  - device: bad-axis
    axis: W
    axis_min: 0
    axis_max: 255
    vol_min: 0
    vol_max: 1
    target: system
  - device: missing-target
    axis: Y
    axis_min: 0
    axis_max: 255
    vol_min: 0
    vol_max: 1
  - device: equal-range
    axis: Y
    axis_min: 10
    axis_max: 10
    vol_min: 0
    vol_max: 1
    target: system
  - device: not-a-number
    axis: Y
    axis_min: lots
    axis_max: 255
    vol_min: 0
    vol_max: 1
    target: system
  - device: overflow
    axis: Y
    axis_min: 0
    axis_max: 99999999999
    vol_min: 0
    vol_max: 1
    target: system
  - just a string
  - device: last
    axis: rz
    axis_min: 1023
    axis_max: 0
    vol_min: 0.25
    vol_max: 0.75
    target: "exe:vlc"
`
	res, err := Unmarshal([]byte(doc))
	require.NoError(t, err)

	require.Len(t, res.Set, 2)
	assert.Equal(t, "first", res.Set[0].DeviceRef)
	assert.Equal(t, "last", res.Set[1].DeviceRef)
	assert.Equal(t, AxisRz, res.Set[1].Axis)

	require.Len(t, res.Skipped, 6)
	var idx []int
	for _, s := range res.Skipped {
		idx = append(idx, s.Index)
		assert.ErrorIs(t, s, ErrPersistenceCorrupt)
		assert.Greater(t, s.Line, 0)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, idx)
	assert.ErrorIs(t, res.Skipped[2].Err, ErrInvalidRange)
}

func TestCodec_AcceptsBareSequence(t *testing.T) {
	doc := `- {device: d, axis: Z, axis_min: -100, axis_max: 100, vol_min: 0, vol_max: 0.5, target: system}`
	res, err := Unmarshal([]byte(doc))
	require.NoError(t, err)
	require.Len(t, res.Set, 1)
	assert.Equal(t, 0.5, res.Set[0].VolMax)
}

func TestCodec_EmptyInputs(t *testing.T) {
	for _, doc := range []string{"", "   \n", "version: 1\n", "version: 1\nbindings:\n", "# only a comment\n"} {
		res, err := Unmarshal([]byte(doc))
		require.NoError(t, err, "doc=%q", doc)
		assert.Empty(t, res.Set)
		assert.Empty(t, res.Skipped)
	}
}

func TestCodec_UnusableDocument(t *testing.T) {
	for _, doc := range []string{
		"bindings: [unterminated",
		"just a scalar",
		"bindings: {device: x}",
		"version: 99\nbindings: []\n",
	} {
		_, err := Unmarshal([]byte(doc))
		assert.ErrorIs(t, err, ErrPersistenceCorrupt, "doc=%q", doc)
	}
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bindings.yaml")

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	set := fiveBindings()
	require.NoError(t, SaveFile(path, set))

	res, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, set, res.Set)

	// Overwrite leaves no temp files behind.
	require.NoError(t, SaveFile(path, set[:2]))
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, strings.HasPrefix(entries[0].Name(), ".bindings-"))

	res, err = LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, set[:2], res.Set)
}

package binding

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// formatVersion is written into every saved document.
const formatVersion = 1

// document is the on-disk layout of a binding set.
type document struct {
	Version  int       `yaml:"version"`
	Bindings []Binding `yaml:"bindings"`
}

// entry mirrors Binding with every field optional so a load can tell a
// missing field apart from a zero value.
type entry struct {
	DeviceRef *string  `yaml:"device"`
	Axis      *string  `yaml:"axis"`
	AxisMin   *int32   `yaml:"axis_min"`
	AxisMax   *int32   `yaml:"axis_max"`
	VolMin    *float64 `yaml:"vol_min"`
	VolMax    *float64 `yaml:"vol_max"`
	TargetRef *string  `yaml:"target"`
}

// EntryError describes one persisted entry that was skipped during a load.
type EntryError struct {
	Index int // position in the persisted sequence
	Line  int // 1-based line of the entry in the source, 0 if unknown
	Err   error
}

func (e EntryError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("entry %d (line %d): %v", e.Index, e.Line, e.Err)
	}
	return fmt.Sprintf("entry %d: %v", e.Index, e.Err)
}

func (e EntryError) Unwrap() error { return e.Err }

// LoadResult is the outcome of a tolerant load.
type LoadResult struct {
	Set     Set          // successfully parsed bindings, in persisted order
	Skipped []EntryError // entries that could not be used
}

// Marshal serializes set as a YAML document. Free-text fields are quoted
// and escaped by the encoder, so refs may contain any characters.
func Marshal(set Set) ([]byte, error) {
	doc := document{Version: formatVersion, Bindings: set}
	if doc.Bindings == nil {
		doc.Bindings = Set{}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode bindings yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode bindings yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a binding document tolerantly: each entry is decoded and
// validated on its own, malformed entries are reported in Skipped, and the
// remaining entries keep their order.
//
// An error is returned only when the document as a whole is unusable (not
// YAML, wrong shape, unsupported version); it wraps ErrPersistenceCorrupt.
func Unmarshal(data []byte) (LoadResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return LoadResult{Set: Set{}}, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return LoadResult{}, fmt.Errorf("%w: %v", ErrPersistenceCorrupt, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return LoadResult{Set: Set{}}, nil
	}

	seq, err := bindingsNode(root.Content[0])
	if err != nil {
		return LoadResult{}, err
	}

	res := LoadResult{Set: Set{}}
	if seq == nil {
		return res, nil
	}
	for i, item := range seq.Content {
		b, err := decodeEntry(item)
		if err != nil {
			res.Skipped = append(res.Skipped, EntryError{
				Index: i,
				Line:  item.Line,
				Err:   fmt.Errorf("%w: %w", ErrPersistenceCorrupt, err),
			})
			continue
		}
		res.Set = append(res.Set, b)
	}
	return res, nil
}

// bindingsNode locates the sequence of entries. A bare top-level sequence
// is accepted as well as the versioned mapping written by Marshal.
func bindingsNode(top *yaml.Node) (*yaml.Node, error) {
	switch top.Kind {
	case yaml.SequenceNode:
		return top, nil
	case yaml.MappingNode:
	default:
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrPersistenceCorrupt)
	}

	var seq *yaml.Node
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i], top.Content[i+1]
		switch key.Value {
		case "version":
			var v int
			if err := val.Decode(&v); err != nil {
				return nil, fmt.Errorf("%w: version: %v", ErrPersistenceCorrupt, err)
			}
			if v > formatVersion {
				return nil, fmt.Errorf("%w: unsupported version %d", ErrPersistenceCorrupt, v)
			}
		case "bindings":
			if val.ShortTag() == "!!null" {
				continue
			}
			if val.Kind != yaml.SequenceNode {
				return nil, fmt.Errorf("%w: bindings must be a sequence", ErrPersistenceCorrupt)
			}
			seq = val
		}
	}
	return seq, nil
}

func decodeEntry(n *yaml.Node) (Binding, error) {
	if n.Kind != yaml.MappingNode {
		return Binding{}, errors.New("entry is not a mapping")
	}

	var e entry
	if err := n.Decode(&e); err != nil {
		return Binding{}, err
	}

	switch {
	case e.DeviceRef == nil:
		return Binding{}, errors.New("missing device")
	case e.Axis == nil:
		return Binding{}, errors.New("missing axis")
	case e.AxisMin == nil:
		return Binding{}, errors.New("missing axis_min")
	case e.AxisMax == nil:
		return Binding{}, errors.New("missing axis_max")
	case e.VolMin == nil:
		return Binding{}, errors.New("missing vol_min")
	case e.VolMax == nil:
		return Binding{}, errors.New("missing vol_max")
	case e.TargetRef == nil:
		return Binding{}, errors.New("missing target")
	}

	axis, err := ParseAxis(*e.Axis)
	if err != nil {
		return Binding{}, err
	}

	b := Binding{
		DeviceRef: *e.DeviceRef,
		Axis:      axis,
		AxisMin:   *e.AxisMin,
		AxisMax:   *e.AxisMax,
		VolMin:    *e.VolMin,
		VolMax:    *e.VolMax,
		TargetRef: *e.TargetRef,
	}
	if err := b.Validate(); err != nil {
		return Binding{}, err
	}
	return b, nil
}

// SaveFile writes set to path atomically: the document is written to a
// temporary file in the same directory and renamed over path.
func SaveFile(path string, set Set) error {
	data, err := Marshal(set)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bindings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bindings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write bindings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync bindings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close bindings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace bindings file: %w", err)
	}
	return nil
}

// LoadFile reads and tolerantly parses the binding document at path.
// A missing file is reported as an error satisfying errors.Is(err, fs.ErrNotExist).
func LoadFile(path string) (LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadResult{}, fmt.Errorf("read bindings file: %w", err)
	}
	return Unmarshal(data)
}

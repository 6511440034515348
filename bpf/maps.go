package bpf

import (
	"fmt"
	"strings"

	"github.com/cilium/ebpf"
)

// internal data sections which libbpf backs with a single-entry array map
var dataSections = []string{".data", ".rodata", ".bss", ".kconfig"}

// Map is one map defined inside an Object. It is borrowed from the Object and
// stops working once the Object is closed.
type Map struct {
	obj  *Object
	name string
	spec *ebpf.MapSpec
}

// Name returns the map name, e.g. ".rodata" for an internal data map.
func (m *Map) Name() string {
	return m.name
}

// Spec returns the parsed map definition.
func (m *Map) Spec() *ebpf.MapSpec {
	return m.spec
}

// InitialValueSize returns how many bytes ReadInitialValue will copy, so the
// caller can size its buffer.
func (m *Map) InitialValueSize() (int, error) {
	value, err := m.initialValue()
	if err != nil {
		return 0, err
	}

	return len(value), nil
}

// ReadInitialValue copies the compile-time value of an internal data map into
// dst and returns the number of bytes copied. It fails with ErrBufferTooSmall,
// copying nothing, when dst cannot hold the whole value.
func (m *Map) ReadInitialValue(dst []byte) (int, error) {
	value, err := m.initialValue()
	if err != nil {
		return 0, err
	}

	if len(dst) < len(value) {
		return 0, fmt.Errorf("%w: map %s needs %d bytes, got %d", ErrBufferTooSmall, m.name, len(value), len(dst))
	}

	return copy(dst, value), nil
}

// InitialValue returns a copy of the compile-time value of an internal data
// map.
func (m *Map) InitialValue() ([]byte, error) {
	value, err := m.initialValue()
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(value))
	copy(out, value)

	return out, nil
}

func (m *Map) initialValue() ([]byte, error) {
	m.obj.mu.RLock()
	defer m.obj.mu.RUnlock()

	if m.obj.closed {
		return nil, ErrObjectClosed
	}

	if !isDataSection(m.name, m.spec) {
		return nil, fmt.Errorf("%w: %s is not an internal data map", ErrNoInitialValue, m.name)
	}

	// .bss has no contents in the image, it starts out zeroed
	if len(m.spec.Contents) == 0 {
		return make([]byte, m.spec.ValueSize), nil
	}

	value, ok := m.spec.Contents[0].Value.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: %s holds %T", ErrNoInitialValue, m.name, m.spec.Contents[0].Value)
	}

	return value, nil
}

func isDataSection(name string, spec *ebpf.MapSpec) bool {
	if spec.Type != ebpf.Array || spec.MaxEntries != 1 {
		return false
	}

	for _, prefix := range dataSections {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	return false
}

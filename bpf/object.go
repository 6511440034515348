package bpf

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/btf"
	"github.com/tcassar-diss/bpfbridge/bpf/diag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
)

// OpenOptions are optional overrides for Open. The zero value is valid.
type OpenOptions struct {
	// BTFPath points at custom kernel type information used instead of
	// /sys/kernel/btf/vmlinux when the object is loaded.
	BTFPath string
	// KConfigPath points at a kernel config, plain or gzip compressed. Its
	// values are available through Object.KConfig only: .kconfig externs are
	// still resolved against the running kernel when the object is loaded.
	KConfigPath string
	// ObjectName names the object independently of the image contents.
	ObjectName string
}

// Object is a parsed, not yet loaded, bytecode object.
//
// Object only parses. Loading and attaching are done by the caller, either
// through Load or by handing Spec and CollectionOptions to cilium/ebpf.
type Object struct {
	mu      sync.RWMutex
	name    string
	spec    *ebpf.CollectionSpec
	btf     *btf.Spec
	kconfig map[string]string
	maps    map[string]*Map
	loaded  bool
	closed  bool
}

// Open parses a compiled object from buf. buf is only read during the call.
//
// Every failure wraps ErrOpenFailed and carries an OS error code; a
// diagnostic line is emitted before the error is returned.
func Open(buf []byte, opts *OpenOptions) (*Object, error) {
	if opts == nil {
		opts = &OpenOptions{}
	}

	obj, err := open(buf, opts)
	if err != nil {
		diag.Printf(zapcore.WarnLevel, "Failed to open bpf object: %s", strerror(Errno(err)))

		return nil, err
	}

	return obj, nil
}

func open(buf []byte, opts *OpenOptions) (*Object, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("%w: empty object image: %w", ErrOpenFailed, unix.EINVAL)
	}

	spec, err := ebpf.LoadCollectionSpecFromReader(bytes.NewReader(buf))
	if err != nil {
		return nil, wrap(ErrOpenFailed, "failed to parse object image", err, unix.EINVAL)
	}

	obj := newObject(spec)

	obj.name = opts.ObjectName
	if obj.name == "" {
		obj.name = defaultName(buf)
	}

	if opts.BTFPath != "" {
		obj.btf, err = btf.LoadSpec(opts.BTFPath)
		if err != nil {
			return nil, wrap(ErrOpenFailed, fmt.Sprintf("failed to load btf from %s", opts.BTFPath), err, unix.EINVAL)
		}
	}

	if opts.KConfigPath != "" {
		obj.kconfig, err = readKConfig(opts.KConfigPath)
		if err != nil {
			return nil, wrap(ErrOpenFailed, fmt.Sprintf("failed to read kconfig from %s", opts.KConfigPath), err, unix.EINVAL)
		}
	}

	return obj, nil
}

func newObject(spec *ebpf.CollectionSpec) *Object {
	obj := &Object{
		spec: spec,
		maps: make(map[string]*Map, len(spec.Maps)),
	}

	for name, ms := range spec.Maps {
		obj.maps[name] = &Map{
			obj:  obj,
			name: name,
			spec: ms,
		}
	}

	return obj
}

// defaultName derives a name from the image, since a memory-opened object has
// no file name to go by.
func defaultName(buf []byte) string {
	return fmt.Sprintf("%x-%x", xxhash.Sum64(buf), len(buf))
}

// Name returns the object name.
func (o *Object) Name() string {
	return o.name
}

// Spec returns the parsed collection. It is shared, not copied.
func (o *Object) Spec() *ebpf.CollectionSpec {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.spec
}

// KernelTypes returns the custom BTF given at open time, or nil.
func (o *Object) KernelTypes() *btf.Spec {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.btf
}

// KConfig looks up a CONFIG_ value from the kernel config given at open
// time. Options which are "not set" read as "n".
func (o *Object) KConfig(name string) (string, bool) {
	v, ok := o.kconfig[name]

	return v, ok
}

// Maps returns the names of all maps defined in the object, sorted.
func (o *Object) Maps() []string {
	names := make([]string, 0, len(o.maps))
	for name := range o.maps {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Map returns the map called name. The Map must not be used once the object
// is closed.
func (o *Object) Map(name string) (*Map, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return nil, ErrObjectClosed
	}

	m, ok := o.maps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMapNotFound, name)
	}

	return m, nil
}

// CollectionOptions returns the options matching what was given to Open.
func (o *Object) CollectionOptions() ebpf.CollectionOptions {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.collectionOptions()
}

func (o *Object) collectionOptions() ebpf.CollectionOptions {
	return ebpf.CollectionOptions{
		Programs: ebpf.ProgramOptions{
			KernelTypes: o.btf,
		},
	}
}

// Load loads the object into the kernel. The returned collection belongs to
// the caller.
func (o *Object) Load() (*ebpf.Collection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrObjectClosed
	}

	coll, err := ebpf.NewCollectionWithOptions(o.spec, o.collectionOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load object %s: %w", o.name, err)
	}

	o.loaded = true

	return coll, nil
}

// Loaded reports whether Load succeeded.
func (o *Object) Loaded() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.loaded
}

// Close releases the object. Maps obtained from it stop working.
func (o *Object) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	o.spec = nil
	o.btf = nil

	return nil
}

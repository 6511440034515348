package bpf

import (
	"time"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

// NoCPU is passed as the CPU index for ring buffer events, which are not
// per-CPU.
const NoCPU = -1

// RingCallback receives one ring buffer event. data is only valid until the
// callback returns.
type RingCallback func(tok Token, data []byte)

// PerfCallback receives one perf buffer event produced on cpu. data is only
// valid until the callback returns.
type PerfCallback func(tok Token, cpu int, data []byte)

// LostCallback is told that the kernel dropped lost events on cpu because
// the buffer was full. This is backpressure, not an error.
type LostCallback func(tok Token, cpu int, lost uint64)

// PerfCallbacks are the entry points of a perf buffer channel. Lost may be
// nil, in which case loss notifications are only counted.
type PerfCallbacks struct {
	Sample PerfCallback
	Lost   LostCallback
}

// dupMap opens the map behind fd through a private duplicate, so the caller
// keeps sole ownership of fd.
func dupMap(fd int) (*ebpf.Map, error) {
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	// NewMapFromFD closes dup on failure
	return ebpf.NewMapFromFD(dup)
}

// deadline turns a poll timeout into a reader deadline: negative blocks until
// something arrives, zero does not wait at all.
func deadline(timeout time.Duration) time.Time {
	if timeout < 0 {
		return time.Time{}
	}

	return time.Now().Add(timeout)
}

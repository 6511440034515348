package bpf

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/tcassar-diss/bpfbridge/bpf/diag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
)

// RingBufferChannel delivers the events of a BPF ring buffer map to a
// callback, in the order the kernel committed them.
type RingBufferChannel struct {
	token Token
	cb    RingCallback

	mu      sync.Mutex // held for the whole of Poll
	closing atomic.Bool
	closed  bool
	m       *ebpf.Map
	rd      *ringbuf.Reader
	rec     ringbuf.Record
	stats   counters
}

// NewRingBufferChannel subscribes to the ring buffer map behind mapFD. The
// channel must be closed before the caller closes mapFD.
func NewRingBufferChannel(mapFD int, token Token, cb RingCallback) (*RingBufferChannel, error) {
	if cb == nil {
		return nil, ringInitErr(fmt.Errorf("nil callback: %w", unix.EINVAL))
	}

	m, err := dupMap(mapFD)
	if err != nil {
		return nil, ringInitErr(err)
	}

	rd, err := ringbuf.NewReader(m)
	if err != nil {
		m.Close()

		return nil, ringInitErr(err)
	}

	return &RingBufferChannel{
		token: token,
		cb:    cb,
		m:     m,
		rd:    rd,
	}, nil
}

func ringInitErr(err error) error {
	diag.Printf(zapcore.WarnLevel, "Failed to initialize ring buffer: %s", strerror(errnoOr(err, unix.EINVAL)))

	return wrap(ErrChannelInitFailed, "ring buffer", err, unix.EINVAL)
}

// Token returns the token given at creation.
func (c *RingBufferChannel) Token() Token {
	return c.token
}

// Poll waits up to timeout for events, then drains everything available
// without waiting again. A negative timeout waits indefinitely. The callback
// runs on the calling goroutine once per event; Poll returns how many times
// it ran.
func (c *RingBufferChannel) Poll(timeout time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrChannelClosed
	}

	c.stats.polls.Add(1)
	c.rd.SetDeadline(deadline(timeout))

	n := 0

	for {
		err := c.rd.ReadInto(&c.rec)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return n, nil
		} else if errors.Is(err, ringbuf.ErrClosed) {
			return n, ErrChannelClosed
		} else if err != nil {
			return n, fmt.Errorf("failed to read from ring buffer: %w", err)
		}

		c.cb(c.token, c.rec.RawSample)
		c.stats.events.Add(1)
		n++

		// only the first event is waited for
		c.rd.SetDeadline(time.Now())
	}
}

// Stats returns what the channel delivered so far.
func (c *RingBufferChannel) Stats() Stats {
	return c.stats.snapshot()
}

// Close tears the subscription down. A Poll blocked in the kernel is woken
// and Close waits for it to return, so no callback runs after Close.
func (c *RingBufferChannel) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	rdErr := c.rd.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return errors.Join(rdErr, c.m.Close())
}

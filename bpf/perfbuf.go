package bpf

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
	"github.com/tcassar-diss/bpfbridge/bpf/diag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
)

// PerfBufferChannel delivers the events of a BPF perf event array to
// callbacks. Each CPU has its own buffer; events and loss notifications of
// different CPUs are not ordered relative to each other.
type PerfBufferChannel struct {
	token Token
	cb    PerfCallbacks

	mu      sync.Mutex // held for the whole of Poll
	closing atomic.Bool
	closed  bool
	m       *ebpf.Map
	rd      *perf.Reader
	rec     perf.Record
	stats   counters
}

// NewPerfBufferChannel subscribes to the perf event array behind mapFD with
// pageCount pages of buffer per CPU. pageCount must be a power of two. The
// channel must be closed before the caller closes mapFD.
func NewPerfBufferChannel(mapFD, pageCount int, token Token, cb PerfCallbacks) (*PerfBufferChannel, error) {
	if cb.Sample == nil {
		return nil, perfInitErr(fmt.Errorf("nil sample callback: %w", unix.EINVAL))
	}

	if pageCount <= 0 || pageCount&(pageCount-1) != 0 {
		return nil, perfInitErr(fmt.Errorf("page count should be power of two, but is %d: %w", pageCount, unix.EINVAL))
	}

	m, err := dupMap(mapFD)
	if err != nil {
		return nil, perfInitErr(err)
	}

	rd, err := perf.NewReader(m, pageCount*os.Getpagesize())
	if err != nil {
		m.Close()

		return nil, perfInitErr(err)
	}

	return &PerfBufferChannel{
		token: token,
		cb:    cb,
		m:     m,
		rd:    rd,
	}, nil
}

func perfInitErr(err error) error {
	diag.Printf(zapcore.WarnLevel, "Failed to initialize perf buffer: %s", strerror(errnoOr(err, unix.EINVAL)))

	return wrap(ErrChannelInitFailed, "perf buffer", err, unix.EINVAL)
}

// Token returns the token given at creation.
func (c *PerfBufferChannel) Token() Token {
	return c.token
}

// Poll waits up to timeout for events, then drains everything available
// without waiting again. A negative timeout waits indefinitely. Callbacks run
// on the calling goroutine, one per event and one per loss notification; Poll
// returns how many ran.
func (c *PerfBufferChannel) Poll(timeout time.Duration) (int, error) {
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
		} else if errors.Is(err, perf.ErrClosed) {
			return n, ErrChannelClosed
		} else if err != nil {
			return n, fmt.Errorf("failed to read from perf buffer: %w", err)
		}

		// only the first record is waited for
		c.rd.SetDeadline(time.Now())

		if c.rec.LostSamples > 0 {
			c.stats.lostNotifications.Add(1)
			c.stats.lostSamples.Add(c.rec.LostSamples)

			if c.cb.Lost != nil {
				c.cb.Lost(c.token, c.rec.CPU, c.rec.LostSamples)
				n++
			}

			continue
		}

		c.cb.Sample(c.token, c.rec.CPU, c.rec.RawSample)
		c.stats.events.Add(1)
		n++
	}
}

// Stats returns what the channel delivered so far.
func (c *PerfBufferChannel) Stats() Stats {
	return c.stats.snapshot()
}

// Close tears the subscription down. A Poll blocked in the kernel is woken
// and Close waits for it to return, so no callback runs after Close.
func (c *PerfBufferChannel) Close() error {
	if !c.closing.CompareAndSwap(false, true) {
		return nil
	}

	rdErr := c.rd.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return errors.Join(rdErr, c.m.Close())
}

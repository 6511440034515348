package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cilium/ebpf"
	"github.com/tcassar-diss/bpfbridge/bpf"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// lossLogInterval bounds how often a channel warns about dropped events.
const lossLogInterval = time.Second

// channel is the bridge's event channel, whichever the variant.
type channel interface {
	Token() bpf.Token
	Poll(timeout time.Duration) (int, error)
	Stats() bpf.Stats
	Close() error
}

// listener forwards the events of one channel to the output.
type listener struct {
	logger  *zap.SugaredLogger
	name    string
	out     Output
	limiter *rate.Limiter

	// first write error, only touched from the polling goroutine
	err error
}

func newListener(logger *zap.SugaredLogger, name string, out Output) *listener {
	return &listener{
		logger:  logger,
		name:    name,
		out:     out,
		limiter: rate.NewLimiter(rate.Every(lossLogInterval), 1),
	}
}

func (l *listener) HandleEvent(cpu int, data []byte) {
	if l.err != nil {
		return
	}

	// data is only valid during the callback
	l.err = l.out.Write(&Event{
		Channel: l.name,
		CPU:     cpu,
		Data:    append([]byte(nil), data...),
	})
}

func (l *listener) HandleLost(cpu int, lost uint64) {
	if l.limiter.Allow() {
		l.logger.Warnw("events lost", "channel", l.name, "cpu", cpu, "lost", lost)
	}

	if l.err != nil {
		return
	}

	l.err = l.out.Write(&Event{
		Channel: l.name,
		CPU:     cpu,
		Lost:    lost,
	})
}

// Listen subscribes to every channel in cfg and writes their events to w
// until ctx is done or a channel fails.
func Listen(ctx context.Context, logger *zap.SugaredLogger, cfg *ListenCfg, w io.Writer) error {
	out, err := NewOutput(cfg.Format, w)
	if err != nil {
		return err
	}

	router := bpf.NewRouter(len(cfg.Channels))

	channels := make([]channel, 0, len(cfg.Channels))
	listeners := make([]*listener, 0, len(cfg.Channels))

	defer func() {
		for i, ch := range channels {
			if err := ch.Close(); err != nil {
				logger.Warnw("failed to close channel", "channel", cfg.Channels[i].Name, "err", err)
			}

			router.Unregister(ch.Token())

			logger.Infow("channel stats", "channel", cfg.Channels[i].Name, "stats", ch.Stats())
		}
	}()

	for _, chCfg := range cfg.Channels {
		l := newListener(logger, chCfg.Name, out)

		ch, err := openChannel(router, &chCfg, l)
		if err != nil {
			return fmt.Errorf("failed to open channel %s: %w", chCfg.Name, err)
		}

		channels = append(channels, ch)
		listeners = append(listeners, l)

		logger.Infow("listening", "channel", chCfg.Name, "kind", chCfg.Kind, "pin", chCfg.Pin)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	for i, ch := range channels {
		l := listeners[i]

		eg.Go(func() error {
			return poll(egCtx, ch, l, cfg.PollTimeout)
		})
	}

	err = eg.Wait()

	if flushErr := out.Flush(); err == nil {
		err = flushErr
	}

	return err
}

// openChannel opens the pinned map of cfg and subscribes to it.
func openChannel(router *bpf.Router, cfg *ChannelCfg, l *listener) (channel, error) {
	m, err := ebpf.LoadPinnedMap(cfg.Pin, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load pinned map: %w", err)
	}
	// the channel holds its own reference to the map
	defer m.Close()

	tok, err := router.Register(l)
	if err != nil {
		return nil, err
	}

	var ch channel

	switch cfg.Kind {
	case KindRingbuf:
		ch, err = bpf.NewRingBufferChannel(m.FD(), tok, router.Ring)
	case KindPerf:
		ch, err = bpf.NewPerfBufferChannel(m.FD(), cfg.Pages, tok, router.PerfCallbacks())
	default:
		err = fmt.Errorf("%w: unknown channel kind %q", ErrInvalidCfg, cfg.Kind)
	}

	if err != nil {
		router.Unregister(tok)

		return nil, err
	}

	return ch, nil
}

// poll drives ch until ctx is done, the channel is closed or writing its
// output fails.
func poll(ctx context.Context, ch channel, l *listener, timeout time.Duration) error {
	for ctx.Err() == nil {
		_, err := ch.Poll(timeout)
		if errors.Is(err, bpf.ErrChannelClosed) {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to poll channel %s: %w", l.name, err)
		}

		if l.err != nil {
			return fmt.Errorf("failed to forward events of channel %s: %w", l.name, l.err)
		}
	}

	return nil
}

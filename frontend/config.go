package frontend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type ChannelKind string

const (
	KindRingbuf ChannelKind = "ringbuf"
	KindPerf    ChannelKind = "perf"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

const (
	DefaultPollTimeout = 100 * time.Millisecond
	DefaultPages       = 8
)

var ErrInvalidCfg = errors.New("invalid listen config")

// ChannelCfg describes one pinned event map to listen on.
type ChannelCfg struct {
	Name  string      `toml:"name"`
	Pin   string      `toml:"pin"`
	Kind  ChannelKind `toml:"kind"`
	Pages int         `toml:"pages"` // perf only, per CPU
}

// ListenCfg is the configuration of Listen, usually read from a TOML file:
//
//	format = "json"
//	poll_timeout = "250ms"
//
//	[[channel]]
//	name = "execs"
//	pin = "/sys/fs/bpf/execs"
//	kind = "ringbuf"
type ListenCfg struct {
	Format      Format        `toml:"format"`
	PollTimeout time.Duration `toml:"poll_timeout"`
	Channels    []ChannelCfg  `toml:"channel"`
}

func ParseListenCfg(filepath string) (*ListenCfg, error) {
	file, err := os.Open(filepath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return DecodeListenCfg(file)
}

// DecodeListenCfg reads a config, fills in defaults and validates it.
func DecodeListenCfg(r io.Reader) (*ListenCfg, error) {
	var cfg ListenCfg

	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidCfg, undecoded[0].String())
	}

	if err := cfg.normalise(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *ListenCfg) normalise() error {
	switch c.Format {
	case "":
		c.Format = FormatJSON
	case FormatJSON, FormatCSV:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidCfg, c.Format)
	}

	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}

	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: no channels", ErrInvalidCfg)
	}

	seen := make(map[string]bool, len(c.Channels))

	for i := range c.Channels {
		ch := &c.Channels[i]

		if ch.Name == "" {
			return fmt.Errorf("%w: channel %d has no name", ErrInvalidCfg, i)
		}

		if seen[ch.Name] {
			return fmt.Errorf("%w: duplicate channel %q", ErrInvalidCfg, ch.Name)
		}
		seen[ch.Name] = true

		if ch.Pin == "" {
			return fmt.Errorf("%w: channel %q has no pin path", ErrInvalidCfg, ch.Name)
		}

		switch ch.Kind {
		case KindRingbuf:
		case KindPerf:
			if ch.Pages == 0 {
				ch.Pages = DefaultPages
			}
		default:
			return fmt.Errorf("%w: channel %q has unknown kind %q", ErrInvalidCfg, ch.Name, ch.Kind)
		}
	}

	return nil
}

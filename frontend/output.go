package frontend

import (
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/bytedance/sonic"
)

// Event is one line of listener output. Lost is set on loss notifications,
// Data on events.
type Event struct {
	Channel string `json:"channel"`
	CPU     int    `json:"cpu"`
	Lost    uint64 `json:"lost,omitempty"`
	Data    []byte `json:"data,omitempty"`
}

// Output serialises events from any number of goroutines.
type Output interface {
	Write(ev *Event) error
	Flush() error
}

func NewOutput(format Format, w io.Writer) (Output, error) {
	switch format {
	case FormatJSON:
		return &jsonOutput{w: w}, nil
	case FormatCSV:
		return newCSVOutput(w)
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidCfg, format)
	}
}

// jsonOutput writes one JSON object per line, data base64 encoded.
type jsonOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func (o *jsonOutput) Write(ev *Event) error {
	bts, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.w.Write(append(bts, '\n')); err != nil {
		return fmt.Errorf("failed to write event to output: %w", err)
	}

	return nil
}

func (o *jsonOutput) Flush() error {
	return nil
}

// csvOutput writes a header row followed by one row per event, data hex
// encoded.
type csvOutput struct {
	mu sync.Mutex
	w  *csv.Writer
}

func newCSVOutput(w io.Writer) (*csvOutput, error) {
	o := &csvOutput{w: csv.NewWriter(w)}

	if err := o.w.Write([]string{"channel", "cpu", "lost", "data"}); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	return o, nil
}

func (o *csvOutput) Write(ev *Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.w.Write([]string{
		ev.Channel,
		strconv.Itoa(ev.CPU),
		strconv.FormatUint(ev.Lost, 10),
		hex.EncodeToString(ev.Data),
	})
	if err != nil {
		return fmt.Errorf("failed to write event to output: %w", err)
	}

	return nil
}

func (o *csvOutput) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.w.Flush()

	return o.w.Error()
}

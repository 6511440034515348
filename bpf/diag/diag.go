// Package diag filters the diagnostic log stream of the bpf bridge.
//
// Every diagnostic line produced while opening objects, creating event
// channels or attaching programs goes through Printf. Lines logged at warn
// level are checked against a fixed set of known-benign patterns and dropped
// when one matches; everything else is written to standard error verbatim.
//
// The filter is process-wide state. Call Install once at startup; until then
// lines are forwarded to standard error without filtering.
package diag

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// renderLimit bounds the rendered line used for matching. Longer lines are
// truncated for matching purposes only; forwarding always writes the full line.
const renderLimit = 300

// Rule is a set of substrings which must all occur in a line for it to be
// suppressed. Matching is plain substring search, not regular expressions.
type Rule []string

// Match reports whether every substring of r occurs in line.
func (r Rule) Match(line string) bool {
	if len(r) == 0 {
		return false
	}

	for _, s := range r {
		if !strings.Contains(line, s) {
			return false
		}
	}

	return true
}

// DefaultRules are the known-benign warnings, checked in order.
var DefaultRules = []Rule{
	// spurious, printed while probing attach types
	{"Exclusivity flag on"},
	{"failed to create kprobe", "trace_check_map_func_compatibility"},
	// expected when probing for cgroup links before falling back to the
	// legacy attach path
	{"cgroup", "Invalid argument"},
}

// Suppressed reports whether line, logged at lvl, is dropped by rules.
// Only warn level lines are ever suppressed.
func Suppressed(rules []Rule, lvl zapcore.Level, line string) bool {
	if lvl != zapcore.WarnLevel {
		return false
	}

	rendered := render(line)
	if len(rendered) == 0 {
		return false
	}

	for _, r := range rules {
		if r.Match(rendered) {
			return true
		}
	}

	return false
}

// render mimics formatting into a fixed 300 byte C buffer: at most 299 bytes
// of text survive.
func render(line string) string {
	if len(line) >= renderLimit {
		return line[:renderLimit-1]
	}

	return line
}

type filterCore struct {
	zapcore.Core
	rules []Rule
}

// NewCore wraps inner so that entries suppressed by rules never reach it.
func NewCore(inner zapcore.Core, rules []Rule) zapcore.Core {
	return &filterCore{
		Core:  inner,
		rules: rules,
	}
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{
		Core:  c.Core.With(fields),
		rules: c.rules,
	}
}

func (c *filterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) || Suppressed(c.rules, ent.Level, ent.Message) {
		return ce
	}

	return ce.AddCore(ent, c)
}

func (c *filterCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if Suppressed(c.rules, ent.Level, ent.Message) {
		return nil
	}

	return c.Core.Write(ent, fields)
}

type config struct {
	out   zapcore.WriteSyncer
	rules []Rule
	level zapcore.LevelEnabler
}

// Option configures a filtered logger.
type Option func(*config)

// WithOutput replaces standard error as the destination of forwarded lines.
func WithOutput(w zapcore.WriteSyncer) Option {
	return func(c *config) {
		c.out = w
	}
}

// WithRules replaces DefaultRules.
func WithRules(rules ...Rule) Option {
	return func(c *config) {
		c.rules = rules
	}
}

// WithLevel sets the lowest level that is forwarded. Defaults to debug.
func WithLevel(l zapcore.LevelEnabler) Option {
	return func(c *config) {
		c.level = l
	}
}

// encoder writes the bare message, so forwarded lines look exactly like the
// line that was logged.
func encoder() zapcore.Encoder {
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey: "msg",
		LineEnding: zapcore.DefaultLineEnding,
	})
}

func stderr() zapcore.WriteSyncer {
	return zapcore.Lock(os.Stderr)
}

// New builds a filtered logger without touching process-wide state.
func New(opts ...Option) *zap.Logger {
	cfg := &config{
		out:   stderr(),
		rules: DefaultRules,
		level: zapcore.DebugLevel,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return zap.New(NewCore(zapcore.NewCore(encoder(), cfg.out, cfg.level), cfg.rules))
}

var (
	mu        sync.RWMutex
	installed *zap.SugaredLogger

	// unfiltered is used until Install is called, like the library's
	// default printer.
	unfiltered = zap.New(zapcore.NewCore(encoder(), stderr(), zapcore.DebugLevel)).Sugar()
)

// Install sets up the process-wide filtered logger. Only the first call has
// any effect; later calls return the logger installed by the first one.
func Install(opts ...Option) *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()

	if installed == nil {
		installed = New(opts...).Sugar()
	}

	return installed
}

// Installed reports whether Install has been called.
func Installed() bool {
	mu.RLock()
	defer mu.RUnlock()

	return installed != nil
}

// Logger returns the logger lines are currently sent through.
func Logger() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()

	if installed == nil {
		return unfiltered
	}

	return installed
}

// Printf renders a diagnostic line and sends it through the filter.
func Printf(level zapcore.Level, format string, args ...any) {
	// never panic or exit on a diagnostic
	if level > zapcore.ErrorLevel {
		level = zapcore.ErrorLevel
	}

	line := strings.TrimSuffix(fmt.Sprintf(format, args...), "\n")

	if ce := Logger().Desugar().Check(level, line); ce != nil {
		ce.Write()
	}
}

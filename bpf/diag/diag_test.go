package diag

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSuppressed(t *testing.T) {
	tests := []struct {
		name       string
		level      zapcore.Level
		line       string
		suppressed bool
	}{
		{
			name:       "exclusivity flag",
			level:      zapcore.WarnLevel,
			line:       "Exclusivity flag on ...",
			suppressed: true,
		},
		{
			name:       "kprobe with compatibility check",
			level:      zapcore.WarnLevel,
			line:       "libbpf: prog 'trace_check_map_func_compatibility': failed to create kprobe 'x+0x0' perf event: No such file or directory",
			suppressed: true,
		},
		{
			name:       "kprobe without compatibility check",
			level:      zapcore.WarnLevel,
			line:       "libbpf: prog 'do_sys_open': failed to create kprobe 'do_sys_open+0x0' perf event: No such file or directory",
			suppressed: false,
		},
		{
			name:       "cgroup invalid argument",
			level:      zapcore.WarnLevel,
			line:       "prog 'egress': failed to attach to cgroup: Invalid argument",
			suppressed: true,
		},
		{
			name:       "cgroup colon invalid argument",
			level:      zapcore.WarnLevel,
			line:       "cgroup: Invalid argument",
			suppressed: true,
		},
		{
			name:       "cgroup other error",
			level:      zapcore.WarnLevel,
			line:       "prog 'egress': failed to attach to cgroup: Operation not permitted",
			suppressed: false,
		},
		{
			name:       "case matters",
			level:      zapcore.WarnLevel,
			line:       "cgroup: invalid argument",
			suppressed: false,
		},
		{
			name:       "patterns are not regexes",
			level:      zapcore.WarnLevel,
			line:       "Exclusivity flag .*",
			suppressed: false,
		},
		{
			name:       "info level never suppressed",
			level:      zapcore.InfoLevel,
			line:       "Exclusivity flag on ...",
			suppressed: false,
		},
		{
			name:       "error level never suppressed",
			level:      zapcore.ErrorLevel,
			line:       "cgroup: Invalid argument",
			suppressed: false,
		},
		{
			name:       "empty line is forwarded",
			level:      zapcore.WarnLevel,
			line:       "",
			suppressed: false,
		},
		{
			name:       "match past the render buffer is ignored",
			level:      zapcore.WarnLevel,
			line:       strings.Repeat("x", renderLimit) + "Exclusivity flag on",
			suppressed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.suppressed, Suppressed(DefaultRules, tt.level, tt.line))
		})
	}
}

func TestRender(t *testing.T) {
	require.Equal(t, "short", render("short"))
	require.Len(t, render(strings.Repeat("a", 1000)), renderLimit-1)
}

func TestNew_ForwardsVerbatim(t *testing.T) {
	var buf bytes.Buffer

	logger := New(WithOutput(zapcore.AddSync(&buf)))

	logger.Warn("Exclusivity flag on ...")
	logger.Warn("cgroup: Invalid argument")
	logger.Warn("libbpf: map 'events': failed to create: Operation not permitted")
	logger.Info("Exclusivity flag on, but at info")
	logger.Debug("libbpf: loading object from buffer")

	require.Equal(t,
		"libbpf: map 'events': failed to create: Operation not permitted\n"+
			"Exclusivity flag on, but at info\n"+
			"libbpf: loading object from buffer\n",
		buf.String(),
	)
}

func TestNew_WithRules(t *testing.T) {
	var buf bytes.Buffer

	logger := New(
		WithOutput(zapcore.AddSync(&buf)),
		WithRules(Rule{"noisy"}),
	)

	logger.Warn("noisy line")
	logger.Warn("Exclusivity flag on ...")

	require.Equal(t, "Exclusivity flag on ...\n", buf.String())
}

func TestNew_WithLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := New(
		WithOutput(zapcore.AddSync(&buf)),
		WithLevel(zapcore.WarnLevel),
	)

	logger.Info("dropped by level")
	logger.Warn("kept")

	require.Equal(t, "kept\n", buf.String())
}

func TestNewCore_With(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)

	core := NewCore(inner, DefaultRules).With([]zapcore.Field{zap.String("map", "events")})

	for _, msg := range []string{"cgroup: Invalid argument", "ring buffer: Bad file descriptor"} {
		ent := zapcore.Entry{Level: zapcore.WarnLevel, Message: msg}
		if ce := core.Check(ent, nil); ce != nil {
			ce.Write()
		}
	}

	require.Equal(t, 1, logs.Len())
	require.Equal(t, "ring buffer: Bad file descriptor", logs.All()[0].Message)
	require.Equal(t, "events", logs.All()[0].ContextMap()["map"])

	// direct writes are filtered as well
	require.NoError(t, core.Write(zapcore.Entry{Level: zapcore.WarnLevel, Message: "Exclusivity flag on x"}, nil))
	require.Equal(t, 1, logs.Len())
}

func TestInstall(t *testing.T) {
	defer reset()
	reset()

	require.False(t, Installed())

	var first, second bytes.Buffer

	l1 := Install(WithOutput(zapcore.AddSync(&first)))
	l2 := Install(WithOutput(zapcore.AddSync(&second)))

	require.True(t, Installed())
	require.Same(t, l1, l2)
	require.Same(t, l1, Logger())

	Printf(zapcore.WarnLevel, "prog '%s': failed to attach to cgroup '%s': %s\n", "egress", "/sys/fs/cgroup", "Invalid argument")
	Printf(zapcore.WarnLevel, "Failed to initialize ring buffer: %s\n", "Bad file descriptor")
	Printf(zapcore.FatalLevel, "not fatal: %d", 1)

	require.Equal(t,
		"Failed to initialize ring buffer: Bad file descriptor\n"+
			"not fatal: 1\n",
		first.String(),
	)
	require.Empty(t, second.String())
}

func reset() {
	mu.Lock()
	defer mu.Unlock()

	installed = nil
}

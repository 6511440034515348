package bpf

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestErrno(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected unix.Errno
	}{
		{name: "nil", err: nil, expected: 0},
		{name: "plain", err: errors.New("nope"), expected: 0},
		{name: "bare errno", err: unix.EPERM, expected: unix.EPERM},
		{name: "wrapped", err: fmt.Errorf("attach: %w", unix.EBADF), expected: unix.EBADF},
		{name: "path error", err: &os.PathError{Op: "open", Path: "/x", Err: unix.ENOENT}, expected: unix.ENOENT},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Errno(tt.err))
		})
	}
}

func TestWrap(t *testing.T) {
	err := wrap(ErrOpenFailed, "parse", errors.New("bad magic"), unix.EINVAL)
	require.ErrorIs(t, err, ErrOpenFailed)
	require.ErrorIs(t, err, unix.EINVAL)
	require.Contains(t, err.Error(), "bad magic")

	err = wrap(ErrChannelInitFailed, "ring buffer", fmt.Errorf("dup: %w", unix.EBADF), unix.EINVAL)
	require.ErrorIs(t, err, ErrChannelInitFailed)
	require.Equal(t, unix.EBADF, Errno(err))
	require.NotErrorIs(t, err, unix.EINVAL)
}

func TestStrerror(t *testing.T) {
	require.Equal(t, "Invalid argument", strerror(unix.EINVAL))
	require.Equal(t, "Bad file descriptor", strerror(unix.EBADF))
}

func TestIsProbeRejection(t *testing.T) {
	require.True(t, IsProbeRejection(fmt.Errorf("%w: %w", ErrAttachFailed, unix.EINVAL)))
	require.False(t, IsProbeRejection(fmt.Errorf("%w: %w", ErrAttachFailed, unix.EPERM)))
}

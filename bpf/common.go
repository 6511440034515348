package bpf

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	ErrOpenFailed        = errors.New("failed to open bpf object")
	ErrChannelInitFailed = errors.New("failed to initialise event channel")
	ErrAttachFailed      = errors.New("failed to attach program")
	ErrDetachFailed      = errors.New("failed to detach program")
	ErrBufferTooSmall    = errors.New("destination buffer too small")
	ErrNoInitialValue    = errors.New("map has no initial value")
	ErrMapNotFound       = errors.New("map not found")
	ErrObjectClosed      = errors.New("bpf object already closed")
	ErrChannelClosed     = errors.New("event channel closed")
	ErrSlotsExhausted    = errors.New("no free slots left")
)

// Token correlates an event channel with whoever consumes its events. It is
// chosen by the caller and handed back unchanged on every callback.
type Token uint64

// Errno returns the OS error code carried by err, or 0 when there is none.
func Errno(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}

	return 0
}

// errnoOr is Errno with a fallback for errors that carry no OS code, e.g.
// an ELF parse failure.
func errnoOr(err error, def unix.Errno) unix.Errno {
	if errno := Errno(err); errno != 0 {
		return errno
	}

	return def
}

// IsProbeRejection reports whether err is the EINVAL the kernel returns when
// an attach mechanism is unsupported. Callers probing for cgroup links treat
// it as an expected outcome rather than a failure.
func IsProbeRejection(err error) bool {
	return errors.Is(err, unix.EINVAL)
}

// wrap builds an error of the given kind which always carries an errno, so
// callers can rely on Errno and errors.Is(err, unix.EXXX).
func wrap(kind error, msg string, err error, def unix.Errno) error {
	if Errno(err) != 0 {
		return fmt.Errorf("%w: %s: %w", kind, msg, err)
	}

	return fmt.Errorf("%w: %s: %w: %w", kind, msg, def, err)
}

// strerror renders errno the way libc does, e.g. "Invalid argument".
func strerror(errno unix.Errno) string {
	s := errno.Error()
	if s == "" {
		return s
	}

	return strings.ToUpper(s[:1]) + s[1:]
}

package bpf

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/moby/sys/mountinfo"
	"github.com/tcassar-diss/bpfbridge/bpf/diag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
)

// progAttachAttr is the BPF_PROG_ATTACH / BPF_PROG_DETACH member of
// union bpf_attr.
type progAttachAttr struct {
	targetFD     uint32
	attachBPFFD  uint32
	attachType   uint32
	attachFlags  uint32
	replaceBPFFD uint32
}

func progAttachDetach(cmd uintptr, attr *progAttachAttr) error {
	_, _, errno := unix.Syscall(unix.SYS_BPF, cmd, uintptr(unsafe.Pointer(attr)), unsafe.Sizeof(*attr))
	if errno != 0 {
		return errno
	}

	return nil
}

// AttachLegacy attaches the program behind progFD to the cgroup directory
// cgroupDirFD with a bare BPF_PROG_ATTACH. Programs are always attached with
// BPF_F_ALLOW_MULTI, so several programs of one attach type can coexist.
//
// The error wraps ErrAttachFailed and the raw errno. Use IsProbeRejection to
// tell the EINVAL of an unsupported attach type apart.
func AttachLegacy(progFD, cgroupDirFD int, attachType ebpf.AttachType) error {
	attr := progAttachAttr{
		targetFD:    uint32(cgroupDirFD),
		attachBPFFD: uint32(progFD),
		attachType:  uint32(attachType),
		attachFlags: unix.BPF_F_ALLOW_MULTI,
	}

	if err := progAttachDetach(unix.BPF_PROG_ATTACH, &attr); err != nil {
		return fmt.Errorf("%w: prog fd %d to cgroup fd %d as %s: %w", ErrAttachFailed, progFD, cgroupDirFD, attachType, err)
	}

	return nil
}

// DetachLegacy undoes AttachLegacy. Detaching a program which is not attached
// fails.
func DetachLegacy(progFD, cgroupDirFD int, attachType ebpf.AttachType) error {
	attr := progAttachAttr{
		targetFD:    uint32(cgroupDirFD),
		attachBPFFD: uint32(progFD),
		attachType:  uint32(attachType),
	}

	if err := progAttachDetach(unix.BPF_PROG_DETACH, &attr); err != nil {
		return fmt.Errorf("%w: prog fd %d from cgroup fd %d as %s: %w", ErrDetachFailed, progFD, cgroupDirFD, attachType, err)
	}

	return nil
}

// OpenCgroupDir opens a cgroup v2 directory for use as an attach target. The
// caller closes the returned fd.
func OpenCgroupDir(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_DIRECTORY|unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to open cgroupv2 directory path %s: %w", path, err)
	}

	return fd, nil
}

// CgroupV2Mount returns where the cgroup v2 hierarchy is mounted, e.g.
// /sys/fs/cgroup on unified hosts or /sys/fs/cgroup/unified on hybrid ones.
func CgroupV2Mount() (string, error) {
	mounts, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("cgroup2"))
	if err != nil {
		return "", fmt.Errorf("failed to read mount table: %w", err)
	}

	return firstMount(mounts)
}

// cgroupV2MountIn is CgroupV2Mount over a mountinfo table read from r.
func cgroupV2MountIn(r io.Reader) (string, error) {
	mounts, err := mountinfo.GetMountsFromReader(r, mountinfo.FSTypeFilter("cgroup2"))
	if err != nil {
		return "", fmt.Errorf("failed to read mount table: %w", err)
	}

	return firstMount(mounts)
}

func firstMount(mounts []*mountinfo.Info) (string, error) {
	if len(mounts) == 0 {
		return "", fmt.Errorf("cgroup2 is not mounted: %w", unix.ENOENT)
	}

	return mounts[0].Mountpoint, nil
}

// attachRawLink creates cgroup links; replaced in tests.
var attachRawLink = link.AttachRawLink

// CgroupAttachment records how AttachCgroup attached a program.
type CgroupAttachment struct {
	Legacy bool

	link       link.Link
	prog       *ebpf.Program
	cgroupPath string
	attachType ebpf.AttachType
}

// AttachCgroup attaches prog to the cgroup at cgroupPath, preferring a cgroup
// link. Kernels without cgroup links reject the link with EINVAL; the
// rejection is reported as a warning, which the diag filter drops, and the
// program is attached through AttachLegacy instead. There is no other retry.
func AttachCgroup(prog *ebpf.Program, cgroupPath string, attachType ebpf.AttachType) (*CgroupAttachment, error) {
	fd, err := OpenCgroupDir(cgroupPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAttachFailed, err)
	}
	defer unix.Close(fd)

	a := &CgroupAttachment{
		prog:       prog,
		cgroupPath: cgroupPath,
		attachType: attachType,
	}

	a.link, err = attachRawLink(link.RawLinkOptions{
		Target:  fd,
		Program: prog,
		Attach:  attachType,
	})
	if err == nil {
		return a, nil
	}

	diag.Printf(zapcore.WarnLevel, "prog '%s': failed to attach to cgroup '%s': %s", progName(prog), cgroupPath, strerror(errnoOr(err, unix.EINVAL)))

	if err := AttachLegacy(prog.FD(), fd, attachType); err != nil {
		return nil, err
	}

	a.Legacy = true

	return a, nil
}

// progName is the name the program was loaded with, as libbpf prints it.
func progName(prog *ebpf.Program) string {
	if info, err := prog.Info(); err == nil && info.Name != "" {
		return info.Name
	}

	return prog.String()
}

// Detach removes the program from the cgroup.
func (a *CgroupAttachment) Detach() error {
	if !a.Legacy {
		if err := a.link.Close(); err != nil {
			return fmt.Errorf("%w: failed to close cgroup link: %w", ErrDetachFailed, err)
		}

		return nil
	}

	fd, err := OpenCgroupDir(a.cgroupPath)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDetachFailed, err)
	}
	defer unix.Close(fd)

	return DetachLegacy(a.prog.FD(), fd, a.attachType)
}

// Pin keeps a link attachment alive after the process exits. Legacy
// attachments already outlive the process, so there is nothing to pin.
func (a *CgroupAttachment) Pin(path string) error {
	if a.Legacy {
		return nil
	}

	if err := a.link.Pin(path); err != nil {
		return fmt.Errorf("failed to pin cgroup link: %w", err)
	}

	return nil
}

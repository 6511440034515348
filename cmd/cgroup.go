package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/spf13/cobra"
	"github.com/tcassar-diss/bpfbridge/bpf"
	"golang.org/x/sys/unix"
)

type cgroupParams struct {
	progPin    string
	linkPin    string
	cgroupPath string
	attachType ebpf.AttachType
	legacy     bool
}

var cgroupCmd = &cobra.Command{
	Use:   "cgroup",
	Short: "Attach pinned programs to cgroups and detach them again",
}

var cgroupAttachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach a pinned program to a cgroup",
	Long: `
Attach attaches a pinned program to a cgroup v2 directory. A cgroup link is
tried first and pinned next to the program; kernels without cgroup links get a
multi-attach BPF_PROG_ATTACH instead. --legacy skips the link.
USAGE
	bpfbridge cgroup attach --prog-pin /sys/fs/bpf/prog --cgroup /sys/fs/cgroup/app --type egress
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseCgroupParams(cmd)
		if err != nil {
			return err
		}

		prog, err := ebpf.LoadPinnedProgram(params.progPin, nil)
		if err != nil {
			return fmt.Errorf("failed to load pinned program: %w", err)
		}
		defer prog.Close()

		if params.legacy {
			return attachLegacy(prog, params)
		}

		a, err := bpf.AttachCgroup(prog, params.cgroupPath, params.attachType)
		if err != nil {
			return fmt.Errorf("failed to attach program: %w", err)
		}

		if err := a.Pin(params.linkPin); err != nil {
			_ = a.Detach()

			return err
		}

		logger.Infow("program attached",
			"prog", params.progPin,
			"cgroup", params.cgroupPath,
			"type", params.attachType,
			"legacy", a.Legacy,
		)

		return nil
	},
}

var cgroupDetachCmd = &cobra.Command{
	Use:   "detach",
	Short: "Detach a pinned program from a cgroup",
	Long: `
Detach undoes attach. A pinned cgroup link is unpinned and closed; otherwise the
program is removed with BPF_PROG_DETACH.
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseCgroupParams(cmd)
		if err != nil {
			return err
		}

		if !params.legacy {
			l, err := link.LoadPinnedLink(params.linkPin, nil)
			if err == nil {
				defer l.Close()

				if err := l.Unpin(); err != nil {
					return fmt.Errorf("failed to unpin cgroup link: %w", err)
				}

				logger.Infow("cgroup link removed", "link", params.linkPin)

				return nil
			} else if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to load pinned link: %w", err)
			}
		}

		prog, err := ebpf.LoadPinnedProgram(params.progPin, nil)
		if err != nil {
			return fmt.Errorf("failed to load pinned program: %w", err)
		}
		defer prog.Close()

		fd, err := bpf.OpenCgroupDir(params.cgroupPath)
		if err != nil {
			return err
		}
		defer unix.Close(fd)

		if err := bpf.DetachLegacy(prog.FD(), fd, params.attachType); err != nil {
			return err
		}

		logger.Infow("program detached", "prog", params.progPin, "cgroup", params.cgroupPath, "type", params.attachType)

		return nil
	},
}

func attachLegacy(prog *ebpf.Program, params *cgroupParams) error {
	fd, err := bpf.OpenCgroupDir(params.cgroupPath)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if err := bpf.AttachLegacy(prog.FD(), fd, params.attachType); err != nil {
		if bpf.IsProbeRejection(err) {
			logger.Warnw("kernel rejected the attach type", "type", params.attachType)
		}

		return err
	}

	logger.Infow("program attached", "prog", params.progPin, "cgroup", params.cgroupPath, "type", params.attachType, "legacy", true)

	return nil
}

func init() {
	rootCmd.AddCommand(cgroupCmd)

	for _, c := range []*cobra.Command{cgroupAttachCmd, cgroupDetachCmd} {
		cgroupCmd.AddCommand(c)

		c.Flags().String("prog-pin", "", "path of the pinned program")
		c.Flags().String("link-pin", "", "path to pin the cgroup link at (default <prog-pin>_link)")
		c.Flags().String("cgroup", "", "cgroup v2 directory")
		c.Flags().String("type", "", "attach type (ingress, egress, sock_create, ...)")
		c.Flags().Bool("legacy", false, "use BPF_PROG_ATTACH / BPF_PROG_DETACH only")

		_ = c.MarkFlagRequired("prog-pin")
		_ = c.MarkFlagRequired("cgroup")
		_ = c.MarkFlagRequired("type")
	}
}

func parseCgroupParams(cmd *cobra.Command) (*cgroupParams, error) {
	var (
		p   cgroupParams
		err error
	)

	if p.progPin, err = cmd.Flags().GetString("prog-pin"); err != nil {
		return nil, fmt.Errorf("failed to get prog-pin flag: %w", err)
	}

	if p.linkPin, err = cmd.Flags().GetString("link-pin"); err != nil {
		return nil, fmt.Errorf("failed to get link-pin flag: %w", err)
	}

	if p.linkPin == "" {
		p.linkPin = p.progPin + "_link"
	}

	if p.cgroupPath, err = cmd.Flags().GetString("cgroup"); err != nil {
		return nil, fmt.Errorf("failed to get cgroup flag: %w", err)
	}

	if _, err := os.Stat(p.cgroupPath); err != nil {
		return nil, fmt.Errorf("failed to find cgroup at path %s: %w", p.cgroupPath, err)
	}

	typeFlag, err := cmd.Flags().GetString("type")
	if err != nil {
		return nil, fmt.Errorf("failed to get type flag: %w", err)
	}

	if p.attachType, err = parseAttachType(typeFlag); err != nil {
		return nil, err
	}

	if p.legacy, err = cmd.Flags().GetBool("legacy"); err != nil {
		return nil, fmt.Errorf("failed to get legacy flag: %w", err)
	}

	return &p, nil
}

package cmd

import (
	"fmt"
	"os"

	"github.com/cilium/ebpf/rlimit"
	"github.com/spf13/cobra"
	"github.com/tcassar-diss/bpfbridge/bpf/diag"
	"go.uber.org/zap"
)

var logger *zap.SugaredLogger

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bpfbridge",
	Short: "Load BPF objects, stream their events and attach them to cgroups",
	Long: `bpfbridge drives BPF objects from userspace: it inspects object files,
streams ring buffer and perf buffer events from pinned maps and attaches
pinned programs to cgroups.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := zap.NewProduction()
		if err != nil {
			return fmt.Errorf("failed to get zap production logger: %w", err)
		}

		logger = l.Sugar()

		// library diagnostics go to stderr, minus the known-noisy warnings
		diag.Install()

		if err := rlimit.RemoveMemlock(); err != nil {
			logger.Warnw("failed to remove memlock limit", "err", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

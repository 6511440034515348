package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tcassar-diss/bpfbridge/frontend"
)

var listenCfgPath string

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Stream events from pinned ring buffer and perf buffer maps",
	Long: `Listen subscribes to every channel in the config and writes their events
to stdout until interrupted.

	USAGE
		bpfbridge listen -c /path/to/listen.toml
`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := frontend.ParseListenCfg(listenCfgPath)
		if err != nil {
			logger.Errorw("failed to read listen config", "path", listenCfgPath, "err", err)
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := frontend.Listen(ctx, logger, cfg, os.Stdout); err != nil {
			logger.Errorw("listening failed", "err", err)
			return err
		}

		logger.Infow("listening finished")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().StringVarP(&listenCfgPath, "config", "c", "", "path to the listen config (TOML)")
	_ = listenCmd.MarkFlagRequired("config")
}

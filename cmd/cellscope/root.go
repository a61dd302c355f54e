package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/goliatone/go-cells/internal/logging"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cellscope",
		Short: "Inspect cell manifests and their scopes",
		Long: `cellscope loads a YAML cell manifest, builds its scope tree and lets you
read, write and classify cells inside any scope.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("metrics", false, "Write scope metrics to stderr in Prometheus text format on exit")

	root.AddCommand(newEvalCmd())
	root.AddCommand(newClassifyCmd())
	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func commandLogger(cmd *cobra.Command) (*slog.Logger, error) {
	raw, _ := cmd.Flags().GetString("log-level")
	level, err := logging.ParseLevel(raw)
	if err != nil {
		return nil, err
	}
	return logging.NewWithWriter(cmd.ErrOrStderr(), level), nil
}

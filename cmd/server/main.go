package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	serve := func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), cfgFile)
	}

	root := &cobra.Command{
		Use:           "capyboard",
		Short:         "Active message board server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); env CAPYBOARD_* overrides it")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and push streams",
		RunE:  serve,
	})
	root.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Print the resolved board state of the configured store as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runState(cmd.Context(), cfgFile, cmd.OutOrStdout())
		},
	})
	return root
}

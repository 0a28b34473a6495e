package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/inferloop/ipdsynth/cmd/ipdsynth/commands"
	"github.com/inferloop/ipdsynth/pkg/constants"
)

func main() {
	global := &commands.GlobalOptions{}

	rootCmd := &cobra.Command{
		Use:   "ipdsynth",
		Short: constants.AppDescription,
		Long: `Summarize an individual-level table into a releasable bundle of quantile
tables and per-stratum moments, and reconstruct synthetic tables from it.`,
		Version:       commands.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&global.ConfigFile, "config", "", "config file (default is ./ipdsynth.yaml or $HOME/.ipdsynth/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&global.Verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(commands.NewSummarizeCmd(global))
	rootCmd.AddCommand(commands.NewReconstructCmd(global))
	rootCmd.AddCommand(commands.NewValidateCmd(global))
	rootCmd.AddCommand(commands.NewInspectCmd(global))
	rootCmd.AddCommand(commands.NewServeCmd(global))
	rootCmd.AddCommand(commands.NewVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

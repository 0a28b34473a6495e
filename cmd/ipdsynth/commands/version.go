package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/inferloop/ipdsynth/pkg/constants"
)

// Set through -ldflags at release time.
var (
	Version   = constants.AppVersion
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s, %s %s/%s, api %s)\n",
				constants.AppName, Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH, constants.APIVersion)
		},
	}
}

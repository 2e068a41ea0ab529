package artifetch

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version   = "nightly"
	builddate = "unknown"
	commit    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Shows the current version of Artifetch",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "Version:", version)
		fmt.Fprintln(cmd.OutOrStdout(), "Build Date:", builddate)
		fmt.Fprintln(cmd.OutOrStdout(), "Commit:", commit)
	},
}

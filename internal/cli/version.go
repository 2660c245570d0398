package cli

import (
	"fmt"

	"github.com/harun/openbot/pkg/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "openbot version %s\n", GetVersion())
	},
}

var versionCompareCmd = &cobra.Command{
	Use:   "compare <existing> <other>",
	Short: "Compare two version strings",
	Long: `Compare two dotted version strings such as 1.0.0a2 or 2.1b and print
equal, other_greater, existing_greater or incomparable.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Compare(args[0], args[1]).String())
	},
}

func init() {
	versionCmd.AddCommand(versionCompareCmd)
	rootCmd.AddCommand(versionCmd)
}

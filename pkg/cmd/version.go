package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laniot/laniot-signer/pkg/app"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Prints the software version",
	Long:  `Displays software build and version details`,
	Run: func(cmd *cobra.Command, args []string) {
		version := app.GetVersion()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Name:\t\t\t%s\n", version.Name)
		fmt.Fprintf(out, "Version:\t\t%s\n", version.Version)
		fmt.Fprintf(out, "Repository:\t\t%s\n", version.Repository)
		fmt.Fprintf(out, "Git Branch:\t\t%s\n", version.GitBranch)
		fmt.Fprintf(out, "Git Hash:\t\t%s\n", version.GitHash)
		fmt.Fprintf(out, "Build User:\t\t%s\n", version.BuildUser)
		fmt.Fprintf(out, "Build Date:\t\t%s\n", version.BuildDate)
	},
}

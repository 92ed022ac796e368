package main

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/deploywatch/cmd/deploywatch/cmds"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "deploywatch",
	Short:   "deploywatch follows a CodeDeploy deployment and interleaves its logs",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cmds.InitLogging(cmd)
	},
}

func main() {
	cmds.AddRootFlags(rootCmd)
	cobra.CheckErr(cmds.AddCommands(rootCmd))
	cobra.CheckErr(rootCmd.Execute())
}

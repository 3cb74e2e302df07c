package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	huddle_cmds "github.com/go-go-golems/huddle/cmd/huddle/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "huddle keeps chat, agents and shared editor tabs in sync over one socket",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	if err := clay.InitGlazed("huddle", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	for _, newCommand := range []func() (cmds.Command, error){
		func() (cmds.Command, error) { return huddle_cmds.NewRelayCommand() },
		func() (cmds.Command, error) { return huddle_cmds.NewJoinCommand() },
		func() (cmds.Command, error) { return huddle_cmds.NewTabsCommand() },
	} {
		c, err := newCommand()
		cobra.CheckErr(err)
		command, err := cli.BuildCobraCommand(c)
		cobra.CheckErr(err)
		rootCmd.AddCommand(command)
	}

	cobra.CheckErr(rootCmd.Execute())
}

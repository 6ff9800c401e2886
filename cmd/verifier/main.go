package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/disputeflow/verifier/internal/cli"
)

func main() {
	command := NewVerifierCtlCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewVerifierCtlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verifier [flags] [options]",
		Short: "verifier controls the dispute document verification service.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdGet())
	cmd.AddCommand(cli.NewCmdDelete())
	cmd.AddCommand(cli.NewCmdRequeue())

	return cmd
}

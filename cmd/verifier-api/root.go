package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:   "verifier-api",
	Short: "Dispute document verification service",
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}

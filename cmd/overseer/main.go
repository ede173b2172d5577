package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "overseer",
		Short: "Background automation for remote coding-agent sessions",
		Long:  `Overseer runs multi-session jobs against a remote coding-agent service and keeps them moving: it polls session state, auto-approves plans, retries failures, nudges stalled sessions and triggers scheduled jobs.`,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show Overseer version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Overseer v%s\n", version)
		},
	}
}

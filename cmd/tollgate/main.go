package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is the semantic version of the binary, set through the build
// system.
var Version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "tollgate",
		Short: "L402 payment gateway for Lightning paid APIs",
		Long: `Tollgate is a reverse proxy that gates access to backend
services behind Lightning payments using the L402 protocol, and an HTTP
client that pays such challenges transparently.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newFetchCommand(),
		newCredentialsCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
}

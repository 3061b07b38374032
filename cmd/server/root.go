package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:5000"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "codesync",
		Short:         "Collaborative code editor backend",
		Long:          "codesync serves shared editing sessions over websockets and runs submitted code in a sandbox.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newLanguagesCmd(),
		newSessionCmd(),
		newHealthCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// serverURL is the default for --server: $CODESYNC_URL or the local server.
func serverURL() string {
	if u := os.Getenv("CODESYNC_URL"); u != "" {
		return u
	}
	return defaultServerURL
}

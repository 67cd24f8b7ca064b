package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "streamctl",
	Short: "Supervisor and OAuth broker for the streamer backend",
}

func init() {
	rootCmd.PersistentFlags().Bool("json", false, "print machine-readable JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

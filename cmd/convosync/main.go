// Command convosync is the packaging glue around the sync core: it wires
// the local store, the gist client and the orchestrator together and
// exposes daemon, one-shot sync, status and credential management.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var dataDirFlag string

var rootCmd = &cobra.Command{
	Use:   "convosync",
	Short: "Sync captured conversations across devices via a gist backup",
	Long: `convosync keeps user-captured conversation records in a local
SQLite store and synchronizes them across devices through a single
remote backup gist.

The local store is the source of truth: records are written locally
first and pushed in debounced batches. Pulls merge remote state in
without ever dropping a message.`,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "",
		"data directory (default ~/.convosync)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

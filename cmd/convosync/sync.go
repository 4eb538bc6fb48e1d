package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle now",
	Long: `Force a single sync cycle: pull the remote backup, merge it into the
local store, push the full local state, and mark everything synced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		if !a.orch.IsLoggedIn() {
			return fmt.Errorf("not logged in; run 'convosync login' first")
		}

		start := time.Now()
		if !a.orch.ForceSync(context.Background()) {
			return fmt.Errorf("a sync cycle is already in progress")
		}

		state := a.orch.State()
		if state.LastError != "" {
			return fmt.Errorf("sync finished with %s: %s", state.Status, state.LastError)
		}
		fmt.Printf("Sync complete in %v\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

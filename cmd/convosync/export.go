package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convosync/convosync/internal/model"
)

var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write a backup snapshot of the local store to a file or stdout",
	Long: `Export serializes every local conversation into the same snapshot
format pushed to the remote backup. With no argument the snapshot is
written to stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		conversations, err := a.store.ExportAll(ctx)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		snap := model.NewSnapshot(a.cfg.Gist.OwnerTag, a.cfg.DeviceID, conversations)
		data, err := snap.Marshal()
		if err != nil {
			return fmt.Errorf("failed to serialize snapshot: %w", err)
		}

		if len(args) == 0 {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(args[0], append(data, '\n'), 0600); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		fmt.Printf("Exported %d conversations (%d messages) to %s\n",
			len(conversations), snap.Metadata.TotalMessages, args[0])
		return nil
	},
}

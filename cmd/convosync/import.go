package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/convosync/convosync/internal/model"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Merge a backup snapshot file into the local store",
	Long: `Import reads a snapshot file previously produced by export (or
downloaded from the backup gist) and merges it into the local store with
the same union rules a pull uses. Nothing local is ever dropped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read snapshot: %w", err)
		}
		snap, err := model.ParseSnapshot(data, a.cfg.Gist.OwnerTag)
		if err != nil {
			return fmt.Errorf("invalid snapshot: %w", err)
		}

		report := a.store.MergeSnapshot(context.Background(), snap.Conversations)
		fmt.Printf("Imported: %d added, %d updated, %d unchanged, %d failed\n",
			report.Added, report.Updated, report.Unchanged, report.Failed)
		if report.Failed > 0 {
			return fmt.Errorf("%d conversations failed to merge", report.Failed)
		}
		return nil
	},
}

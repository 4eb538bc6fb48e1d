package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/convosync/convosync/internal/model"
)

var (
	statusLabelStyle = lipgloss.NewStyle().Bold(true).Width(14)
	statusOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	statusErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		state := a.orch.State()
		count, err := a.store.Count(ctx)
		if err != nil {
			return err
		}
		unsynced, err := a.store.ListUnsynced(ctx)
		if err != nil {
			return err
		}
		lastSyncAt, err := a.store.LoadLastSyncAt(ctx)
		if err != nil {
			return err
		}

		printRow("Logged in", yesNo(a.orch.IsLoggedIn()))
		printRow("Status", renderStatus(state.Status))
		printRow("Last sync", renderLastSync(lastSyncAt))
		printRow("Conversations", fmt.Sprintf("%d (%d pending push)", count, len(unsynced)))
		if state.LastError != "" {
			printRow("Last error", statusErrStyle.Render(state.LastError))
		}
		return nil
	},
}

func printRow(label, value string) {
	fmt.Printf("%s %s\n", statusLabelStyle.Render(label+":"), value)
}

func yesNo(b bool) string {
	if b {
		return statusOKStyle.Render("yes")
	}
	return statusWarnStyle.Render("no")
}

func renderStatus(status model.SyncStatus) string {
	switch status {
	case model.StatusIdle, model.StatusSyncing:
		return statusOKStyle.Render(string(status))
	case model.StatusOffline:
		return statusWarnStyle.Render(string(status))
	default:
		return statusErrStyle.Render(string(status))
	}
}

func renderLastSync(at int64) string {
	if at == 0 {
		return "never"
	}
	t := time.UnixMilli(at)
	return fmt.Sprintf("%s (%s ago)", t.Format(time.RFC3339),
		time.Since(t).Round(time.Second))
}

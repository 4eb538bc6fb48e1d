package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/convosync/convosync/internal/dashboard"
	"github.com/convosync/convosync/internal/inbox"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the convosync daemon: hydrate from the remote backup, watch the
inbox directory for captured records, and push local changes in
debounced batches.

With --dashboard (or dashboard.enabled in config) a status server is
started as well:

  ws://localhost:<port>/ws       real-time state and cycle events
  http://localhost:<port>/state  point-in-time status poll`,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		// Events are wired after the server exists; the orchestrator
		// takes the bridge up front.
		bridge := &lateBridge{}
		a, err := newApp(bridge)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var srv *dashboard.Server
		if withDashboard || a.cfg.Dashboard.Enabled {
			srv = dashboard.NewServer(a.orch, &dashboard.Config{
				Port:   a.cfg.Dashboard.Port,
				Logger: a.logger("[dashboard] "),
			})
			if err := srv.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer func() { _ = srv.Stop() }()
			bridge.set(dashboard.NewHandler(srv, a.logger("[dashboard] ")))
			fmt.Printf("Dashboard: ws://localhost%s/ws\n", portSuffix(srv.Addr()))
		}

		if err := a.orch.Hydrate(ctx); err != nil {
			// Hydration trouble is recorded in sync state; the daemon
			// still runs and will converge on the next trigger.
			a.logger("[daemon] ").Printf("Hydration failed: %v", err)
		}

		watcher, err := inbox.New(a.cfg.InboxDir, a.store, a.orch, &inbox.Config{
			Logger: a.logger("[inbox] "),
		})
		if err != nil {
			return fmt.Errorf("failed to create inbox watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start inbox watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()

		fmt.Printf("convosync daemon running (inbox: %s)\n", a.cfg.InboxDir)
		fmt.Println("Press Ctrl+C to stop...")

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "start the status dashboard server")
}

// portSuffix extracts ":port" from a listen address like "[::]:8799".
func portSuffix(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[i:]
		}
	}
	return addr
}

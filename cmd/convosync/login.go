package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a GitHub token for the backup gist",
	Long: `Validate a GitHub personal access token (gist scope) against the API
and store it. After a successful login the local store is hydrated from
the remote backup immediately.

The token can be passed with --token, piped on stdin, or entered at the
interactive prompt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			var err error
			token, err = promptToken()
			if err != nil {
				return err
			}
		}

		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := context.Background()
		if err := a.orch.Login(ctx, token); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Println("Logged in and hydrated from remote backup.")
		unsynced, err := a.store.ListUnsynced(ctx)
		if err == nil && len(unsynced) > 0 {
			fmt.Printf("%d conversations pending push; the daemon will sync them.\n", len(unsynced))
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().String("token", "", "GitHub personal access token (gist scope)")
}

// promptToken reads the token with an interactive form on a terminal,
// or a single line from stdin when piped.
func promptToken() (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		var token string
		form := huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("GitHub token").
				Description("Personal access token with the gist scope").
				EchoMode(huh.EchoModePassword).
				Value(&token),
		))
		if err := form.Run(); err != nil {
			return "", fmt.Errorf("prompt cancelled: %w", err)
		}
		return token, nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}

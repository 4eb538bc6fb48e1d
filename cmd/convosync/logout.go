package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored credential and reset sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(nil)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.orch.Logout(context.Background()); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}
		fmt.Println("Logged out. Local conversations are untouched.")
		return nil
	},
}

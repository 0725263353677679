// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remotesql/cli/internal/command"
)

var logoutAll bool

// logoutCmd ends the stored session on the server and forgets it locally.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session and remove it from the keychain",
	Long: `The logout command asks the server to discard the session and everything it
holds, then removes the session from the OS keychain. The local entry is removed
even when the server cannot be reached.

With --all, every stored session is removed locally without contacting any server.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current

		if logoutAll {
			a.sessions.Store().ResetAll()
			pterm.Success.Println("All stored sessions have been removed")
			return nil
		}

		key := a.key()
		if !a.sessions.Store().IsLogged(key) {
			pterm.Info.Println("Not logged in")
			return nil
		}

		c, _, err := a.connect(ctx, false)
		if err != nil {
			// best effort: the session cannot be used anymore anyway
			a.l.Warn("Cannot reach the session, removing it locally", zap.Error(err))
			a.sessions.Forget(key)
			pterm.Success.Println("Session removed")
			return nil
		}

		if err := a.dispatcher(c, command.Options{}).Logout(ctx); err != nil {
			a.l.Warn("Server logout failed", zap.Error(err))
		}
		pterm.Success.Println("Logged out")
		return nil
	},
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored session")
	rootCmd.AddCommand(logoutCmd)
}

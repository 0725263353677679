// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"remotesql/cli/internal/command"
	"remotesql/cli/internal/config"
	"remotesql/cli/internal/httperrors"
)

var loginSave bool

// loginCmd opens a session and stores it for later invocations.
var loginCmd = &cobra.Command{
	Use:     "login",
	Aliases: []string{"auth"},
	Short:   "Log in to the server and keep the session",
	Long: `The login command authenticates against the server with the configured username
and database. The password is read from REMOTESQL_PASSWORD or prompted for without
echo; it is never stored. The session id the server returns is kept in the OS
keychain so later commands resume it without a password.

If a stored session can still be resumed, no new login takes place.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current

		c, loggedIn, err := a.connect(ctx, true)
		if err != nil {
			return httperrors.Show(err, "logging in", a.cfg.Server)
		}
		release(ctx, a.dispatcher(c, command.Options{}))

		if loggedIn {
			pterm.Success.Printf("Logged in as %s on %s\n", a.cfg.Username, a.cfg.Database)
		} else {
			pterm.Info.Printf("Already logged in as %s on %s\n", a.cfg.Username, a.cfg.Database)
		}

		if loginSave {
			if err := config.Save(a.cfg); err != nil {
				return err
			}
			p, _ := config.Path()
			pterm.Info.Printf("Settings saved to %s\n", p)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginSave, "save", false, "save server, user and database to the config file")
	rootCmd.AddCommand(loginCmd)
}

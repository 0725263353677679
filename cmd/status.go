// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"remotesql/cli/internal/logging"
)

// statusCmd shows the effective settings and whether a session is stored.
var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"whoami"},
	Short:   "Show the current server, user, database and session",
	Long: `The status command displays the effective connection settings and whether a
session for them is stored. It does not contact the server.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		a := current

		session := "none"
		if sid, ok := a.sessions.Store().SessionID(a.key()); ok {
			session = logging.Mask("session_id=" + sid)
		}

		data := pterm.TableData{
			{"Server", logging.Mask(valueOr(a.cfg.Server, "-"))},
			{"User", valueOr(a.cfg.Username, "-")},
			{"Database", valueOr(a.cfg.Database, "-")},
			{"Session", session},
		}
		if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
			return err
		}

		if session == "none" {
			pterm.Println()
			pterm.Println("   Run 'remotesql login' to get started.")
		}
		return nil
	},
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"remotesql/cli/internal/command"
	"remotesql/cli/internal/httperrors"
)

var execTx bool

// execCmd runs update statements one by one.
var execCmd = &cobra.Command{
	Use:   "exec SQL...",
	Short: "Run update statements",
	Long: `The exec command runs every argument as one statement with execute_update and
prints the affected row counts.

With --tx, auto-commit is switched off first; the statements are committed only
if all of them succeed and rolled back otherwise.`,
	Args: cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current

		c, _, err := a.connect(ctx, true)
		if err != nil {
			return httperrors.Show(err, "connecting", a.cfg.Server)
		}
		d := a.dispatcher(c, command.Options{})
		defer release(ctx, d)

		if execTx {
			if err := d.SetAutoCommit(ctx, false); err != nil {
				return httperrors.Show(err, "starting the transaction", a.cfg.Server)
			}
		}

		data := pterm.TableData{{"#", "Rows", "Statement"}}
		for i, sql := range args {
			res, err := d.ExecuteUpdate(ctx, command.Statement{SQL: sql})
			if err != nil {
				if execTx {
					rollback(ctx, d)
				}
				return httperrors.Show(err, fmt.Sprintf("running statement %d", i+1), a.cfg.Server)
			}
			data = append(data, []string{fmt.Sprint(i + 1), fmt.Sprint(res.RowCount), shorten(sql, 60)})
		}

		if execTx {
			if err := d.Commit(ctx); err != nil {
				rollback(ctx, d)
				return httperrors.Show(err, "committing", a.cfg.Server)
			}
		}

		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

// rollback undoes the open transaction; failures are only logged.
func rollback(ctx context.Context, d *command.Dispatcher) {
	if err := d.Rollback(context.WithoutCancel(ctx)); err != nil {
		current.l.Warn("Rollback failed", zap.Error(err))
	}
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	execCmd.Flags().BoolVar(&execTx, "tx", false, "run all statements in one transaction")
	rootCmd.AddCommand(execCmd)
}

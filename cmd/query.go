// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"remotesql/cli/internal/command"
	rerrors "remotesql/cli/internal/errors"
	"remotesql/cli/internal/httperrors"
)

var (
	queryPretty  bool
	queryMaxRows int
	queryMeta    bool
)

// queryCmd runs one query and prints the raw result.
var queryCmd = &cobra.Command{
	Use:   "query SQL",
	Short: "Run a query and print the JSON result",
	Long: `The query command runs a statement with execute_query and copies the result
to stdout as the server sends it. Rows are not interpreted; pipe the output to a
JSON tool to process it. Compressed results are decoded transparently.`,
	Args: cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current

		c, _, err := a.connect(ctx, true)
		if err != nil {
			return httperrors.Show(err, "connecting", a.cfg.Server)
		}
		d := a.dispatcher(c, commandOptions())
		defer release(ctx, d)

		rc, err := d.ExecuteQuery(ctx, command.Statement{SQL: strings.Join(args, " ")})
		if err != nil {
			return httperrors.Show(err, "running the query", a.cfg.Server)
		}
		defer rc.Close()

		if _, err := io.Copy(os.Stdout, rc); err != nil {
			return httperrors.Show(rerrors.Transport(err, 0, ""), "reading the result", a.cfg.Server)
		}
		return nil
	},
}

func commandOptions() command.Options {
	return command.Options{
		PrettyPrinting:        queryPretty,
		MaxRows:               queryMaxRows,
		FillResultSetMetaData: queryMeta,
	}
}

func init() {
	queryCmd.Flags().BoolVar(&queryPretty, "pretty", false, "ask the server to pretty-print the result")
	queryCmd.Flags().IntVar(&queryMaxRows, "max-rows", 0, "limit the number of rows; 0 means no limit")
	queryCmd.Flags().BoolVar(&queryMeta, "meta", false, "include result set metadata")
	rootCmd.AddCommand(queryCmd)
}

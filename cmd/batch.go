// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"remotesql/cli/internal/command"
	"remotesql/cli/internal/httperrors"
)

// batchCmd runs a file of statements as one server-side batch.
var batchCmd = &cobra.Command{
	Use:   "batch FILE",
	Short: "Run a file of statements as one batch",
	Long: `The batch command reads one statement per line from FILE ("-" for stdin),
skipping blank lines and lines starting with "--", uploads them as a staging
blob and runs them as a single batch. It prints the update count of each
statement.`,
	Args: cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := current

		statements, err := readStatements(args[0])
		if err != nil {
			return err
		}
		if len(statements) == 0 {
			return fmt.Errorf("%s: no statements", args[0])
		}

		c, _, err := a.connect(ctx, true)
		if err != nil {
			return httperrors.Show(err, "connecting", a.cfg.Server)
		}
		d := a.dispatcher(c, command.Options{})
		defer release(ctx, d)

		counts, err := d.ExecuteBatch(ctx, statements)
		if err != nil {
			return httperrors.Show(err, "running the batch", a.cfg.Server)
		}

		data := pterm.TableData{{"#", "Count", "Statement"}}
		for i, n := range counts {
			stmt := ""
			if i < len(statements) {
				stmt = shorten(statements[i], 60)
			}
			data = append(data, []string{fmt.Sprint(i + 1), fmt.Sprint(n), stmt})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	},
}

func readStatements(name string) ([]string, error) {
	var r io.Reader = os.Stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return parseStatements(r)
}

// parseStatements returns the non-blank, non-comment lines of r.
func parseStatements(r io.Reader) ([]string, error) {
	var res []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		res = append(res, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
}

// Package main is the entry point of the remotesql CLI.
// It runs SQL against databases reachable only through an HTTP REST endpoint.
package main

import (
	"remotesql/cli/cmd"
)

// main initializes and executes the command-line interface.
func main() {
	cmd.Execute()
}

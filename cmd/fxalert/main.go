// Package main provides the entry point for fxalert.
// fxalert reads currency conversion rates from a file, runs the configured
// alerters over them and writes the resulting alerts as JSON lines.
package main

import (
	"os"

	"fxalert/cmd/fxalert/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

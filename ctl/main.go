// Command lightart-ctl talks to a running lightartd over its Unix socket.
// It is meant for scripting and for checking a daemon without the editor.
package main

import (
	"os"

	"github.com/fatih/color"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

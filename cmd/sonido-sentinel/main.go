// Package main provides the sonido-sentinel CLI.
//
// Usage:
//
//	sonido-sentinel [flags] <command> [args]
//
// Commands:
//
//	train     - Learn the normal sound of a machine mode from a recording
//	diagnose  - Score a recording against a trained mode
//	status    - Show which modes have a trained profile
//	serve     - Run the HTTP service
//	version   - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/RyanBlaney/sonido-sentinel/cmd/sonido-sentinel/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

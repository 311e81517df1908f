// Package main is the single-binary entrypoint for Synapse, the
// capability-based task orchestration daemon and its CLI.
package main

import "github.com/synapse-grid/synapse/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}

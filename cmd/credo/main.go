// Package main is the single-binary entrypoint for Credo.
package main

import "github.com/credo-app/credo/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}

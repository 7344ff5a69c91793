// Package main is the single-binary entrypoint for Nexus.
package main

import "github.com/nexus-app/nexus/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}

// Package main is the entry point for the mako CLI.
package main

import (
	"os"

	"github.com/makobot/mako/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

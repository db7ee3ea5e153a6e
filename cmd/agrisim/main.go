// Package main provides the agrisim command.
package main

import (
	"os"

	"github.com/leapstack-labs/agrisim/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

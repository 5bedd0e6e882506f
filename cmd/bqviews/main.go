// Package main provides the bqviews command.
package main

import (
	"os"

	"github.com/leapstack-labs/bqviews/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

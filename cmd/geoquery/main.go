// Package main is the geoquery CLI entry point.
package main

import (
	"os"

	"github.com/leapstack-labs/geoquery/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

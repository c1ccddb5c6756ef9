// Package main is the entry point for the cadrelay application.
package main

import (
	"os"

	"github.com/cadrelay/cadrelay/cmd/cadrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

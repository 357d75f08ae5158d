// Package main is the entry point for the Lumen plugin daemon.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// A .env next to the binary can provide LUMEN_* settings; absence
	// is not an error.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

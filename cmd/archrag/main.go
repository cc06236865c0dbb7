// Package main is the entry point for the archrag CLI.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/archrag/archrag/cmd/archrag/cmd"
)

func main() {
	// Provider API keys commonly live in a local .env during development.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

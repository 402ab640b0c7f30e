// Command observer is the entry point for the civic-observer service.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/civicband/civic-observer-sub002/internal/cli"
)

func main() {
	// Load .env before config reads the environment; absence is fine.
	_ = godotenv.Load()

	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

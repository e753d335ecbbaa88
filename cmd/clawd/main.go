// Package main is the entry point for the clawd daemon and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/jholhewres/clawd/cmd/clawd/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	// Best-effort: commands also read env for tokens, so load .env early.
	_ = godotenv.Load()

	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

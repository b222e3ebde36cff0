// Command mentora is the entry point for the Mentora Bhagavad-gītā study
// companion. It provides a Cobra CLI with an HTTP chat server and a corpus
// ingestion pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/mentora-app/mentora-go/cmd/mentora/commands"
)

func main() {
	// Load .env if present; real env vars always win.
	_ = godotenv.Load()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

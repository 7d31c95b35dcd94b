package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	cli "github.com/bryanm1529/browserwright/cmd/browserwright"
)

func main() {
	// Load .env if present so BROWSERWRIGHT_* overrides work in dev setups.
	_ = godotenv.Load()

	if err := cli.SetupRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/winton/unstorage/internal/cli"
)

func main() {
	// Load the .env file if it exists; flags fall back to UNSTORAGE_* variables
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintln(os.Stderr, "failed to load the env file:", err)
			os.Exit(1)
		}
	}

	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

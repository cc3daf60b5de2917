package main

import (
	"os"

	"github.com/nandika/steward/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

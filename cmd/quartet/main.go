package main

import (
	"os"

	"github.com/quartet-labs/quartet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

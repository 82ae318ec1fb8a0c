package main

import (
	"os"

	"github.com/clusterdeck/clusterdeck/cmd/clusterdeck/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/stratahq/strata/cmd/strata/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/pvsim/pvsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

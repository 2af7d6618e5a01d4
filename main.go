package main

import (
	"os"

	"github.com/reliefops/aidchain/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

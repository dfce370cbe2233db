package main

import (
	"os"

	"github.com/storepulse-systems/storepulse/tools/camsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/jordigilh/kubernaut-sub006/cmd/signalprocessor/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

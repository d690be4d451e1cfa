// Command devhelper is the entry point for the DevHelper RAG assistant.
// It provides a CLI interface (via Cobra) that runs the HTTP gateway, the
// retrieval and generation workers, and the local ingestion tooling.
package main

import (
	"fmt"
	"os"

	"github.com/devhelper/devhelper-go/cmd/devhelper/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

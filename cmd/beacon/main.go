// Command beacon runs the beacon ingestion server and client tools.
package main

import (
	"fmt"
	"os"

	"github.com/Tap30/beacon-go/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

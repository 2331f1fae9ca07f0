// Command provd serves and maintains the research artifact provenance
// store.
package main

import (
	"fmt"
	"os"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub001/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "provd: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}

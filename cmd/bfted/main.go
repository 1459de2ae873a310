// Command bfted runs one BFTE federation peer: it wires internal/config's
// loaded configuration into a store, a transport client/server pair, and a
// driver.Driver, then runs the driver's event loop until interrupted.
package main

import (
	"fmt"
	"os"

	"github.com/bfte-project/bfte/cmd/bfted/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

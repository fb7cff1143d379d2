// Command coordinator runs the cluster coordinator: the HTTP API, the
// dispatch cycle and liveness reconciliation. Its other subcommands are a
// thin operator CLI over the same API.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

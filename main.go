// Lattice - persistent code property graph indexer.
//
// Lattice parses a polyglot source tree into a durable, queryable code
// graph that agents and editors use instead of vector search: symbols,
// call and import edges, cross-file references, and centrality ranking,
// kept current as files change.
package main

import (
	"fmt"
	"os"

	"github.com/lattice-dev/lattice/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

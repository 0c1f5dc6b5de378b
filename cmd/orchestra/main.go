// Command orchestra decomposes natural-language requests into dependency
// graphs of work units and executes them on a pool of capability workers.
package main

import (
	"context"
	"fmt"
	"os"
)

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

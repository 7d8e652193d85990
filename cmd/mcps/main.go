// Command mcps manages MCP server definitions and calls their tools, reusing
// pooled connections held by a background daemon when one is available.
package main

import (
	"context"
	"fmt"
	"os"
)

// version is set at build time via -ldflags "-X main.version=X.Y.Z".
var version = "dev"

func main() {
	a := newApp(os.Stdout, os.Stderr)
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error:"), err)
		os.Exit(exitCode(err))
	}
}

// Command buntime runs untrusted guest scripts under a supervisor/worker
// sandbox: a declarative security policy gates every filesystem, network,
// and exec request the worker issues over a shared-memory ring-buffer
// transport.
package main

import (
	"fmt"
	"os"

	"github.com/abgutierrez/buntime/internal/launcher"
)

func main() {
	launcher.InteractiveTTY = startCommandWithPTY

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "buntime: %v\n", err)
		os.Exit(1)
	}
}

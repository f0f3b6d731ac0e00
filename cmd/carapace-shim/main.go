// Command carapace-shim replaces a user-facing tool binary on PATH and
// forwards every invocation to carapace-agent's CLI ingress socket for
// policy-checked execution.
package main

import "github.com/austinylin/carapace/cmd/carapace-shim/cmd"

func main() {
	cmd.Execute()
}

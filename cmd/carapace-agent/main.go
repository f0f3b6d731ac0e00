// Command carapace-agent is Carapace's untrusted-side ingress process.
package main

import "github.com/austinylin/carapace/cmd/carapace-agent/cmd"

func main() {
	cmd.Execute()
}

// Command carapace-server is Carapace's trusted-side policy gateway.
package main

import "github.com/austinylin/carapace/cmd/carapace-server/cmd"

func main() {
	cmd.Execute()
}

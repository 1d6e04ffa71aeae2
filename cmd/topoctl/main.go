// topoctl -- CLI client for the topod daemon.
package main

import "github.com/dantte-lp/gotopo/cmd/topoctl/commands"

func main() {
	commands.Execute()
}

// gobanchoctl -- CLI client for the gobancho daemon.
package main

import "github.com/dantte-lp/gobancho/cmd/gobanchoctl/commands"

func main() {
	commands.Execute()
}

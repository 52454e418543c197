package main

import (
	"github.com/aton-render/atonstream/cmd/atonstream/commands"
)

// version is overridden during the build with the go linker
var version = "dev"

func main() {
	commands.SetVersion(version)
	commands.Execute()
}

package main

import (
	"os"

	"github.com/agentrt/agentrt/cmd/agentrt/commands"
)

func main() {
	os.Exit(commands.Execute())
}

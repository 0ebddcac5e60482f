package main

import (
	"os"

	"github.com/yairfalse/rankwatch/cmd/rankwatch/commands"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	builtBy   = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, buildTime, builtBy)
	os.Exit(commands.Execute())
}

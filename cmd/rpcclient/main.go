package main

import (
	"os"

	"bluelab/internal/cli/cmd"
)

func main() {
	rootCmd := cmd.NewRPCClientCommand()
	os.Exit(cmd.Execute(rootCmd, os.Stderr))
}

package main

import (
	"os"

	"bluelab/internal/cli/cmd"
)

func main() {
	rootCmd := cmd.NewRPCServerCommand()
	cmd.AddConfigFlag(rootCmd)
	os.Exit(cmd.Execute(rootCmd, os.Stderr))
}

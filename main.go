package main

import (
	"os"

	"go.olrik.dev/warden/cmd"
)

func main() {
	// If no command specified, default to serve
	if len(os.Args) == 1 {
		os.Args = []string{os.Args[0], "serve"}
	}

	root := cmd.NewRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

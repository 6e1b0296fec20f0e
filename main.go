// ./main.go
package main

import (
	"github.com/zed-wong/modified-autoglm/cmd"
)

// main is the entry point for the AutoGLM CLI application.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}

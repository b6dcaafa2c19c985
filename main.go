// The main package for the fetcher executable.
package main

import (
	"github.com/JakeFAU/headless-fetch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

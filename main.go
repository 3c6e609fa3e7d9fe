// The main package for the cromap executable.
package main

import (
	"github.com/JakeFAU/cromap-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

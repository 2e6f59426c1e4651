package main

import (
	"github.com/JakeFAU/linkscraper/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}

// The main package for the nexus executable.
package main

import (
	"os"

	"github.com/JakeFAU/nexus/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

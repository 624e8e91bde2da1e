// The main package for the execution-probe executable.
package main

import (
	"os"

	"github.com/JakeFAU/execution-probe/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}

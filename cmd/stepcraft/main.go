// Command stepcraft manages saved instruction models from the terminal:
// listing, exporting, importing scripts and rendering them to STL.
package main

import (
	"os"
)

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

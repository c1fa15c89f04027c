// Package main is the entry point for the exphub CLI binary.
package main

import (
	"os"

	"exphub/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}

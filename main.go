package main

import (
	"os"

	"github.com/teilomillet/citegate/cli"
)

// main lets `go run .` behave exactly like cmd/citegate.
func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}

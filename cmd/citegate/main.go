// Command citegate runs the message conversion and citation service.
package main

import (
	"os"

	"github.com/teilomillet/citegate/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}

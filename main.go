// Package main is the entry point for the gridstat application
package main

import (
	"github.com/ethpandaops/gridstat/cmd"
)

func main() {
	cmd.Execute()
}

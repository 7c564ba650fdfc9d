package main

import (
	"os"

	"github.com/coupuas/threadauto/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/easygit/ghswitch/cmd/ghswitch/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

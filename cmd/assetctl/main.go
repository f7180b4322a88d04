package main

import (
	"fmt"
	"os"

	"github.com/uma-arai/sbcntr-asset-notifier/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(nil).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

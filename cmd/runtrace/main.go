package main

import (
	"os"

	"github.com/Aleph-Alpha/runtrace/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

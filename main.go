package main

import (
	"os"

	"github.com/zsprackett/tokengauge/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

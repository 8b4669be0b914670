package main

import (
	"os"

	"github.com/platinummonkey/ledmatrix/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}

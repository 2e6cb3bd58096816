package main

import (
	"os"

	"github.com/exoscale/cs/internal/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args))
}

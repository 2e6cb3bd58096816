// Package version implements `cs version`.
package version

import (
	"github.com/exoscale/cs/internal/cmd/base"
	"github.com/exoscale/cs/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return `Usage: cs version

  Prints the version of this client.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.Version)
	return 0
}

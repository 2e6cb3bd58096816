// Package base carries the plumbing shared by all CLI commands.
package base

import (
	"flag"
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

// Command is embedded by every CLI command and provides the UI and the
// logger configured at startup.
type Command struct {
	UI  cli.Ui
	Log hclog.Logger
}

// NewFlagSet returns a flag set that reports errors through the command's
// UI instead of printing its own usage.
func (c *Command) NewFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	return fs
}

package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/exoscale/cs/internal/cmd/base"
	"github.com/exoscale/cs/internal/cmd/commands/call"
	verscmd "github.com/exoscale/cs/internal/cmd/commands/version"
)

// Commands is the registry consumed by the CLI runner.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	baseCommand := &base.Command{
		UI:  ui,
		Log: log,
	}

	Commands = map[string]cli.CommandFactory{
		"call": func() (cli.Command, error) {
			return &call.Command{Command: baseCommand}, nil
		},
		"version": func() (cli.Command, error) {
			return &verscmd.Command{Command: baseCommand}, nil
		},
	}
}

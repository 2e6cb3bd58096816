// Package call implements `cs call`, the generic API command invoker.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/exoscale/cs/internal/cmd/base"
	"github.com/exoscale/cs/internal/config"
	"github.com/exoscale/cs/pkg/cloudstack"
)

type Command struct {
	*base.Command

	flagRegion string
	flagTheme  string
	flagPost   bool
	flagAsync  bool
	flagList   bool
	flagQuiet  bool
	flagTrace  bool
}

func (c *Command) Synopsis() string {
	return "Invoke an API command and print its JSON result"
}

func (c *Command) Help() string {
	return `Usage: cs call [options] COMMAND [OPTION=VALUE ...]

  Invoke any CloudStack API command. Arguments are given as OPTION=VALUE
  pairs; repeating an option builds a list. Asynchronous commands are
  polled to completion unless -async is given.

  Examples:

    cs call listVirtualMachines
    cs call listVirtualMachines -list zone=gva-1
    cs call deployVirtualMachine serviceofferingid=... templateid=... zoneid=...

Options:

  -region=NAME  Profile in cloudstack.ini (default $CLOUDSTACK_REGION or "cloudstack")
  -theme=NAME   Color theme for JSON output (default $CLOUDSTACK_THEME)
  -post         Use POST instead of GET
  -async        Do not wait for the asynchronous job result
  -list         Aggregate all pages of a list command
  -quiet        Do not print additional status messages
  -trace        Trace HTTP requests on stderr`
}

func (c *Command) Run(args []string) int {
	fs := c.NewFlagSet("call")
	fs.StringVar(&c.flagRegion, "region", os.Getenv("CLOUDSTACK_REGION"), "")
	fs.StringVar(&c.flagTheme, "theme", os.Getenv("CLOUDSTACK_THEME"), "")
	fs.BoolVar(&c.flagPost, "post", false, "")
	fs.BoolVar(&c.flagAsync, "async", false, "")
	fs.BoolVar(&c.flagList, "list", false, "")
	fs.BoolVar(&c.flagQuiet, "quiet", false, "")
	fs.BoolVar(&c.flagTrace, "trace", os.Getenv("CLOUDSTACK_TRACE") != "", "")
	if err := fs.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	rest := fs.Args()
	if len(rest) == 0 {
		c.UI.Error("a COMMAND argument is required")
		c.UI.Output(c.Help())
		return 1
	}
	command := rest[0]

	params, err := parseArguments(rest[1:])
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	resolver := &config.Resolver{}
	settings, err := resolver.Resolve(c.flagRegion)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error resolving configuration: %v", err))
		return 1
	}

	cfg := settings.ClientConfig()
	if c.flagPost {
		cfg.Method = "post"
	}
	if c.flagTrace {
		cfg.Trace = true
	}
	cfg.Logger = c.Log

	client, err := cloudstack.New(cfg)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	fetchResult := !c.flagAsync && !strings.Contains(command, "Async")
	opts := []cloudstack.CallOption{cloudstack.WithFetchResult(fetchResult)}
	if c.flagList {
		opts = append(opts, cloudstack.WithFetchList())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	theme := c.flagTheme
	if theme == "" {
		theme = settings.Theme
	}

	res, err := client.Request(ctx, command, params, opts...)
	if err != nil {
		var apiErr *cloudstack.APIError
		var jobErr *cloudstack.JobError
		switch {
		case errors.As(err, &apiErr):
			if !c.flagQuiet {
				c.UI.Error(fmt.Sprintf("CloudStack error: %v", err))
			}
			c.render(apiErr.Response, theme)
		case errors.As(err, &jobErr):
			if !c.flagQuiet {
				c.UI.Error(fmt.Sprintf("CloudStack error: %v", err))
			}
			if jobErr.Result != nil {
				c.render(jobErr.Result, theme)
			}
		default:
			c.UI.Error(fmt.Sprintf("Error: %v", err))
		}
		return 1
	}

	c.render(res.Value(), theme)
	return 0
}

func (c *Command) render(value any, theme string) {
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		c.UI.Error(fmt.Sprintf("error rendering result: %v", err))
		return
	}
	if err := writeJSON(os.Stdout, string(out), theme); err != nil {
		c.UI.Output(string(out))
	}
}

// parseArguments turns OPTION=VALUE pairs into command parameters.
// Repeating an option accumulates the values into a list.
func parseArguments(args []string) (cloudstack.Params, error) {
	collected := map[string][]string{}
	var order []string
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			return nil, fmt.Errorf("%q is not a correctly formatted OPTION=VALUE argument", arg)
		}
		if _, seen := collected[key]; !seen {
			order = append(order, key)
		}
		collected[key] = append(collected[key], strings.Trim(value, ` "'`))
	}

	params := cloudstack.Params{}
	for _, key := range order {
		values := collected[key]
		if len(values) == 1 {
			params[key] = values[0]
		} else {
			params[key] = values
		}
	}
	return params, nil
}

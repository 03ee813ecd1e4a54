package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/desertthunder/dsx/internal/shared"
	"github.com/urfave/cli/v3"
)

// APICall invokes an arbitrary catalog action and prints the raw response.
//
// With --data the action is POSTed as JSON, otherwise it is a GET with --param query values.
func (r *Runner) APICall(ctx context.Context, cmd *cli.Command) error {
	action := strings.TrimSpace(cmd.StringArg("action"))
	data := cmd.String("data")

	if action == "" {
		return fmt.Errorf("%w: action name", shared.ErrMissingArgument)
	}
	if strings.Contains(action, "/") {
		return fmt.Errorf("%w: %q is not an action name", shared.ErrInvalidArgument, action)
	}

	params, err := parseParams(cmd.StringSlice("param"))
	if err != nil {
		return err
	}

	var body []byte
	if data != "" {
		var jsonTest any
		if err := json.Unmarshal([]byte(data), &jsonTest); err != nil {
			return fmt.Errorf("%w: data is not valid JSON: %v", shared.ErrInvalidInput, err)
		}
		body = []byte(data)
	}

	ep, err := r.sideEndpoint(cmd)
	if err != nil {
		return err
	}

	r.logger.Info("action call", "action", action, "catalog", ep.URL, "post", body != nil)
	resp, err := r.client(ep).Call(ctx, action, params, body)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrTransport, err)
	}

	if resp.IsJSON {
		if err := r.writeJSON(resp.JSONData, cmd.Bool("pretty")); err != nil {
			return err
		}
	} else if err := r.writePlain("%s\n", resp.Body); err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned status %d", shared.ErrRemoteRejected, action, resp.StatusCode)
	}
	return nil
}

// parseParams turns key=value pairs into query values.
func parseParams(pairs []string) (url.Values, error) {
	params := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: --param %q must be key=value", shared.ErrInvalidFlag, pair)
		}
		params.Add(key, value)
	}
	return params, nil
}

// apiCommand handles direct action API calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct action API calls against a catalog",
		Commands: []*cli.Command{
			{
				Name:      "call",
				Usage:     "Call an action and print the raw JSON response",
				ArgsUsage: "<action>",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "action",
					},
				},
				Flags: append(endpointFlags("source", "target"), sideFlag(),
					&cli.StringSliceFlag{
						Name:    "param",
						Aliases: []string{"p"},
						Usage:   "Query parameter as key=value (repeatable)",
					},
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "JSON body; switches the call to POST",
					},
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
						Value: true,
					},
				),
				Action: r.APICall,
			},
		},
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
)

// Version is overridden at build time with -ldflags "-X orchardgrid/cmd.Version=...".
var Version = "dev"

const description = `orchardgrid serves an on-device model to OpenAI-compatible clients on the
local network and, optionally, to remote callers through a relay.`

type cli struct {
	Serve   serveCmd   `cmd:"" help:"Start the gateway, the relay client and the status server."`
	Version versionCmd `cmd:"" help:"Print the version and exit."`
}

type serveCmd struct {
	Config  string `short:"c" required:"" type:"path" help:"Path to YAML configuration file."`
	Port    int    `help:"Override the gateway port from configuration."`
	NoRelay bool   `name:"no-relay" help:"Do not connect to the relay even when configuration enables it."`
}

type versionCmd struct{}

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	return execute(ctx, args, os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		args = []string{"--help"}
	}

	var (
		parsed cli
		exited bool
	)
	parser, err := kong.New(&parsed,
		kong.Name("orchardgrid"),
		kong.Description(description),
		kong.Exit(func(int) { exited = true }),
		kong.Writers(stdout, stderr),
		kong.UsageOnError(),
	)
	if err != nil {
		return fmt.Errorf("build cli: %w", err)
	}

	kctx, err := parser.Parse(args)
	if exited {
		return nil
	}
	if err != nil {
		return err
	}

	switch kctx.Command() {
	case "serve":
		return serve(ctx, parsed.Serve)
	case "version":
		fmt.Fprintf(stdout, "orchardgrid %s\n", Version)
		return nil
	default:
		return fmt.Errorf("unknown command %q", kctx.Command())
	}
}

// Command scpi 通过 TCP 套接字或 VISA 资源向仪器发送 SCPI 命令。
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/xiabin827/goscpi/internal/config"
	"github.com/xiabin827/goscpi/internal/logging"
)

// Version 在构建时通过 -ldflags 覆盖。
var Version = "dev"

type app struct {
	opts     *config.Options
	mappings map[string]string
	logs     *logging.Manager

	stdin  io.Reader
	stdout io.Writer
}

func main() {
	cliApp, err := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) (*cli.App, error) {
	opts, err := config.Load("")
	if err != nil {
		return nil, err
	}
	flags, mappings, err := config.GenerateFlags(opts)
	if err != nil {
		return nil, errors.Wrap(err, "generate flags")
	}
	flags = append(flags, &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   config.DefaultConfigFile,
		Usage:   "HCL config file path",
		EnvVars: []string{config.EnvPrefix + "CONFIG"},
	})

	a := &app{
		opts:     opts,
		mappings: mappings,
		logs:     logging.NewManagerWriter(stderr),
		stdin:    stdin,
		stdout:   stdout,
	}

	return &cli.App{
		Name:      "scpi",
		Usage:     "Send SCPI commands to test equipment over TCP/IP or VISA",
		Version:   Version,
		Flags:     flags,
		Before:    a.before,
		After:     a.after,
		Action:    a.shell,
		Writer:    stdout,
		ErrWriter: stderr,
		Commands: []*cli.Command{
			{
				Name:   "shell",
				Usage:  "Interactive SCPI prompt (default)",
				Action: a.shell,
			},
			{
				Name:      "exec",
				Usage:     "Send each argument as one command and print the replies",
				ArgsUsage: "COMMAND...",
				Action:    a.exec,
			},
			{
				Name:  "configure",
				Usage: "Basic AC source configuration followed by a measurement readback",
				Flags: []cli.Flag{
					&cli.Float64Flag{Name: "voltage", Value: 100, Usage: "AC output voltage"},
					&cli.Float64Flag{Name: "frequency", Value: 60, Usage: "Output frequency in Hz"},
					&cli.DurationFlag{Name: "settle", Value: defaultSettle, Usage: "Wait before reading measurements"},
				},
				Action: a.configure,
			},
			{
				Name:   "resources",
				Usage:  "List serial ports as ASRL resources and the registered drivers",
				Action: a.resources,
			},
			{
				Name:  "history",
				Usage: "Print the recorded command transcript",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Number of entries"},
					&cli.BoolFlag{Name: "all", Usage: "Entries of every target, not only the configured one"},
				},
				Action: a.history,
			},
		},
	}, nil
}

func (a *app) before(c *cli.Context) error {
	path := c.String("config")
	if path != "" {
		if err := config.ApplyConfigFile(path, a.opts); err != nil {
			if c.IsSet("config") || !errors.Is(err, config.ErrConfigNotFound) {
				return cli.Exit(err.Error(), 2)
			}
		}
	}
	if err := config.ApplyFlags(a.mappings, c, a.opts); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if err := a.opts.Validate(); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	if err := a.logs.Configure(a.opts.LogLevel, a.opts.LogFile); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	return nil
}

func (a *app) after(c *cli.Context) error {
	return a.logs.Close()
}

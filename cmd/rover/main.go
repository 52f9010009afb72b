package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/skobkin/btrover/internal/app"
)

var stdin io.Reader = os.Stdin

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCLI(ctx).Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		stop()
		os.Exit(1)
	}
}

func newCLI(ctx context.Context) *cli.App {
	cliApp := cli.NewApp()
	cliApp.Name = app.Name
	cliApp.Usage = "drive a Bluetooth SPP rover and read its telemetry"
	cliApp.Version = app.CurrentBuildInfo().String()
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "config file; history and logs are kept beside it",
		},
		cli.StringFlag{
			Name:  "connector",
			Usage: "link backend: rfcomm, serial, tcp or ble",
		},
		cli.StringFlag{
			Name:  "device, d",
			Usage: "device: bluetooth address, serial port or host:port",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
	}
	cliApp.Commands = []cli.Command{
		{
			Name:  "devices",
			Usage: "List paired devices for the configured connector",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "scan",
					Usage: "Scan for BLE devices advertising a UART bridge instead",
				},
				cli.DurationFlag{
					Name:  "duration",
					Value: defaultScanDuration,
					Usage: "How long a BLE scan runs",
				},
			},
			Action: withContext(ctx, devicesCommand),
		},
		{
			Name:      "drive",
			Usage:     "Connect and drive interactively (keys: f b l r s g c x q)",
			ArgsUsage: "[device]",
			Action:    withContext(ctx, driveCommand),
		},
		{
			Name:      "telemetry",
			Usage:     "Connect, request one telemetry reading and disconnect",
			ArgsUsage: "[device]",
			Action:    withContext(ctx, telemetryCommand),
		},
		{
			Name:  "history",
			Usage: "Show stored telemetry readings",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "limit, n",
					Value: app.DefaultHistoryLimit,
					Usage: "Number of readings to show",
				},
				cli.BoolFlag{
					Name:  "clear",
					Usage: "Delete all stored readings",
				},
			},
			Action: withContext(ctx, historyCommand),
		},
		{
			Name:  "config",
			Usage: "Print the effective config",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "save",
					Usage: "Persist the global flag overrides to the config file",
				},
			},
			Action: withContext(ctx, configCommand),
		},
		{
			Name:   "version",
			Usage:  "Print build information",
			Action: versionCommand,
		},
	}

	return cliApp
}

func withContext(ctx context.Context, fn func(context.Context, *cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		return fn(ctx, c)
	}
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli"

	"github.com/skobkin/btrover/internal/app"
	"github.com/skobkin/btrover/internal/bluetoothutil"
	"github.com/skobkin/btrover/internal/config"
	"github.com/skobkin/btrover/internal/control"
	"github.com/skobkin/btrover/internal/domain"
	"github.com/skobkin/btrover/internal/link"
	"github.com/skobkin/btrover/internal/platform"
)

const (
	defaultScanDuration = 10 * time.Second
	deviceLookupTimeout = 3 * time.Second
	awaitMargin         = 2 * time.Second
)

var errNoDevice = errors.New("no device selected: pass one as an argument, use --device or set connection.device in the config")

func runtimeOptions(c *cli.Context, observer control.Observer) app.Options {
	connector := strings.ToLower(strings.TrimSpace(c.GlobalString("connector")))
	device := strings.TrimSpace(c.GlobalString("device"))

	return app.Options{
		ConfigFile: c.GlobalString("config"),
		LogLevel:   c.GlobalString("log-level"),
		Observer:   observer,
		Overrides: func(cfg *config.AppConfig) {
			if connector != "" {
				cfg.Connection.Connector = config.ConnectorType(connector)
			}
			if device != "" {
				cfg.Connection.Device = device
			}
		},
	}
}

func openRuntime(ctx context.Context, c *cli.Context, observer control.Observer) (*app.Runtime, error) {
	return app.Initialize(ctx, runtimeOptions(c, observer))
}

// resolveDevice picks the positional device, then the configured one, and
// fills in its name from the paired list when available.
func resolveDevice(ctx context.Context, c *cli.Context, rt *app.Runtime) (domain.DeviceRef, error) {
	var device domain.DeviceRef
	if arg := strings.TrimSpace(c.Args().First()); arg != "" {
		cfg := rt.CurrentConfig().Connection
		cfg.Device = arg
		device, _ = app.ConfiguredDevice(cfg)
	} else if configured, ok := rt.DefaultDevice(); ok {
		device = configured
	} else {
		return domain.DeviceRef{}, errNoDevice
	}

	lookupCtx, cancel := context.WithTimeout(ctx, deviceLookupTimeout)
	defer cancel()
	if paired, err := rt.PairedDevices(lookupCtx); err == nil {
		for _, candidate := range paired {
			if strings.EqualFold(candidate.ID, device.ID) {
				return candidate, nil
			}
		}
	}

	return device, nil
}

func lockDevice(device domain.DeviceRef) (platform.LinkLock, error) {
	lock, err := platform.AcquireLinkLock(app.Name, device.ID)
	if errors.Is(err, platform.ErrLinkLockUnsupported) {
		return nil, nil
	}
	if errors.Is(err, platform.ErrLinkBusy) {
		return nil, fmt.Errorf("%s is already driven by another %s process", device, app.Name)
	}

	return lock, err
}

func releaseLock(lock platform.LinkLock) {
	if lock != nil {
		_ = lock.Release()
	}
}

func devicesCommand(ctx context.Context, c *cli.Context) error {
	rt, err := openRuntime(ctx, c, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	if c.Bool("scan") {
		scanner := bluetoothutil.NewScanner(c.Duration("duration"))
		found, err := scanner.Scan(ctx, rt.CurrentConfig().Connection.BluetoothAdapter)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, "ADDRESS\tNAME\tRSSI\tUART")
		for _, d := range found {
			uart := ""
			if d.HasUARTService {
				uart = green("yes")
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.Address, d.Name, d.RSSI, uart)
		}

		return nil
	}

	devices, err := rt.PairedDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		_, _ = fmt.Fprintln(w, yellow("no paired devices"))

		return nil
	}
	_, _ = fmt.Fprintln(w, "ID\tNAME")
	for _, d := range devices {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", d.ID, d.Name)
	}

	return nil
}

func telemetryCommand(ctx context.Context, c *cli.Context) error {
	events := newEventStream()
	rt, err := openRuntime(ctx, c, events)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	device, err := resolveDevice(ctx, c, rt)
	if err != nil {
		return err
	}
	lock, err := lockDevice(device)
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	sessionCfg := rt.CurrentConfig().Session
	if err := submitWhenIdle(ctx, rt.Dispatcher.Init); err != nil {
		return err
	}
	if err := submitWhenIdle(ctx, func() error { return rt.Dispatcher.Connect(device) }); err != nil {
		return err
	}
	if _, err := events.await(ctx, sessionCfg.ConnectTimeout()+awaitMargin, control.EventConnected); err != nil {
		return err
	}

	if err := submitWhenIdle(ctx, rt.Dispatcher.RequestTelemetry); err != nil {
		return err
	}
	readWait := time.Duration(0)
	if sessionCfg.ReadTimeout() > 0 {
		readWait = sessionCfg.ReadTimeout() + awaitMargin
	}
	ev, err := events.await(ctx, readWait, control.EventTelemetry)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.App.Writer, formatReading(ev.Reading))

	return nil
}

func driveCommand(ctx context.Context, c *cli.Context) error {
	printer := newConsolePrinter(c.App.Writer)
	rt, err := openRuntime(ctx, c, printer)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	device, err := resolveDevice(ctx, c, rt)
	if err != nil {
		return err
	}
	lock, err := lockDevice(device)
	if err != nil {
		return err
	}
	defer releaseLock(lock)

	printer.Println(keyHelpText())
	if err := submitWhenIdle(ctx, rt.Dispatcher.Init); err != nil {
		return err
	}
	if err := submitWhenIdle(ctx, func() error { return rt.Dispatcher.Connect(device) }); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			for _, press := range parseKeys(line) {
				if quit := handleKey(rt, device, printer, press); quit {
					return nil
				}
			}
		}
	}
}

// handleKey submits one key press and reports whether the user asked to quit.
func handleKey(rt *app.Runtime, device domain.DeviceRef, printer *consolePrinter, press keyPress) bool {
	var err error
	switch press.action {
	case keyMove:
		err = rt.Dispatcher.SendCommand(press.cmd)
	case keyTelemetry:
		err = rt.Dispatcher.RequestTelemetry()
	case keyConnect:
		switch rt.Dispatcher.Snapshot().State {
		case link.StateConnected, link.StateFailed:
			err = rt.Dispatcher.Reconnect()
			if errors.Is(err, control.ErrNoLastDevice) {
				err = rt.Dispatcher.Connect(device)
			}
		default:
			err = rt.Dispatcher.Connect(device)
		}
	case keyClose:
		err = rt.Dispatcher.Close()
	case keyHelp:
		printer.Println(keyHelpText())
	case keyQuit:
		return true
	case keyUnknown:
		printer.Println(yellow(fmt.Sprintf("unknown key %q, press ? for help", press.raw)))
	}

	switch {
	case errors.Is(err, control.ErrBusy):
		printer.Println(yellow("busy, try again"))
	case err != nil:
		printer.Println(red("error: ") + err.Error())
	}

	return false
}

func historyCommand(ctx context.Context, c *cli.Context) error {
	rt, err := openRuntime(ctx, c, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if c.Bool("clear") {
		if err := rt.ClearHistory(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(c.App.Writer, green("history cleared"))

		return nil
	}

	records, err := rt.History(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		_, _ = fmt.Fprintln(c.App.Writer, yellow("no telemetry stored"))

		return nil
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RECEIVED\tDEVICE\tTEMPERATURE\tHUMIDITY")
	for _, rec := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.ReceivedAt.Local().Format(time.DateTime),
			rec.DeviceID,
			rec.Reading.Temperature,
			rec.Reading.Humidity,
		)
	}

	return w.Flush()
}

func configCommand(ctx context.Context, c *cli.Context) error {
	rt, err := openRuntime(ctx, c, nil)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	cfg := rt.CurrentConfig()
	if c.Bool("save") {
		if err := rt.SaveConfig(cfg); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(errWriter(c), green("saved ")+rt.Paths.ConfigFile)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, _ = fmt.Fprintln(c.App.Writer, string(raw))

	return nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}

	return os.Stderr
}

func versionCommand(c *cli.Context) error {
	_, err := fmt.Fprintln(c.App.Writer, app.VersionLine())

	return err
}

// Command usbmux talks to the usbmux daemon.
//
// Usage:
//
//	usbmux [flags] [list|watch|relay|shell]
//
// Flags:
//
//	-config string        Path to a YAML configuration file
//	-socket string        Daemon address, e.g. unix:/var/run/usbmuxd or tcp:127.0.0.1:27015
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  File path for protocol event logging (CBOR format)
//	-timeout duration     Dial and negotiation timeout (default 5s)
//	-relay value          Relay DEVICEPORT[:LOCAL][@SERIAL] (repeatable)
//
// Examples:
//
//	# List attached devices
//	usbmux list
//
//	# Follow attach and detach events, surviving daemon restarts
//	usbmux watch
//
//	# Forward 127.0.0.1:2222 to port 22 on a given device
//	usbmux -relay 22:2222@00008030-001A relay
//
//	# Interactive mode
//	usbmux shell
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/usbmux-protocol/usbmux-go/cmd/usbmux/shell"
	"github.com/usbmux-protocol/usbmux-go/internal/config"
	"github.com/usbmux-protocol/usbmux-go/pkg/connection"
	"github.com/usbmux-protocol/usbmux-go/pkg/device"
	mlog "github.com/usbmux-protocol/usbmux-go/pkg/log"
	"github.com/usbmux-protocol/usbmux-go/pkg/relay"
	"github.com/usbmux-protocol/usbmux-go/pkg/usbmux"
)

// pumpInterval bounds each event wait while the client is shared.
const pumpInterval = 100 * time.Millisecond

var (
	configPath  = flag.String("config", "", "Path to a YAML configuration file")
	socket      = flag.String("socket", "", "Daemon address, e.g. unix:/var/run/usbmuxd or tcp:127.0.0.1:27015")
	logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
	timeout     = flag.Duration("timeout", config.DefaultTimeout, "Dial and negotiation timeout")
	relayFlags  []config.Relay
)

func init() {
	flag.Func("relay", "Relay DEVICEPORT[:LOCAL][@SERIAL] (repeatable)", func(s string) error {
		r, err := config.ParseRelay(s)
		if err != nil {
			return err
		}
		relayFlags = append(relayFlags, r)
		return nil
	})
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	endpoint, err := cfg.Endpoint()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := usbmux.Options{
		Endpoint: endpoint,
		Logger:   logger,
	}

	// Set up protocol logging if requested
	var console mlog.Logger
	if cfg.Level() <= slog.LevelDebug {
		console = mlog.NewSlogAdapter(logger)
	}
	var fileLogger *mlog.FileLogger
	if cfg.ProtocolLog != "" {
		fileLogger, err = mlog.OpenFile(cfg.ProtocolLog, cfg.Capture.FileOptions())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create protocol logger: %v\n", err)
			os.Exit(1)
		}
		logger.Info("protocol logging enabled", "path", cfg.ProtocolLog)
	}
	// Only pass the file logger when non-nil to avoid typed-nil interface issue.
	if fileLogger != nil {
		opts.ProtocolLogger = mlog.Tee(fileLogger, console)
	} else {
		opts.ProtocolLogger = console
	}

	code := run(flag.Arg(0), cfg, opts, logger)
	if fileLogger != nil {
		if err := fileLogger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: protocol log: %v\n", err)
		} else {
			logger.Debug("protocol log closed", "events", fileLogger.Events())
		}
	}
	os.Exit(code)
}

// run executes one subcommand and returns the exit code.
func run(cmd string, cfg config.Config, opts usbmux.Options, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "", "list":
		err = runList(ctx, cfg, opts)
	case "watch":
		err = runWatch(ctx, cfg, opts, logger)
	case "relay":
		err = runRelay(ctx, cfg, opts, logger)
	case "shell":
		err = runShell(ctx, cfg, opts, logger)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		flag.Usage()
		return 2
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig reads -config and applies explicitly set flags on top.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "socket":
			cfg.Socket = *socket
		case "log-level":
			cfg.LogLevel = *logLevel
		case "protocol-log":
			cfg.ProtocolLog = *protocolLog
		case "timeout":
			cfg.Timeout = *timeout
		}
	})
	cfg.Relays = append(cfg.Relays, relayFlags...)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func dial(ctx context.Context, cfg config.Config, opts usbmux.Options) (*usbmux.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	return usbmux.New(ctx, opts)
}

// drain applies queued roster events until a short wait yields nothing.
func drain(c *usbmux.Client) error {
	for {
		delta, err := c.Process(pumpInterval)
		if err != nil {
			return err
		}
		if delta.Empty() {
			return nil
		}
	}
}

func runList(ctx context.Context, cfg config.Config, opts usbmux.Options) error {
	c, err := dial(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := drain(c); err != nil {
		return err
	}
	devices := c.Devices()
	if len(devices) == 0 {
		fmt.Println("No devices attached")
		return nil
	}
	shell.PrintDevices(os.Stdout, devices)
	return nil
}

func runWatch(ctx context.Context, cfg config.Config, opts usbmux.Options, logger *slog.Logger) error {
	w := connection.NewWatcher(func(ctx context.Context) (connection.Session, error) {
		c, err := dial(ctx, cfg, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, connection.WatcherConfig{
		Backoff: cfg.Watch.Backoff(),
		OnEvent: func(ev connection.Event) {
			switch ev.Type {
			case connection.EventAttached, connection.EventDetached:
				fmt.Printf("[%s] %s\n", ev.Type, ev.Device)
			case connection.EventDisconnected:
				fmt.Printf("[%s] %v\n", ev.Type, ev.Err)
			default:
				fmt.Printf("[%s]\n", ev.Type)
			}
		},
		OnReconnecting: func(attempt int, delay time.Duration) {
			logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		},
		Logger: logger,
	})
	return w.Run(ctx)
}

func runRelay(ctx context.Context, cfg config.Config, opts usbmux.Options, logger *slog.Logger) error {
	if len(cfg.Relays) == 0 {
		return errors.New("no relays configured (use -relay or the relays key)")
	}
	c, err := dial(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	src := relay.NewShared(c)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return src.Pump(ctx, pumpInterval, func(delta device.Delta) {
			for _, d := range delta.Added {
				logger.Info("device attached", "device", d.String())
			}
			for _, id := range delta.Removed {
				logger.Info("device detached", "id", id)
			}
		})
	})
	for _, rc := range cfg.Relays {
		r := relay.New(src, relay.Config{
			Listen: rc.Local,
			Serial: rc.Serial,
			Port:   rc.Port,
			Logger: logger,
		})
		if err := r.Listen(); err != nil {
			return err
		}
		logger.Info("relay listening", "local", r.Addr().String(), "port", rc.Port, "serial", rc.Serial)
		g.Go(func() error { return r.Serve(ctx) })
	}
	return g.Wait()
}

func runShell(ctx context.Context, cfg config.Config, opts usbmux.Options, logger *slog.Logger) error {
	c, err := dial(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer c.Close()
	src := relay.NewShared(c)

	sh, err := shell.New(src, c.Codec(), logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := src.Pump(ctx, pumpInterval, sh.ShowDelta)
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(sh.Stdout(), "Session lost: %v\n", err)
		}
	}()

	sh.Run(ctx, cancel)
	return nil
}

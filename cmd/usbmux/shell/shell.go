// Package shell implements the interactive mode of the usbmux command.
package shell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/usbmux-protocol/usbmux-go/pkg/device"
	"github.com/usbmux-protocol/usbmux-go/pkg/relay"
	"github.com/usbmux-protocol/usbmux-go/pkg/version"
	"github.com/usbmux-protocol/usbmux-go/pkg/wire"
)

// Shell runs commands against a shared client.
type Shell struct {
	src    relay.Source
	out    io.Writer
	logger *slog.Logger
	rl     *readline.Instance

	mu      sync.Mutex
	relays map[int]*running
	nextID int
	codec  wire.Codec
}

type running struct {
	cfg    relay.Config
	addr   string
	cancel context.CancelFunc
}

// New creates a shell with a readline prompt on the terminal.
func New(src relay.Source, codec wire.Codec, logger *slog.Logger) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "usbmux> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	s := newShell(src, codec, rl.Stdout(), logger)
	s.rl = rl
	return s, nil
}

func newShell(src relay.Source, codec wire.Codec, out io.Writer, logger *slog.Logger) *Shell {
	return &Shell{
		src:    src,
		out:    out,
		logger: logger,
		relays: make(map[int]*running),
		nextID: 1,
		codec:  codec,
	}
}

// Stdout returns a writer that coordinates with the prompt.
func (s *Shell) Stdout() io.Writer {
	return s.out
}

// ShowDelta prints roster changes.
func (s *Shell) ShowDelta(delta device.Delta) {
	for _, d := range delta.Added {
		fmt.Fprintf(s.out, "[attached] %s\n", d)
	}
	for _, id := range delta.Removed {
		fmt.Fprintf(s.out, "[detached] device %d\n", id)
	}
}

// Run reads commands until quit, EOF or ctx ends. It calls cancel on exit.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()
	defer s.stopAll()

	s.printHelp()
	for ctx.Err() == nil {
		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
		if !s.Exec(ctx, line) {
			cancel()
			return
		}
	}
}

// Exec runs one command line. It returns false when the shell should exit.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()
	case "list", "ls", "devices":
		s.cmdList()
	case "info":
		s.cmdInfo(args)
	case "connect", "probe":
		s.cmdConnect(ctx, args)
	case "relay":
		s.cmdRelay(ctx, args)
	case "relays":
		s.cmdRelays()
	case "stop":
		s.cmdStop(args)
	case "version":
		s.cmdVersion()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return false
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *Shell) printHelp() {
	fmt.Fprintln(s.out, `
usbmux Commands:
  Devices:
    list                       - List attached devices
    info <id|serial>           - Show one device
    connect <id|serial> <port> - Check that a device port accepts relays

  Relays:
    relay <port> [local] [id|serial] - Forward a local TCP address to a device port
    relays                     - List running relays
    stop <n>                   - Stop relay n

  General:
    version                    - Show the negotiated protocol and client identity
    help                       - Show this help
    quit                       - Exit`)
}

func (s *Shell) cmdVersion() {
	fmt.Fprintf(s.out, "Protocol version: %d (%s)\n", s.codec.Version(), s.codec.Name())
	if pc, ok := s.codec.(wire.PlistCodec); ok {
		fmt.Fprintf(s.out, "ProgName:         %s\n", pc.ProgName())
	}
	fmt.Fprintf(s.out, "Client version:   %s\n", version.ClientString())
}

func (s *Shell) cmdList() {
	devices := s.src.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(s.out, "No devices attached")
		return
	}
	PrintDevices(s.out, devices)
}

// PrintDevices writes devices as a table.
func PrintDevices(w io.Writer, devices []device.Device) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSERIAL\tPRODUCT\tLOCATION")
	for _, d := range devices {
		fmt.Fprintf(tw, "%d\t%s\t%#04x\t%#x\n", d.ID, d.Serial, d.ProductID, d.LocationID)
	}
	tw.Flush()
}

func (s *Shell) cmdInfo(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: info <id|serial>")
		return
	}
	d, ok := s.find(args[0])
	if !ok {
		fmt.Fprintf(s.out, "No device matches %q\n", args[0])
		return
	}
	fmt.Fprintf(s.out, "ID:        %d\n", d.ID)
	fmt.Fprintf(s.out, "Serial:    %s\n", d.Serial)
	fmt.Fprintf(s.out, "ProductID: %#04x\n", d.ProductID)
	fmt.Fprintf(s.out, "Location:  %#x\n", d.LocationID)
}

func (s *Shell) cmdConnect(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "Usage: connect <id|serial> <port>")
		return
	}
	d, ok := s.find(args[0])
	if !ok {
		fmt.Fprintf(s.out, "No device matches %q\n", args[0])
		return
	}
	port, err := parsePort(args[1])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := s.src.Connect(ctx, d, port)
	if err != nil {
		fmt.Fprintf(s.out, "Connect failed: %v\n", err)
		return
	}
	conn.Close()
	fmt.Fprintf(s.out, "Device %d port %d accepts connections\n", d.ID, port)
}

func (s *Shell) cmdRelay(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 3 {
		fmt.Fprintln(s.out, "Usage: relay <port> [local] [id|serial]")
		return
	}
	port, err := parsePort(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	cfg := relay.Config{
		Listen: fmt.Sprintf("127.0.0.1:%d", port),
		Port:   port,
		Logger: s.logger,
	}
	if len(args) > 1 {
		cfg.Listen = args[1]
		if !strings.Contains(cfg.Listen, ":") {
			cfg.Listen = "127.0.0.1:" + cfg.Listen
		}
	}
	if len(args) > 2 {
		d, ok := s.find(args[2])
		if !ok {
			fmt.Fprintf(s.out, "No device matches %q\n", args[2])
			return
		}
		cfg.Serial = d.Serial
	}

	r := relay.New(s.src, cfg)
	if err := r.Listen(); err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}

	rctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.relays[id] = &running{cfg: cfg, addr: r.Addr().String(), cancel: cancel}
	s.mu.Unlock()

	go func() {
		err := r.Serve(rctx)
		if err != nil && rctx.Err() == nil {
			fmt.Fprintf(s.out, "Relay %d stopped: %v\n", id, err)
		}
	}()
	fmt.Fprintf(s.out, "Relay %d: %s -> device port %d\n", id, r.Addr(), port)
}

func (s *Shell) cmdRelays() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.relays) == 0 {
		fmt.Fprintln(s.out, "No relays running")
		return
	}
	ids := make([]int, 0, len(s.relays))
	for id := range s.relays {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		r := s.relays[id]
		target := r.cfg.Serial
		if target == "" {
			target = "first device"
		}
		fmt.Fprintf(s.out, "  %d: %s -> %s port %d\n", id, r.addr, target, r.cfg.Port)
	}
}

func (s *Shell) cmdStop(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "Usage: stop <n>")
		return
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "Invalid relay number: %s\n", args[0])
		return
	}
	s.mu.Lock()
	r, ok := s.relays[id]
	delete(s.relays, id)
	s.mu.Unlock()
	if !ok {
		fmt.Fprintf(s.out, "No relay %d\n", id)
		return
	}
	r.cancel()
	fmt.Fprintf(s.out, "Relay %d stopped\n", id)
}

func (s *Shell) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.relays {
		r.cancel()
		delete(s.relays, id)
	}
}

// find resolves a device by numeric ID first, then by serial.
func (s *Shell) find(ref string) (device.Device, bool) {
	if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
		for _, d := range s.src.Devices() {
			if d.ID == uint32(id) {
				return d, true
			}
		}
	}
	return s.src.Lookup(ref)
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid port: %s", s)
	}
	return uint16(n), nil
}

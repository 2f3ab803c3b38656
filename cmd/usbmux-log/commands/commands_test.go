package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/usbmux-protocol/usbmux-go/pkg/log"
)

var (
	ts0    = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	connA  = "aaaaaaaa-1111-2222-3333-444444444444"
	connB  = "bbbbbbbb-1111-2222-3333-444444444444"
	okCode = uint32(0)
)

func sampleEvents() []log.Event {
	return []log.Event{
		{
			Timestamp: ts0, ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerTransport, Category: log.CategoryMessage,
			Frame: &log.FrameEvent{Size: 16, Data: []byte{0x10, 0, 0, 0}},
		},
		{
			Timestamp: ts0.Add(time.Millisecond), ConnectionID: connA, Direction: log.DirectionOut,
			Layer: log.LayerWire, Category: log.CategoryMessage,
			Packet: &log.PacketEvent{Version: 0, Type: 3, Tag: 1, Kind: "Listen"},
		},
		{
			Timestamp: ts0.Add(2 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryMessage,
			Packet: &log.PacketEvent{Version: 0, Type: 1, Tag: 1, Kind: "Result", Code: &okCode},
		},
		{
			Timestamp: ts0.Add(3 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionNone,
			Layer: log.LayerSession, Category: log.CategoryState, Endpoint: "unix:/var/run/usbmuxd",
			StateChange: &log.StateChangeEvent{OldState: "IDLE", NewState: "LISTENING", Reason: "listen accepted"},
		},
		{
			Timestamp: ts0.Add(4 * time.Millisecond), ConnectionID: connA, Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryMessage, DeviceID: 7,
			Packet: &log.PacketEvent{Version: 0, Type: 4, Kind: "DeviceAdd", Serial: "abc123", ProductID: 0x12a8, LocationID: 0x1400},
		},
		{
			Timestamp: ts0.Add(time.Second), ConnectionID: connB, Direction: log.DirectionNone,
			Layer: log.LayerSession, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerSession, Message: "usbmux: connect: daemon returned ConnRefused (3)", Context: "connect"},
		},
	}
}

func writeCapture(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.ulog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestFormatEvents(t *testing.T) {
	var buf bytes.Buffer
	for _, e := range sampleEvents() {
		formatEvent(&buf, e)
	}
	output := buf.String()

	for _, want := range []string{
		"2026-03-02T09:30:00.000000Z [conn:aaaaaaaa] OUT TRANSPORT Frame",
		"Size: 16 bytes",
		"Data: 10000000",
		"WIRE Listen",
		"Result: OK (0)",
		"IDLE -> LISTENING",
		"Endpoint: unix:/var/run/usbmuxd",
		"Device: 7",
		"Serial: abc123  Product: 0x12a8",
		"SESSION Error",
		"Context: connect",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestRunViewFiltered(t *testing.T) {
	path := writeCapture(t, sampleEvents())

	opts := FilterOptions{Layer: "wire", Direction: "in"}
	filter, err := opts.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView: %v", err)
	}
	output := buf.String()
	if strings.Contains(output, "Listen") {
		t.Errorf("outgoing packet not filtered:\n%s", output)
	}
	if got := strings.Count(output, "[conn:"); got != 2 {
		t.Errorf("expected 2 events, got %d:\n%s", got, output)
	}
}

func TestRunFilter(t *testing.T) {
	path := writeCapture(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.ulog")

	n, err := RunFilter(path, out, FilterOptions{ConnID: connB})
	if err != nil {
		t.Fatalf("RunFilter: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}

	stats, err := CollectStats(out)
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if stats.Errors != 1 || stats.TotalEvents != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRunFilterReplacesOutput(t *testing.T) {
	path := writeCapture(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.ulog")

	for i := 0; i < 2; i++ {
		if _, err := RunFilter(path, out, FilterOptions{ConnID: connB}); err != nil {
			t.Fatalf("RunFilter: %v", err)
		}
	}

	stats, err := CollectStats(out)
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if stats.TotalEvents != 1 {
		t.Errorf("second run appended: %d events", stats.TotalEvents)
	}
}

func TestFilterOptionsErrors(t *testing.T) {
	bad := []FilterOptions{
		{Layer: "service"},
		{Direction: "sideways"},
		{Category: "snapshot"},
		{DeviceID: "x"},
		{TimeStart: "yesterday"},
	}
	for _, o := range bad {
		if _, err := o.Build(); err == nil {
			t.Errorf("expected error for %+v", o)
		}
	}

	f, err := FilterOptions{DeviceID: "0x7", TimeEnd: "2026-03-02T10:00:00Z"}.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if f.DeviceID != 7 || f.TimeEnd == nil {
		t.Errorf("unexpected filter: %+v", f)
	}
}

func TestRunStats(t *testing.T) {
	path := writeCapture(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats: %v", err)
	}
	output := buf.String()
	for _, want := range []string{
		"Total Events: 6",
		"Connections: 2",
		"DeviceAdd:",
		"State: LISTENING",
		"Endpoint: unix:/var/run/usbmuxd",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("stats missing %q:\n%s", want, output)
		}
	}
}

func TestRunExport(t *testing.T) {
	path := writeCapture(t, sampleEvents())

	var jsonl bytes.Buffer
	if err := RunExport(path, "jsonl", &jsonl); err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if got := strings.Count(jsonl.String(), "\n"); got != 6 {
		t.Errorf("expected 6 lines, got %d", got)
	}

	var csvOut bytes.Buffer
	if err := RunExport(path, "csv", &csvOut); err != nil {
		t.Fatalf("csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(csvOut.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("expected header + 6 rows, got %d", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,connection_id") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[3], ",Result,1,0") {
		t.Errorf("unexpected result row: %s", lines[3])
	}

	if err := RunExport(path, "xml", &csvOut); err == nil {
		t.Error("expected error for unknown format")
	}
}

package systemd

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	dir, err := os.MkdirTemp("", "sd")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readState(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read notify socket: %v", err)
	}
	return string(buf[:n])
}

func TestReadyWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	sent, err := Ready()
	if err != nil || sent {
		t.Errorf("Ready() = %v, %v; want false, nil", sent, err)
	}
}

func TestReadyAndStopping(t *testing.T) {
	conn := listenNotify(t)

	sent, err := Ready()
	if err != nil || !sent {
		t.Fatalf("Ready() = %v, %v", sent, err)
	}
	if got := readState(t, conn); got != "READY=1" {
		t.Errorf("state = %q, want READY=1", got)
	}

	if _, err := Stopping(); err != nil {
		t.Fatal(err)
	}
	if got := readState(t, conn); got != "STOPPING=1" {
		t.Errorf("state = %q, want STOPPING=1", got)
	}
}

func TestWatchdogPings(t *testing.T) {
	conn := listenNotify(t)
	t.Setenv("WATCHDOG_USEC", "100000")
	t.Setenv("WATCHDOG_PID", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	Watchdog(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if got := readState(t, conn); got != "WATCHDOG=1" {
		t.Errorf("state = %q, want WATCHDOG=1", got)
	}
}

package feedback

import (
	"context"
	"io"
	"log/slog"
	"math"
	"net"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
)

func compound(t *testing.T, pkts ...rtcp.Packet) []byte {
	t.Helper()
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		t.Fatalf("rtcp.Marshal: %v", err)
	}
	return raw
}

func TestParseREMBAndReceiverReport(t *testing.T) {
	raw := compound(t,
		&rtcp.ReceiverReport{SSRC: 1, Reports: []rtcp.ReceptionReport{{SSRC: 42, FractionLost: 64}}},
		&rtcp.ReceiverEstimatedMaximumBitrate{SenderSSRC: 1, Bitrate: 2_000_000, SSRCs: []uint32{42, 7}},
	)

	reports, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports = %+v", reports)
	}
	if r := reports[0]; r.SSRC != 42 || r.Loss != 0.25 || !r.HasLoss() || math.Abs(r.BandwidthKbps-2000) > 1 {
		t.Errorf("ssrc 42 report = %+v", r)
	}
	if r := reports[1]; r.SSRC != 7 || r.HasLoss() || !r.HasBandwidth() {
		t.Errorf("ssrc 7 report = %+v", r)
	}
}

func TestParseInvalid(t *testing.T) {
	if _, err := Parse([]byte{0x00, 0x01}); err == nil {
		t.Error("expected error for truncated packet")
	}
}

func TestInterceptorReportsFeedback(t *testing.T) {
	raw := compound(t, &rtcp.ReceiverEstimatedMaximumBitrate{Bitrate: 1_500_000, SSRCs: []uint32{9}})

	var got []Report
	var invalid []error
	i, err := NewInterceptorFactory(
		func(r Report) { got = append(got, r) },
		func(err error) { invalid = append(invalid, err) },
	).NewInterceptor("")
	if err != nil {
		t.Fatal(err)
	}
	reader := i.BindRTCPReader(interceptor.RTCPReaderFunc(
		func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
			return copy(b, raw), a, nil
		}))

	n, _, err := reader.Read(make([]byte, 1500), nil)
	if err != nil || n != len(raw) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if len(got) != 1 || got[0].SSRC != 9 || math.Abs(got[0].BandwidthKbps-1500) > 1 {
		t.Errorf("reports = %+v", got)
	}

	raw = []byte{0xff}
	if _, _, err := reader.Read(make([]byte, 1500), nil); err != nil {
		t.Fatalf("invalid packet should pass through, got %v", err)
	}
	if len(invalid) != 1 || len(got) != 1 {
		t.Errorf("invalid = %v, reports = %d", invalid, len(got))
	}
}

func TestListenerRoutesBySSRC(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mirrored := make(chan Report, 4)
	mirror := NewInterceptorFactory(func(r Report) { mirrored <- r }, nil)
	l, err := Listen("127.0.0.1:0", logger, mirror)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	routed := make(chan Report, 1)
	other := make(chan Report, 1)
	l.Route(42, func(r Report) { routed <- r })
	l.SetFallback(func(r Report) { other <- r })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx) }()

	conn, err := net.Dial("udp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte{0xff}); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(compound(t, &rtcp.ReceiverEstimatedMaximumBitrate{Bitrate: 800_000, SSRCs: []uint32{42, 5}})); err != nil {
		t.Fatal(err)
	}

	select {
	case r := <-routed:
		if math.Abs(r.BandwidthKbps-800) > 1 {
			t.Errorf("bandwidth = %v, want 800", r.BandwidthKbps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for routed report")
	}
	select {
	case r := <-other:
		if r.SSRC != 5 {
			t.Errorf("fallback ssrc = %d, want 5", r.SSRC)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for fallback report")
	}

	for range 2 {
		select {
		case <-mirrored:
		case <-time.After(2 * time.Second):
			t.Fatal("extra interceptor did not see both reports")
		}
	}
	if received, invalid := l.Stats(); received != 2 || invalid != 1 {
		t.Errorf("stats = %d received, %d invalid", received, invalid)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

// closedConn fails every read as a closed socket and records deadline changes.
type closedConn struct {
	net.PacketConn
	deadlines chan time.Time
}

func (c *closedConn) ReadFrom([]byte) (int, net.Addr, error) {
	return 0, nil, net.ErrClosed
}

func (c *closedConn) SetReadDeadline(t time.Time) error {
	c.deadlines <- t
	return nil
}

func TestServeReleasesContextWatcher(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l, err := Listen("127.0.0.1:0", logger)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.conn.Close(); err != nil {
		t.Fatal(err)
	}
	defer l.chain.Close()
	conn := &closedConn{deadlines: make(chan time.Time, 1)}
	l.conn = conn

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Serve(ctx); err != nil {
		t.Fatalf("Serve on closed socket: %v", err)
	}
	// Let the watcher observe the return before the context ends.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-conn.deadlines:
		t.Error("context watcher outlived Serve")
	case <-time.After(100 * time.Millisecond):
	}
}

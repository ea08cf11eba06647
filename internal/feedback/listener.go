package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pion/interceptor"
)

const maxDatagram = 1500

// Listener receives RTCP over UDP and routes reports to the handler
// registered for their SSRC. Datagrams pass through an interceptor chain;
// extra factories given to Listen see every packet too.
type Listener struct {
	conn     net.PacketConn
	logger   *slog.Logger
	chain    interceptor.Interceptor
	reader   interceptor.RTCPReader
	pending  []byte
	from     net.Addr
	mu       sync.RWMutex
	routes   map[uint32]Handler
	fallback Handler
	received int
	invalid  int
}

// Listen opens a UDP listener on addr.
func Listen(addr string, logger *slog.Logger, factories ...interceptor.Factory) (*Listener, error) {
	l := &Listener{
		logger: logger,
		routes: make(map[uint32]Handler),
	}

	registry := &interceptor.Registry{}
	registry.Add(NewInterceptorFactory(l.dispatch, l.rejected))
	for _, f := range factories {
		registry.Add(f)
	}
	chain, err := registry.Build("")
	if err != nil {
		return nil, fmt.Errorf("failed to build interceptor chain: %w", err)
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		_ = chain.Close()
		return nil, err
	}
	l.conn = conn
	l.chain = chain
	l.reader = chain.BindRTCPReader(interceptor.RTCPReaderFunc(
		func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
			return copy(b, l.pending), a, nil
		}))
	return l, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Route registers h for reports about ssrc. Returns a function removing the
// route.
func (l *Listener) Route(ssrc uint32, h Handler) func() {
	l.mu.Lock()
	l.routes[ssrc] = h
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.routes, ssrc)
		l.mu.Unlock()
	}
}

// SetFallback sets the handler for reports with no registered route.
func (l *Listener) SetFallback(h Handler) {
	l.mu.Lock()
	l.fallback = h
	l.mu.Unlock()
}

// Stats returns the number of datagrams received and rejected.
func (l *Listener) Stats() (received, invalid int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.received, l.invalid
}

// Serve reads datagrams until ctx is cancelled or the socket is closed.
// It must not be called concurrently.
func (l *Listener) Serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = l.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	buf := make([]byte, maxDatagram)
	scratch := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		l.mu.Lock()
		l.received++
		l.mu.Unlock()

		l.pending, l.from = buf[:n], from
		if _, _, err := l.reader.Read(scratch, interceptor.Attributes{}); err != nil {
			l.logger.Debug("Interceptor chain rejected datagram", "from", from.String(), "error", err)
		}
	}
}

func (l *Listener) rejected(err error) {
	l.mu.Lock()
	l.invalid++
	l.mu.Unlock()
	l.logger.Debug("Dropping invalid RTCP datagram", "from", l.from.String(), "error", err)
}

func (l *Listener) dispatch(rep Report) {
	l.mu.RLock()
	h, ok := l.routes[rep.SSRC]
	if !ok {
		h = l.fallback
	}
	l.mu.RUnlock()

	if h == nil {
		l.logger.Debug("No route for RTCP report", "ssrc", rep.SSRC)
		return
	}
	h(rep)
}

// Close closes the socket and the interceptor chain.
func (l *Listener) Close() error {
	return errors.Join(l.conn.Close(), l.chain.Close())
}

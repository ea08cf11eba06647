// Package sink writes emitted frames to their destination.
package sink

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/smazurov/foveanode/internal/encoder"
)

// Sink receives frames in emission order. A write error terminates the
// owning session.
type Sink interface {
	WriteFrame(f *encoder.EncodedFrame) error
	Close() error
}

// Discard is a Sink that drops every frame.
type Discard struct{}

// WriteFrame implements Sink.
func (Discard) WriteFrame(*encoder.EncodedFrame) error { return nil }

// Close implements Sink.
func (Discard) Close() error { return nil }

// Open creates a sink from a target URL:
//
//	""                         frames are discarded
//	file:///path/out.fov       length-prefixed stream file
//	rtp://host:port?ssrc=N&pt=96&mtu=1200
func Open(target string) (Sink, error) {
	if target == "" {
		return Discard{}, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid sink target %q: %w", target, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create sink file: %w", err)
		}
		return NewStreamWriter(f), nil
	case "rtp", "udp":
		opts, err := rtpOptions(u.Query())
		if err != nil {
			return nil, err
		}
		conn, err := net.Dial("udp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s: %w", u.Host, err)
		}
		return NewPacketizer(conn, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported sink scheme %q", u.Scheme)
	}
}

// FileTarget returns the sink URL of a stream file at path.
func FileTarget(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func rtpOptions(q url.Values) ([]PacketizerOption, error) {
	var opts []PacketizerOption
	if s := q.Get("ssrc"); s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid rtp ssrc %q: %w", s, err)
		}
		opts = append(opts, WithSSRC(uint32(v)))
	}
	if s := q.Get("pt"); s != "" {
		v, err := strconv.ParseUint(s, 10, 7)
		if err != nil {
			return nil, fmt.Errorf("invalid rtp payload type %q: %w", s, err)
		}
		opts = append(opts, WithPayloadType(uint8(v)))
	}
	if s := q.Get("mtu"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid rtp mtu %q: %w", s, err)
		}
		opts = append(opts, WithMTU(v))
	}
	return opts, nil
}

package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/smazurov/foveanode/internal/encoder"
)

// RTP defaults.
const (
	DefaultMTU         = 1200
	DefaultPayloadType = 96
	// DefaultClockRate converts millisecond frame timestamps to a 90kHz clock.
	DefaultClockRate = 90

	minMTU = 64
)

// Packetizer splits frames into RTP packets. Each packet is passed to the
// writer in a single Write call, so a connected UDP socket sends one
// datagram per packet. The last packet of a frame carries the marker bit.
type Packetizer struct {
	mu          sync.Mutex
	w           io.Writer
	ssrc        uint32
	payloadType uint8
	mtu         int
	clockRate   uint32
	seq         uint16
	packets     int
}

// PacketizerOption configures a Packetizer.
type PacketizerOption func(*Packetizer)

// WithSSRC sets the synchronization source. By default one is derived from
// a random UUID.
func WithSSRC(ssrc uint32) PacketizerOption {
	return func(p *Packetizer) { p.ssrc = ssrc }
}

// WithPayloadType sets the dynamic payload type.
func WithPayloadType(pt uint8) PacketizerOption {
	return func(p *Packetizer) { p.payloadType = pt & 0x7F }
}

// WithMTU sets the largest packet size including the RTP header.
func WithMTU(mtu int) PacketizerOption {
	return func(p *Packetizer) { p.mtu = max(mtu, minMTU) }
}

// WithClockRate sets the RTP ticks per frame timestamp unit.
func WithClockRate(rate uint32) PacketizerOption {
	return func(p *Packetizer) { p.clockRate = rate }
}

// WithInitialSequence sets the first sequence number.
func WithInitialSequence(seq uint16) PacketizerOption {
	return func(p *Packetizer) { p.seq = seq }
}

// NewPacketizer creates a packetizer writing to w.
func NewPacketizer(w io.Writer, opts ...PacketizerOption) *Packetizer {
	id := uuid.New()
	p := &Packetizer{
		w:           w,
		ssrc:        uint32(id[0])<<24 | uint32(id[1])<<16 | uint32(id[2])<<8 | uint32(id[3]),
		payloadType: DefaultPayloadType,
		mtu:         DefaultMTU,
		clockRate:   DefaultClockRate,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SSRC returns the synchronization source used for every packet.
func (p *Packetizer) SSRC() uint32 {
	return p.ssrc
}

// Packets returns the number of packets written.
func (p *Packetizer) Packets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packets
}

// Packetize splits a frame into packets without writing them.
func (p *Packetizer) Packetize(f *encoder.EncodedFrame) []*rtp.Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.packetize(f)
}

func (p *Packetizer) packetize(f *encoder.EncodedFrame) []*rtp.Packet {
	hdr := rtp.Header{Version: 2}
	room := p.mtu - hdr.MarshalSize()
	ts := uint32(f.Timestamp * uint64(p.clockRate))

	var packets []*rtp.Packet
	data := f.Data
	for {
		n := min(room, len(data))
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    p.payloadType,
				SequenceNumber: p.seq,
				Timestamp:      ts,
				SSRC:           p.ssrc,
				Marker:         n == len(data),
			},
			Payload: data[:n],
		}
		p.seq++
		packets = append(packets, pkt)
		data = data[n:]
		if len(data) == 0 {
			return packets
		}
	}
}

// WriteFrame implements Sink.
func (p *Packetizer) WriteFrame(f *encoder.EncodedFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pkt := range p.packetize(f) {
		buf, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal rtp packet: %w", err)
		}
		if _, err := p.w.Write(buf); err != nil {
			return err
		}
		p.packets++
	}
	return nil
}

// Close closes the underlying writer if it is an io.Closer.
func (p *Packetizer) Close() error {
	if c, ok := p.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Assembler rebuilds frames from RTP packets of one SSRC delivered in order.
type Assembler struct {
	buf     []byte
	nextSeq uint16
	started bool
	broken  bool
}

// Push adds a marshaled packet. It returns the frame bytes when the packet
// carries the marker bit. Frames with a sequence gap are dropped.
func (a *Assembler) Push(raw []byte) ([]byte, bool, error) {
	var pkt rtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, false, fmt.Errorf("invalid rtp packet: %w", err)
	}
	if a.started && pkt.SequenceNumber != a.nextSeq {
		a.broken = true
	}
	a.started = true
	a.nextSeq = pkt.SequenceNumber + 1
	a.buf = append(a.buf, pkt.Payload...)

	if !pkt.Marker {
		return nil, false, nil
	}
	frame, broken := a.buf, a.broken
	a.buf, a.broken = nil, false
	if broken {
		return nil, false, nil
	}
	return frame, true, nil
}

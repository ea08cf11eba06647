// Package feedback turns RTCP receiver feedback into bandwidth reports for
// sessions.
package feedback

import (
	"fmt"

	"github.com/pion/rtcp"
)

// Report is the network state derived from one RTCP compound packet.
type Report struct {
	// SSRC is the media source the report refers to.
	SSRC uint32
	// BandwidthKbps is the receiver's estimate, zero when absent.
	BandwidthKbps float64
	// Loss is the fraction of packets lost in [0,1], negative when absent.
	Loss float64
}

// HasBandwidth reports whether the packet carried a bandwidth estimate.
func (r Report) HasBandwidth() bool {
	return r.BandwidthKbps > 0
}

// HasLoss reports whether the packet carried a loss fraction.
func (r Report) HasLoss() bool {
	return r.Loss >= 0
}

// Parse extracts bandwidth and loss from an RTCP compound packet. REMB
// provides the estimate; receiver reports provide loss.
func Parse(buf []byte) ([]Report, error) {
	packets, err := rtcp.Unmarshal(buf)
	if err != nil {
		return nil, fmt.Errorf("invalid rtcp packet: %w", err)
	}

	bySSRC := make(map[uint32]*Report)
	var order []uint32
	get := func(ssrc uint32) *Report {
		r, ok := bySSRC[ssrc]
		if !ok {
			r = &Report{SSRC: ssrc, Loss: -1}
			bySSRC[ssrc] = r
			order = append(order, ssrc)
		}
		return r
	}

	for _, pkt := range packets {
		switch p := pkt.(type) {
		case *rtcp.ReceiverEstimatedMaximumBitrate:
			for _, ssrc := range p.SSRCs {
				get(ssrc).BandwidthKbps = float64(p.Bitrate) / 1000
			}
		case *rtcp.ReceiverReport:
			for _, rr := range p.Reports {
				get(rr.SSRC).Loss = float64(rr.FractionLost) / 256
			}
		case *rtcp.SenderReport:
			for _, rr := range p.Reports {
				get(rr.SSRC).Loss = float64(rr.FractionLost) / 256
			}
		}
	}

	out := make([]Report, 0, len(order))
	for _, ssrc := range order {
		out = append(out, *bySSRC[ssrc])
	}
	return out, nil
}

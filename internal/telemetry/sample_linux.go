//go:build linux

package telemetry

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

// sampleSockets queries INET_DIAG for tcp_info of every TCP socket
func sampleSockets(family filter.AddressFamily) (map[string]socketSample, error) {
	var families []uint8
	switch family {
	case filter.FamilyIPv4:
		families = []uint8{netlink.FAMILY_V4}
	case filter.FamilyIPv6:
		families = []uint8{netlink.FAMILY_V6}
	default:
		families = []uint8{netlink.FAMILY_V4, netlink.FAMILY_V6}
	}

	samples := make(map[string]socketSample)
	for _, fam := range families {
		resps, err := netlink.SocketDiagTCPInfo(fam)
		if err != nil {
			return nil, fmt.Errorf("inet_diag family %d: %w", fam, err)
		}
		for _, resp := range resps {
			if resp == nil || resp.InetDiagMsg == nil {
				continue
			}
			id := socketIdentity(resp.InetDiagMsg)
			sample := socketSample{state: models.TCPStateFromKernel(resp.InetDiagMsg.State)}
			if resp.TCPInfo != nil {
				sample.basic, sample.extended = convertTCPInfo(resp.TCPInfo)
			}
			samples[id.Key()] = sample
		}
	}
	return samples, nil
}

func socketIdentity(s *netlink.Socket) models.Identity {
	return models.Identity{
		LocalAddr:  s.ID.Source.String(),
		LocalPort:  s.ID.SourcePort,
		RemoteAddr: s.ID.Destination.String(),
		RemotePort: s.ID.DestinationPort,
	}
}

// convertTCPInfo maps tcp_info onto the record counters. The kernel reports
// round-trip times in microseconds.
func convertTCPInfo(info *netlink.TCPInfo) (models.BasicStats, models.ExtendedStats) {
	basic := models.BasicStats{
		BytesIn:     info.Bytes_received,
		BytesOut:    info.Bytes_acked,
		SegmentsIn:  uint64(info.Segs_in),
		SegmentsOut: uint64(info.Segs_out),
	}
	extended := models.ExtendedStats{
		RTT:              float64(info.Rtt) / 1000,
		RTTVar:           float64(info.Rttvar) / 1000,
		MinRTT:           float64(info.Min_rtt) / 1000,
		CongestionWindow: info.Snd_cwnd,
		SendWindowScale:  info.Snd_wscale,
		RecvWindowScale:  info.Rcv_wscale,
		Retransmits:      uint64(info.Total_retrans),
	}
	return basic, extended
}

var defaultSampler sampler = sampleSockets

package models

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// TCPState represents the protocol state of a TCP socket
type TCPState string

const (
	StateUnknown     TCPState = ""
	StateEstablished TCPState = "ESTABLISHED"
	StateSynSent     TCPState = "SYN_SENT"
	StateSynRecv     TCPState = "SYN_RECV"
	StateFinWait1    TCPState = "FIN_WAIT1"
	StateFinWait2    TCPState = "FIN_WAIT2"
	StateTimeWait    TCPState = "TIME_WAIT"
	StateClose       TCPState = "CLOSE"
	StateCloseWait   TCPState = "CLOSE_WAIT"
	StateLastAck     TCPState = "LAST_ACK"
	StateListen      TCPState = "LISTEN"
	StateClosing     TCPState = "CLOSING"
)

// States lists every known state in kernel order. Used to cycle the state filter.
var States = []TCPState{
	StateEstablished,
	StateSynSent,
	StateSynRecv,
	StateFinWait1,
	StateFinWait2,
	StateTimeWait,
	StateClose,
	StateCloseWait,
	StateLastAck,
	StateListen,
	StateClosing,
}

// ParseTCPState normalizes the different spellings used by collectors
// ("FIN_WAIT_1", "fin-wait-1", "CLOSED", ...) into a TCPState.
func ParseTCPState(s string) TCPState {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "FIN_WAIT_1":
		return StateFinWait1
	case "FIN_WAIT_2":
		return StateFinWait2
	case "SYN_RECEIVED":
		return StateSynRecv
	case "CLOSED":
		return StateClose
	}
	for _, st := range States {
		if string(st) == norm {
			return st
		}
	}
	return StateUnknown
}

// TCPStateFromKernel maps the numeric state reported by tcp_info/INET_DIAG.
func TCPStateFromKernel(v uint8) TCPState {
	if v == 0 || int(v) > len(States) {
		return StateUnknown
	}
	return States[v-1]
}

// Identity is the 4-tuple that identifies a connection within one snapshot.
// It is not unique across time: the OS may reuse a port for a later socket.
type Identity struct {
	LocalAddr  string `json:"local_addr"`
	LocalPort  uint16 `json:"local_port"`
	RemoteAddr string `json:"remote_addr"`
	RemotePort uint16 `json:"remote_port"`
}

// SameIdentity is the one comparison used for selection, history extraction
// and deduplication. Addresses are compared in canonical form so "::ffff:10.0.0.1"
// and "10.0.0.1" refer to the same endpoint.
func SameIdentity(a, b Identity) bool {
	return a.LocalPort == b.LocalPort &&
		a.RemotePort == b.RemotePort &&
		canonicalAddr(a.LocalAddr) == canonicalAddr(b.LocalAddr) &&
		canonicalAddr(a.RemoteAddr) == canonicalAddr(b.RemoteAddr)
}

// Key returns a canonical string usable as a map key. Two identities have
// the same key exactly when SameIdentity reports true.
func (id Identity) Key() string {
	return canonicalAddr(id.LocalAddr) + "|" + strconv.Itoa(int(id.LocalPort)) + "|" +
		canonicalAddr(id.RemoteAddr) + "|" + strconv.Itoa(int(id.RemotePort))
}

// String returns a string representation of the identity
func (id Identity) String() string {
	return fmt.Sprintf("%s -> %s", JoinHostPort(id.LocalAddr, id.LocalPort), JoinHostPort(id.RemoteAddr, id.RemotePort))
}

// JoinHostPort formats an address/port pair, bracketing IPv6 addresses
func JoinHostPort(addr string, port uint16) string {
	return net.JoinHostPort(addr, strconv.Itoa(int(port)))
}

func canonicalAddr(s string) string {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return s
	}
	return addr.Unmap().WithZone("").String()
}

// BasicStats are the byte and segment counters of a socket
type BasicStats struct {
	BytesIn     uint64 `json:"bytes_in"`
	BytesOut    uint64 `json:"bytes_out"`
	SegmentsIn  uint64 `json:"segments_in"`
	SegmentsOut uint64 `json:"segments_out"`
}

// ExtendedStats are tcp_info derived counters. They are only available when
// the collector runs with elevated privilege.
type ExtendedStats struct {
	RTT              float64 `json:"rtt_ms"`
	RTTVar           float64 `json:"rtt_var_ms"`
	MinRTT           float64 `json:"min_rtt_ms"`
	CongestionWindow uint32  `json:"cwnd"`
	SendWindowScale  uint8   `json:"snd_wscale"`
	RecvWindowScale  uint8   `json:"rcv_wscale"`
	InBandwidth      float64 `json:"in_bps"`
	OutBandwidth     float64 `json:"out_bps"`
	Retransmits      uint64  `json:"retransmits"`
	FastRetransmits  uint64  `json:"fast_retransmits"`
}

// ConnectionRecord is one row of a connection snapshot. Records are created
// fresh on every poll; there is no persistent identity object.
type ConnectionRecord struct {
	Identity
	PID         int32          `json:"pid"`
	ProcessName string         `json:"process,omitempty"`
	State       TCPState       `json:"state"`
	Basic       *BasicStats    `json:"basic,omitempty"`
	Extended    *ExtendedStats `json:"extended,omitempty"`
	ObservedAt  time.Time      `json:"observed_at"`
}

// IsIPv6 reports whether the local endpoint is an IPv6 (non IPv4-mapped) address
func (c ConnectionRecord) IsIPv6() bool {
	addr, err := netip.ParseAddr(c.LocalAddr)
	if err != nil {
		return strings.Contains(c.LocalAddr, ":")
	}
	return addr.Unmap().Is6()
}

// RTT returns the smoothed round trip time in milliseconds, 0 when unknown
func (c ConnectionRecord) RTT() float64 {
	if c.Extended == nil {
		return 0
	}
	return c.Extended.RTT
}

// BytesIn returns the received byte counter, 0 when unknown
func (c ConnectionRecord) BytesIn() uint64 {
	if c.Basic == nil {
		return 0
	}
	return c.Basic.BytesIn
}

// BytesOut returns the sent byte counter, 0 when unknown
func (c ConnectionRecord) BytesOut() uint64 {
	if c.Basic == nil {
		return 0
	}
	return c.Basic.BytesOut
}

// InBandwidth returns the inbound rate in bits per second, 0 when unknown
func (c ConnectionRecord) InBandwidth() float64 {
	if c.Extended == nil {
		return 0
	}
	return c.Extended.InBandwidth
}

// OutBandwidth returns the outbound rate in bits per second, 0 when unknown
func (c ConnectionRecord) OutBandwidth() float64 {
	if c.Extended == nil {
		return 0
	}
	return c.Extended.OutBandwidth
}

// Retransmits returns the total retransmission count, 0 when unknown
func (c ConnectionRecord) Retransmits() uint64 {
	if c.Extended == nil {
		return 0
	}
	return c.Extended.Retransmits
}

// Service returns the well known service name for either port
func (c ConnectionRecord) Service() string {
	if name := ServiceForPort(c.RemotePort); name != "" {
		return name
	}
	return ServiceForPort(c.LocalPort)
}

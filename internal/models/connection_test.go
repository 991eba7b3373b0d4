package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSameIdentity(t *testing.T) {
	a := Identity{LocalAddr: "10.0.0.1", LocalPort: 5000, RemoteAddr: "1.1.1.1", RemotePort: 443}

	assert.True(t, SameIdentity(a, a))

	mapped := a
	mapped.LocalAddr = "::ffff:10.0.0.1"
	assert.True(t, SameIdentity(a, mapped))
	assert.Equal(t, a.Key(), mapped.Key())

	otherPort := a
	otherPort.RemotePort = 80
	assert.False(t, SameIdentity(a, otherPort))
	assert.NotEqual(t, a.Key(), otherPort.Key())

	swapped := Identity{LocalAddr: a.RemoteAddr, LocalPort: a.RemotePort, RemoteAddr: a.LocalAddr, RemotePort: a.LocalPort}
	assert.False(t, SameIdentity(a, swapped))
}

func TestParseTCPState(t *testing.T) {
	cases := map[string]TCPState{
		"ESTABLISHED": StateEstablished,
		"established": StateEstablished,
		"FIN_WAIT_1":  StateFinWait1,
		"fin-wait-2":  StateFinWait2,
		"CLOSED":      StateClose,
		"LISTEN":      StateListen,
		"bogus":       StateUnknown,
		"":            StateUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseTCPState(in), in)
	}
}

func TestTCPStateFromKernel(t *testing.T) {
	assert.Equal(t, StateEstablished, TCPStateFromKernel(1))
	assert.Equal(t, StateListen, TCPStateFromKernel(10))
	assert.Equal(t, StateClosing, TCPStateFromKernel(11))
	assert.Equal(t, StateUnknown, TCPStateFromKernel(0))
	assert.Equal(t, StateUnknown, TCPStateFromKernel(42))
}

func TestMissingStatsReadAsZero(t *testing.T) {
	rec := ConnectionRecord{Identity: Identity{LocalAddr: "::1", LocalPort: 1, RemoteAddr: "::1", RemotePort: 2}}

	assert.Zero(t, rec.RTT())
	assert.Zero(t, rec.BytesIn())
	assert.Zero(t, rec.BytesOut())
	assert.Zero(t, rec.InBandwidth())
	assert.Zero(t, rec.OutBandwidth())
	assert.Zero(t, rec.Retransmits())
	assert.True(t, rec.IsIPv6())
}

func TestService(t *testing.T) {
	rec := ConnectionRecord{Identity: Identity{LocalAddr: "10.0.0.2", LocalPort: 51000, RemoteAddr: "1.1.1.1", RemotePort: 443}}
	assert.Equal(t, "HTTPS", rec.Service())

	rec.RemotePort = 60000
	rec.LocalPort = 22
	assert.Equal(t, "SSH", rec.Service())
}

//go:build !linux

package telemetry

import "github.com/iolloyd/tcpdoctor/internal/filter"

func sampleSockets(filter.AddressFamily) (map[string]socketSample, error) {
	return nil, ErrUnsupported
}

var defaultSampler sampler = sampleSockets

package telemetry

import (
	"errors"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

// ErrUnsupported is returned by samplers on platforms without per-socket counters
var ErrUnsupported = errors.New("telemetry: per-socket counters not supported on this platform")

// socketSample holds the kernel counters of one socket
type socketSample struct {
	state    models.TCPState
	basic    models.BasicStats
	extended models.ExtendedStats
}

// sampler returns per-socket counters keyed by models.Identity.Key
type sampler func(family filter.AddressFamily) (map[string]socketSample, error)

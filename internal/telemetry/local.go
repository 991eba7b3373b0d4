// Package telemetry reads the host's TCP connection table. The socket list
// comes from gopsutil; on Linux per-socket counters come from INET_DIAG
// tcp_info. Counters are optional: when they cannot be read the records
// carry no stats and the fetch still succeeds.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-logr/logr"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

// LocalOptions configures a LocalSource
type LocalOptions struct {
	Clock     clock.Clock
	Logger    logr.Logger
	Processes *ProcessResolver
}

// LocalSource fetches connections of the local host
type LocalSource struct {
	list      func(ctx context.Context, kind string) ([]gnet.ConnectionStat, error)
	sample    sampler
	processes *ProcessResolver
	clock     clock.Clock
	logger    logr.Logger

	// mu guards the rate state; fetches of different generations may overlap
	mu            sync.Mutex
	rates         *rateTracker
	samplerWarned bool
}

// NewLocalSource creates a source reading the local connection table
func NewLocalSource(opts LocalOptions) *LocalSource {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	processes := opts.Processes
	if processes == nil {
		processes = NewProcessResolver(0, 0)
	}
	return &LocalSource{
		list:      gnet.ConnectionsWithContext,
		sample:    defaultSampler,
		processes: processes,
		clock:     clk,
		logger:    logger.WithName("telemetry"),
		rates:     newRateTracker(),
	}
}

func connectionKind(family filter.AddressFamily) string {
	switch family {
	case filter.FamilyIPv4:
		return "tcp4"
	case filter.FamilyIPv6:
		return "tcp6"
	default:
		return "tcp"
	}
}

// FetchConnections returns every TCP connection of the host. Only the
// address family of criteria narrows the query; the remaining predicates
// are applied by the caller.
func (s *LocalSource) FetchConnections(ctx context.Context, criteria filter.Criteria) ([]models.ConnectionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats, err := s.list(ctx, connectionKind(criteria.Family))
	if err != nil {
		return nil, fmt.Errorf("listing tcp connections: %w", err)
	}

	records := make([]models.ConnectionRecord, 0, len(stats))
	for _, st := range stats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records = append(records, s.convert(ctx, st))
	}

	samples, err := s.sample(criteria.Family)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if !s.samplerWarned {
			s.logger.Info("Per-socket counters unavailable, showing connections without stats", "reason", err.Error())
			s.samplerWarned = true
		}
		samples = nil
	}

	now := s.clock.Now()
	for i := range records {
		if sample, ok := samples[records[i].Key()]; ok {
			s.applySample(&records[i], sample, now)
		}
	}
	s.rates.sweep()

	s.logger.V(1).Info("Fetched connections", "count", len(records), "withStats", len(samples) > 0)
	return records, nil
}

func (s *LocalSource) convert(ctx context.Context, st gnet.ConnectionStat) models.ConnectionRecord {
	return models.ConnectionRecord{
		Identity: models.Identity{
			LocalAddr:  st.Laddr.IP,
			LocalPort:  uint16(st.Laddr.Port),
			RemoteAddr: st.Raddr.IP,
			RemotePort: uint16(st.Raddr.Port),
		},
		PID:         st.Pid,
		ProcessName: s.processes.Name(ctx, st.Pid),
		State:       models.ParseTCPState(st.Status),
	}
}

func (s *LocalSource) applySample(rec *models.ConnectionRecord, sample socketSample, now time.Time) {
	if rec.State == models.StateUnknown {
		rec.State = sample.state
	}
	basic := sample.basic
	extended := sample.extended
	extended.InBandwidth, extended.OutBandwidth = s.rates.observe(rec.Key(), now, basic.BytesIn, basic.BytesOut)
	rec.Basic = &basic
	rec.Extended = &extended
}

package telemetry

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	defaultProcessCacheSize = 4096
	defaultProcessCacheTTL  = 30 * time.Second
	processLookupTimeout    = 200 * time.Millisecond
)

// ProcessResolver maps pids to process names with caching. Failed lookups
// are cached too, so short-lived or foreign processes are not retried on
// every poll.
type ProcessResolver struct {
	cache  *expirable.LRU[int32, string]
	lookup func(ctx context.Context, pid int32) (string, error)
}

// NewProcessResolver creates a resolver whose entries expire after ttl
func NewProcessResolver(size int, ttl time.Duration) *ProcessResolver {
	if size <= 0 {
		size = defaultProcessCacheSize
	}
	if ttl <= 0 {
		ttl = defaultProcessCacheTTL
	}
	return &ProcessResolver{
		cache:  expirable.NewLRU[int32, string](size, nil, ttl),
		lookup: lookupProcessName,
	}
}

func lookupProcessName(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.NameWithContext(ctx)
}

// Name returns the process name of pid, or "" when it cannot be resolved
func (r *ProcessResolver) Name(ctx context.Context, pid int32) string {
	if pid <= 0 {
		return ""
	}
	if name, ok := r.cache.Get(pid); ok {
		return name
	}

	ctx, cancel := context.WithTimeout(ctx, processLookupTimeout)
	defer cancel()

	name, err := r.lookup(ctx, pid)
	if err != nil {
		name = ""
	}
	r.cache.Add(pid, name)
	return name
}

// Purge drops every cached name
func (r *ProcessResolver) Purge() {
	r.cache.Purge()
}

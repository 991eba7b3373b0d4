package filter

import (
	"net/netip"
	"strconv"
	"strings"

	"github.com/iolloyd/tcpdoctor/internal/models"
	"github.com/samber/lo"
)

// Predicate reports whether a connection passes a filter
type Predicate func(rec models.ConnectionRecord) bool

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
}

// IsPrivate reports whether addr is RFC1918 or loopback
func IsPrivate(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap().WithZone("")
	for _, p := range privatePrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// IsLoopback reports whether addr is in 127.0.0.0/8 or is ::1
func IsLoopback(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	return ip.Unmap().IsLoopback()
}

// Build compiles criteria into a predicate. Metric expressions are parsed
// once here rather than per record.
func Build(c Criteria) Predicate {
	search := strings.ToLower(strings.TrimSpace(c.Search))

	type boundCondition struct {
		field Field
		cmp   Comparator
	}
	conds := lo.Map(c.Metrics, func(mc MetricCondition, _ int) boundCondition {
		return boundCondition{field: mc.Field, cmp: Compile(mc.Expr)}
	})

	return func(rec models.ConnectionRecord) bool {
		if search != "" && !matchesSearch(rec, search) {
			return false
		}

		switch c.Family {
		case FamilyIPv4:
			if rec.IsIPv6() {
				return false
			}
		case FamilyIPv6:
			if !rec.IsIPv6() {
				return false
			}
		}

		if c.State != models.StateUnknown && rec.State != c.State {
			return false
		}
		if c.HidePrivate && IsPrivate(rec.RemoteAddr) {
			return false
		}
		if c.HideLoopback && IsLoopback(rec.RemoteAddr) {
			return false
		}

		for _, bc := range conds {
			if !bc.cmp(bc.field.value(rec)) {
				return false
			}
		}
		return true
	}
}

// Evaluate reports whether rec passes criteria. It has no side effects.
func Evaluate(rec models.ConnectionRecord, c Criteria) bool {
	return Build(c)(rec)
}

// Apply returns the records passing criteria, preserving order. The input
// slice is not modified.
func Apply(records []models.ConnectionRecord, c Criteria) []models.ConnectionRecord {
	if c.Empty() {
		return records
	}
	pred := Build(c)
	return lo.Filter(records, func(rec models.ConnectionRecord, _ int) bool {
		return pred(rec)
	})
}

func matchesSearch(rec models.ConnectionRecord, needle string) bool {
	fields := []string{
		rec.LocalAddr,
		rec.RemoteAddr,
		strconv.Itoa(int(rec.LocalPort)),
		strconv.Itoa(int(rec.RemotePort)),
		rec.ProcessName,
		rec.Service(),
	}
	// 0 means the owning process is unknown
	if rec.PID > 0 {
		fields = append(fields, strconv.Itoa(int(rec.PID)))
	}
	for _, f := range fields {
		if f != "" && strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

package filter

import (
	"strings"

	"github.com/iolloyd/tcpdoctor/internal/models"
)

// AddressFamily restricts the filter to one IP family. A single tri-state
// field makes "IPv4 only and IPv6 only" unrepresentable.
type AddressFamily int

const (
	FamilyAny AddressFamily = iota
	FamilyIPv4
	FamilyIPv6
)

// String returns the configuration spelling of the family
func (f AddressFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "any"
	}
}

// ParseAddressFamily accepts "ipv4"/"4", "ipv6"/"6"; anything else is FamilyAny
func ParseAddressFamily(s string) AddressFamily {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ipv4", "4", "inet":
		return FamilyIPv4
	case "ipv6", "6", "inet6":
		return FamilyIPv6
	default:
		return FamilyAny
	}
}

// Field names a metric a condition is bound to
type Field string

const (
	FieldRTT         Field = "rtt"
	FieldBytesIn     Field = "bytes_in"
	FieldBytesOut    Field = "bytes_out"
	FieldBandwidth   Field = "bandwidth"
	FieldRetransmits Field = "retrans"
)

// Fields lists the bindable metrics
var Fields = []Field{FieldRTT, FieldBytesIn, FieldBytesOut, FieldBandwidth, FieldRetransmits}

var fieldAliases = map[string]Field{
	"rtt":         FieldRTT,
	"bytes_in":    FieldBytesIn,
	"in":          FieldBytesIn,
	"rx":          FieldBytesIn,
	"bytes_out":   FieldBytesOut,
	"out":         FieldBytesOut,
	"tx":          FieldBytesOut,
	"bandwidth":   FieldBandwidth,
	"bw":          FieldBandwidth,
	"retrans":     FieldRetransmits,
	"retransmits": FieldRetransmits,
}

// ParseField resolves a field name or alias
func ParseField(s string) (Field, bool) {
	f, ok := fieldAliases[strings.ToLower(strings.TrimSpace(s))]
	return f, ok
}

// value extracts the metric from a record. Missing statistics read as 0.
func (f Field) value(rec models.ConnectionRecord) float64 {
	switch f {
	case FieldRTT:
		return rec.RTT()
	case FieldBytesIn:
		return float64(rec.BytesIn())
	case FieldBytesOut:
		return float64(rec.BytesOut())
	case FieldBandwidth:
		return max(rec.InBandwidth(), rec.OutBandwidth())
	case FieldRetransmits:
		return float64(rec.Retransmits())
	}
	return 0
}

// MetricCondition binds a condition expression to a metric field
type MetricCondition struct {
	Field Field  `yaml:"field" json:"field"`
	Expr  string `yaml:"expr" json:"expr"`
}

// ParseMetricCondition parses "<field> <expr>", e.g. "rtt > 50" or "bw>=1.5M"
func ParseMetricCondition(s string) (MetricCondition, bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "<>= .0123456789")
	if i <= 0 {
		return MetricCondition{}, false
	}
	field, ok := ParseField(s[:i])
	if !ok {
		return MetricCondition{}, false
	}
	return MetricCondition{Field: field, Expr: strings.TrimSpace(s[i:])}, true
}

// String returns the condition in the form accepted by ParseMetricCondition
func (mc MetricCondition) String() string {
	return string(mc.Field) + " " + mc.Expr
}

// Criteria is a conjunction of independent predicates. The zero value
// matches every record.
type Criteria struct {
	Search       string
	Family       AddressFamily
	State        models.TCPState
	HidePrivate  bool
	HideLoopback bool
	Metrics      []MetricCondition
}

// ToggleIPv4Only flips the IPv4 restriction, clearing IPv6 only when enabled
func (c *Criteria) ToggleIPv4Only() {
	if c.Family == FamilyIPv4 {
		c.Family = FamilyAny
		return
	}
	c.Family = FamilyIPv4
}

// ToggleIPv6Only flips the IPv6 restriction, clearing IPv4 only when enabled
func (c *Criteria) ToggleIPv6Only() {
	if c.Family == FamilyIPv6 {
		c.Family = FamilyAny
		return
	}
	c.Family = FamilyIPv6
}

// IPv4Only reports whether the IPv4 switch is on
func (c Criteria) IPv4Only() bool { return c.Family == FamilyIPv4 }

// IPv6Only reports whether the IPv6 switch is on
func (c Criteria) IPv6Only() bool { return c.Family == FamilyIPv6 }

// Empty returns true when the criteria cannot reject anything
func (c Criteria) Empty() bool {
	return c.Search == "" && c.Family == FamilyAny && c.State == models.StateUnknown &&
		!c.HidePrivate && !c.HideLoopback && len(c.Metrics) == 0
}

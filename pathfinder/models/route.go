package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BridgeType is the transport class of a hop.
type BridgeType uint8

const (
	BridgeNative BridgeType = iota
	BridgeWrapped
	BridgeAtomicSwap
	BridgeMessage
	BridgeLightClient
)

var bridgeTypeNames = []string{"native", "wrapped", "atomic-swap", "message-bridge", "light-client"}

func (b BridgeType) String() string {
	if int(b) < len(bridgeTypeNames) {
		return bridgeTypeNames[b]
	}
	return fmt.Sprintf("bridge(%d)", uint8(b))
}

// Valid reports whether b is one of the known bridge types.
func (b BridgeType) Valid() bool { return int(b) < len(bridgeTypeNames) }

// ParseBridgeType accepts the names produced by String, case-insensitively.
// "message" and "light_client" style spellings used in config files are accepted too.
func ParseBridgeType(s string) (BridgeType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	if norm == "message" {
		norm = "message-bridge"
	}
	for i, name := range bridgeTypeNames {
		if name == norm {
			return BridgeType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown bridge type %q", s)
}

func (b BridgeType) MarshalText() ([]byte, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("unknown bridge type %d", uint8(b))
	}
	return []byte(b.String()), nil
}

func (b *BridgeType) UnmarshalText(text []byte) error {
	parsed, err := ParseBridgeType(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// RouteHop is one bridge crossing. From never equals To.
type RouteHop struct {
	From          string        `json:"from"`
	To            string        `json:"to"`
	Bridge        BridgeType    `json:"bridge"`
	Cost          uint64        `json:"cost"`
	Latency       time.Duration `json:"latency"`
	Confirmations uint32        `json:"confirmations"`
}

// Route is an ordered hop sequence from source to destination.
type Route struct {
	Hops             []RouteHop    `json:"hops"`
	TotalCost        uint64        `json:"total_cost"`
	Latency          time.Duration `json:"latency"`
	MinConfirmations uint32        `json:"min_confirmations"` // worst case across hops
	TrustMinimised   bool          `json:"trust_minimised"`   // last hop is a light-client bridge
}

// AddCost sums route costs, saturating at math.MaxUint64.
func AddCost(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// AddLatency sums non-negative latencies, saturating at math.MaxInt64.
func AddLatency(a, b time.Duration) time.Duration {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// NewRoute computes the aggregate fields from the hops.
func NewRoute(hops []RouteHop) *Route {
	r := &Route{Hops: hops}
	for _, h := range hops {
		r.TotalCost = AddCost(r.TotalCost, h.Cost)
		r.Latency = AddLatency(r.Latency, h.Latency)
		if h.Confirmations > r.MinConfirmations {
			r.MinConfirmations = h.Confirmations
		}
	}
	if len(hops) > 0 {
		r.TrustMinimised = hops[len(hops)-1].Bridge == BridgeLightClient
	}
	return r
}

// Clone returns a deep copy so cached routes can be handed out safely.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	out := *r
	out.Hops = append([]RouteHop(nil), r.Hops...)
	return &out
}

// Source returns the first chain of the route.
func (r *Route) Source() string {
	if len(r.Hops) == 0 {
		return ""
	}
	return r.Hops[0].From
}

// Destination returns the last chain of the route.
func (r *Route) Destination() string {
	if len(r.Hops) == 0 {
		return ""
	}
	return r.Hops[len(r.Hops)-1].To
}

// Path lists every chain the route visits, source first.
func (r *Route) Path() []string {
	if len(r.Hops) == 0 {
		return nil
	}
	path := make([]string, 0, len(r.Hops)+1)
	path = append(path, r.Hops[0].From)
	for _, h := range r.Hops {
		path = append(path, h.To)
	}
	return path
}

// Validate checks that the route starts at from, ends at to and that adjacent hops
// share the intermediate chain.
func (r *Route) Validate(from, to string) error {
	if len(r.Hops) == 0 {
		return NewError(KindRouting, "route has no hops")
	}
	if r.Source() != from {
		return NewError(KindRouting, fmt.Sprintf("route starts at %s, want %s", r.Source(), from))
	}
	if r.Destination() != to {
		return NewError(KindRouting, fmt.Sprintf("route ends at %s, want %s", r.Destination(), to))
	}
	for i, h := range r.Hops {
		if h.From == h.To {
			return NewError(KindRouting, fmt.Sprintf("hop %d loops on %s", i, h.From))
		}
		if i > 0 && r.Hops[i-1].To != h.From {
			return NewError(KindRouting, fmt.Sprintf("hop %d starts at %s but previous hop ends at %s", i, h.From, r.Hops[i-1].To))
		}
	}
	return nil
}

func (r *Route) String() string {
	return fmt.Sprintf("%s (cost=%d hops=%d)", strings.Join(r.Path(), "->"), r.TotalCost, len(r.Hops))
}

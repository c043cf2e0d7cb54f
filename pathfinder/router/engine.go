package router

import (
	"cmp"
	"container/heap"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/rs/zerolog"
)

var engineLog zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	engineLog = zerolog.New(out).With().Timestamp().Str("component", "engine").Logger()
}

var (
	// ErrNoPath is returned when the search had nothing to evaluate.
	ErrNoPath = &models.Error{Kind: models.KindRouting, Detail: "no path"}
	// ErrSearchExhausted is returned when candidates were evaluated but none reached
	// the destination. It wraps ErrNoPath.
	ErrSearchExhausted = &models.Error{Kind: models.KindRouting, Detail: "search exhausted", Err: ErrNoPath}
)

// QueryState tracks a single route search.
type QueryState uint8

const (
	QueryInitialised QueryState = iota
	QuerySearching
	QueryFound
	QueryExhausted
)

func (s QueryState) String() string {
	switch s {
	case QueryInitialised:
		return "initialised"
	case QuerySearching:
		return "searching"
	case QueryFound:
		return "found"
	case QueryExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// RouteQuery is the outcome of one search.
type RouteQuery struct {
	From      string
	To        string
	State     QueryState
	Evaluated int // edges relaxed during the search
	Route     *models.Route
	Err       error
	Cached    bool
}

func (q RouteQuery) clone() RouteQuery {
	q.Route = q.Route.Clone()
	return q
}

// Engine is the routing engine. FindRoute takes the write lock because it fills the
// route cache; GetAllRoutes only reads.
type Engine struct {
	mu    sync.RWMutex
	graph *Graph
	cache map[string]RouteQuery
}

// NewEngine creates an engine with an empty graph.
func NewEngine() *Engine {
	return &Engine{
		graph: NewGraph(),
		cache: make(map[string]RouteQuery),
	}
}

// RegisterChain adds a chain or updates its finality depth.
func (e *Engine) RegisterChain(name string, finality uint32) error {
	if strings.TrimSpace(name) == "" {
		return models.NewError(models.KindRouting, "chain name is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph.addChain(name, finality)
	clear(e.cache)
	return nil
}

// RegisterEdge adds a directed edge. Unknown chains are registered on the fly.
func (e *Engine) RegisterEdge(from, to string, bridge models.BridgeType, cost uint64, latency time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.graph.addEdge(Edge{From: from, To: to, Bridge: bridge, Cost: cost, Latency: latency})
	if err != nil {
		return err
	}
	clear(e.cache)
	engineLog.Debug().
		Str("from", from).
		Str("to", to).
		Str("bridge", bridge.String()).
		Uint64("cost", cost).
		Msg("Registered edge")
	return nil
}

// Chains lists the registered chains sorted by name.
func (e *Engine) Chains() []Chain {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.chainList()
}

// Edges lists every edge grouped by source chain.
func (e *Engine) Edges() []Edge {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.graph.edgeList()
}

// FindRoute returns the cheapest route from the intent's source to its destination.
func (e *Engine) FindRoute(in models.Intent) (*models.Route, error) {
	q := e.Search(in.FromChain(), in.ToChain())
	return q.Route, q.Err
}

// Search runs (or recalls) the cheapest-route search between two chains.
func (e *Engine) Search(from, to string) RouteQuery {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := from + "\x00" + to
	if q, ok := e.cache[key]; ok {
		q = q.clone()
		q.Cached = true
		return q
	}
	q := e.search(from, to)
	if q.State != QueryInitialised {
		e.cache[key] = q.clone()
	}
	return q
}

// search is Dijkstra over labels ordered by cost, hop count, latency, intermediate
// chain names and finally bridge types. Every component grows monotonically when a
// path is extended, so the first settled label for a node is its best.
func (e *Engine) search(from, to string) RouteQuery {
	q := RouteQuery{From: from, To: to, State: QueryInitialised}
	if err := e.checkEndpoints(from, to); err != nil {
		q.Err = err
		return q
	}
	q.State = QuerySearching

	best := map[string]*label{from: {node: from}}
	settled := make(map[string]bool)
	pq := &labelQueue{best[from]}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*label)
		if settled[cur.node] {
			continue
		}
		settled[cur.node] = true
		if cur.node == to {
			q.State = QueryFound
			q.Route = models.NewRoute(cur.hops)
			break
		}
		for _, edge := range e.graph.outgoing(cur.node) {
			q.Evaluated++
			if settled[edge.To] {
				continue
			}
			next := cur.extend(e.graph.hop(edge))
			if prev, ok := best[edge.To]; !ok || next.less(prev) {
				best[edge.To] = next
				heap.Push(pq, next)
			}
		}
	}

	if q.State == QueryFound {
		engineLog.Debug().Str("route", q.Route.String()).Int("evaluated", q.Evaluated).Msg("Route found")
		return q
	}
	q.State = QueryExhausted
	if q.Evaluated == 0 {
		q.Err = fmt.Errorf("%w: %s has no outgoing edges towards %s", ErrNoPath, from, to)
	} else {
		q.Err = fmt.Errorf("%w: %s to %s after %d candidates", ErrSearchExhausted, from, to, q.Evaluated)
	}
	engineLog.Debug().Err(q.Err).Msg("No route")
	return q
}

// GetAllRoutes enumerates every simple path of at most maxHops hops. Parallel edges
// produce separate routes. Results are sorted by cost, then latency.
func (e *Engine) GetAllRoutes(from, to string, maxHops int) ([]*models.Route, error) {
	if maxHops <= 0 {
		return nil, models.NewError(models.KindRouting, fmt.Sprintf("max hops must be positive, got %d", maxHops))
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkEndpoints(from, to); err != nil {
		return nil, err
	}

	var routes []*models.Route
	visited := map[string]bool{from: true}
	var hops []models.RouteHop

	var walk func(node string)
	walk = func(node string) {
		if len(hops) == maxHops {
			return
		}
		for _, edge := range e.graph.outgoing(node) {
			if visited[edge.To] {
				continue
			}
			hops = append(hops, e.graph.hop(edge))
			if edge.To == to {
				routes = append(routes, models.NewRoute(slices.Clone(hops)))
			} else {
				visited[edge.To] = true
				walk(edge.To)
				visited[edge.To] = false
			}
			hops = hops[:len(hops)-1]
		}
	}
	walk(from)

	slices.SortStableFunc(routes, compareRoutes)
	return routes, nil
}

func (e *Engine) checkEndpoints(from, to string) error {
	switch {
	case !e.graph.hasChain(from):
		return models.NewError(models.KindRouting, fmt.Sprintf("unknown source chain %q", from))
	case !e.graph.hasChain(to):
		return models.NewError(models.KindRouting, fmt.Sprintf("unknown destination chain %q", to))
	case from == to:
		return models.NewError(models.KindRouting, fmt.Sprintf("source and destination are both %q", from))
	}
	return nil
}

// IsNoPath reports whether err means the destination is unreachable, as opposed to a
// malformed query.
func IsNoPath(err error) bool {
	return errors.Is(err, ErrNoPath)
}

// compareRoutes orders listed routes by cost, then latency. Hop count, chain names
// and bridge types only keep the order deterministic.
func compareRoutes(a, b *models.Route) int {
	if c := cmp.Compare(a.TotalCost, b.TotalCost); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Latency, b.Latency); c != 0 {
		return c
	}
	if c := cmp.Compare(len(a.Hops), len(b.Hops)); c != 0 {
		return c
	}
	return compareHops(a.Hops, b.Hops)
}

// compareHops compares equally long hop lists by visited chain names, then bridge types.
func compareHops(a, b []models.RouteHop) int {
	for i := range a {
		if c := strings.Compare(a[i].To, b[i].To); c != 0 {
			return c
		}
	}
	for i := range a {
		if c := cmp.Compare(a[i].Bridge, b[i].Bridge); c != 0 {
			return c
		}
	}
	return 0
}

// label is a partial path ending at node.
type label struct {
	node    string
	cost    uint64
	latency time.Duration
	hops    []models.RouteHop
}

func (l *label) extend(h models.RouteHop) *label {
	hops := make([]models.RouteHop, len(l.hops), len(l.hops)+1)
	copy(hops, l.hops)
	return &label{
		node:    h.To,
		cost:    models.AddCost(l.cost, h.Cost),
		latency: models.AddLatency(l.latency, h.Latency),
		hops:    append(hops, h),
	}
}

// less orders labels by cost, then fewer hops, then latency, then chain names and
// bridge types.
func (l *label) less(o *label) bool {
	if l.cost != o.cost {
		return l.cost < o.cost
	}
	if len(l.hops) != len(o.hops) {
		return len(l.hops) < len(o.hops)
	}
	if l.latency != o.latency {
		return l.latency < o.latency
	}
	return compareHops(l.hops, o.hops) < 0
}

// labelQueue is a min-heap of labels.
type labelQueue []*label

func (q labelQueue) Len() int           { return len(q) }
func (q labelQueue) Less(i, j int) bool { return q[i].less(q[j]) }
func (q labelQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *labelQueue) Push(x any)        { *q = append(*q, x.(*label)) }
func (q *labelQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

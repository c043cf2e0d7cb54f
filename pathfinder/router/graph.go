package router

import (
	"fmt"
	"maps"
	"slices"
	"time"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
)

// Chain is one node of the routing graph.
type Chain struct {
	Name string
	// Finality is the confirmation depth of the chain. Zero means unknown, in which
	// case hops into the chain use the bridge default.
	Finality uint32
}

// Edge is a directed bridge between two chains. Several edges may join the same pair.
type Edge struct {
	From    string
	To      string
	Bridge  models.BridgeType
	Cost    uint64
	Latency time.Duration
}

// bridgeConfirmations is used for hops into chains with unknown finality.
var bridgeConfirmations = map[models.BridgeType]uint32{
	models.BridgeNative:      1,
	models.BridgeWrapped:     12,
	models.BridgeAtomicSwap:  6,
	models.BridgeMessage:     20,
	models.BridgeLightClient: 2,
}

// Graph holds chains and their outgoing edges. Edges keep insertion order.
// It is not synchronised; Engine guards it.
type Graph struct {
	chains map[string]*Chain
	edges  map[string][]Edge
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		chains: make(map[string]*Chain),
		edges:  make(map[string][]Edge),
	}
}

func (g *Graph) addChain(name string, finality uint32) {
	if c, ok := g.chains[name]; ok {
		if finality > 0 {
			c.Finality = finality
		}
		return
	}
	g.chains[name] = &Chain{Name: name, Finality: finality}
}

func (g *Graph) addEdge(e Edge) error {
	switch {
	case e.From == "" || e.To == "":
		return models.NewError(models.KindRouting, "edge endpoints must be named")
	case e.From == e.To:
		return models.NewError(models.KindRouting, fmt.Sprintf("edge %s->%s loops", e.From, e.To))
	case e.Latency < 0:
		return models.NewError(models.KindRouting, fmt.Sprintf("edge %s->%s has negative latency", e.From, e.To))
	case !e.Bridge.Valid():
		return models.NewError(models.KindRouting, fmt.Sprintf("edge %s->%s has unknown bridge type %d", e.From, e.To, uint8(e.Bridge)))
	}
	g.addChain(e.From, 0)
	g.addChain(e.To, 0)
	g.edges[e.From] = append(g.edges[e.From], e)
	return nil
}

func (g *Graph) hasChain(name string) bool {
	_, ok := g.chains[name]
	return ok
}

func (g *Graph) outgoing(name string) []Edge {
	return g.edges[name]
}

// hop turns an edge into a route hop, filling in the confirmation depth.
func (g *Graph) hop(e Edge) models.RouteHop {
	confirmations := bridgeConfirmations[e.Bridge]
	if c, ok := g.chains[e.To]; ok && c.Finality > 0 {
		confirmations = c.Finality
	}
	return models.RouteHop{
		From:          e.From,
		To:            e.To,
		Bridge:        e.Bridge,
		Cost:          e.Cost,
		Latency:       e.Latency,
		Confirmations: confirmations,
	}
}

func (g *Graph) chainList() []Chain {
	names := slices.Sorted(maps.Keys(g.chains))
	out := make([]Chain, 0, len(names))
	for _, name := range names {
		out = append(out, *g.chains[name])
	}
	return out
}

func (g *Graph) edgeList() []Edge {
	var out []Edge
	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		out = append(out, g.edges[from]...)
	}
	return out
}

package router_test

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	"github.com/Cogwheel-Validator/spectra-intents/pathfinder/router"
	"github.com/zeebo/assert"
)

func intentBetween(from, to string) models.Intent {
	return models.NewIntent("q", from, to, "transfer", nil, nil)
}

func mustEdge(t *testing.T, e *router.Engine, from, to string, bridge models.BridgeType, cost uint64) {
	assert.NoError(t, e.RegisterEdge(from, to, bridge, cost, time.Duration(cost)*time.Second))
}

func pathOf(r *models.Route) string {
	return strings.Join(r.Path(), ">")
}

func TestFindRoutePrefersCheaperMultiHop(t *testing.T) {
	e := router.NewEngine()
	mustEdge(t, e, "A", "B", models.BridgeNative, 1)
	mustEdge(t, e, "B", "C", models.BridgeNative, 1)
	mustEdge(t, e, "A", "C", models.BridgeNative, 5)

	route, err := e.FindRoute(intentBetween("A", "C"))
	assert.NoError(t, err)
	assert.Equal(t, pathOf(route), "A>B>C")
	assert.Equal(t, route.TotalCost, uint64(2))
	assert.Equal(t, len(route.Hops), 2)
	assert.NoError(t, route.Validate("A", "C"))
}

func TestFindRouteNoPath(t *testing.T) {
	e := router.NewEngine()
	mustEdge(t, e, "A", "B", models.BridgeNative, 1)

	_, err := e.FindRoute(intentBetween("B", "A"))
	assert.True(t, errors.Is(err, router.ErrNoPath))
	assert.False(t, errors.Is(err, router.ErrSearchExhausted))
	assert.True(t, errors.Is(err, models.ErrRouting))
	assert.True(t, router.IsNoPath(err))

	q := e.Search("B", "A")
	assert.Equal(t, q.State, router.QueryExhausted)
	assert.Equal(t, q.Evaluated, 0)
}

func TestFindRouteExhausted(t *testing.T) {
	e := router.NewEngine()
	mustEdge(t, e, "A", "B", models.BridgeNative, 1)
	mustEdge(t, e, "B", "A", models.BridgeNative, 1)
	assert.NoError(t, e.RegisterChain("C", 0))

	q := e.Search("A", "C")
	assert.Equal(t, q.State, router.QueryExhausted)
	assert.True(t, q.Evaluated > 0)
	assert.True(t, errors.Is(q.Err, router.ErrSearchExhausted))
	assert.True(t, errors.Is(q.Err, router.ErrNoPath))
}

func TestFindRouteBadEndpoints(t *testing.T) {
	e := router.NewEngine()
	mustEdge(t, e, "A", "B", models.BridgeNative, 1)

	for _, c := range []struct{ from, to string }{{"X", "B"}, {"A", "X"}, {"A", "A"}} {
		q := e.Search(c.from, c.to)
		assert.Equal(t, q.State, router.QueryInitialised)
		assert.True(t, errors.Is(q.Err, models.ErrRouting))
		assert.False(t, router.IsNoPath(q.Err))
	}
}

func TestRegisterEdgeValidation(t *testing.T) {
	e := router.NewEngine()
	assert.Error(t, e.RegisterEdge("A", "A", models.BridgeNative, 1, 0))
	assert.Error(t, e.RegisterEdge("", "B", models.BridgeNative, 1, 0))
	assert.Error(t, e.RegisterEdge("A", "B", models.BridgeType(99), 1, 0))
	assert.Error(t, e.RegisterEdge("A", "B", models.BridgeNative, 1, -time.Second))
	assert.Error(t, e.RegisterChain(" ", 1))
	assert.Equal(t, len(e.Chains()), 0)
}

func TestFindRouteSaturatesCost(t *testing.T) {
	e := router.NewEngine()
	assert.NoError(t, e.RegisterEdge("A", "X", models.BridgeNative, math.MaxUint64-1, time.Second))
	assert.NoError(t, e.RegisterEdge("X", "C", models.BridgeNative, 2, time.Second))
	assert.NoError(t, e.RegisterEdge("A", "C", models.BridgeNative, math.MaxUint64, time.Second))

	route, err := e.FindRoute(intentBetween("A", "C"))
	assert.NoError(t, err)
	assert.Equal(t, pathOf(route), "A>C")
	assert.Equal(t, route.TotalCost, uint64(math.MaxUint64))

	all, err := e.GetAllRoutes("A", "C", 2)
	assert.NoError(t, err)
	assert.Equal(t, len(all), 2)
	for _, r := range all {
		assert.Equal(t, r.TotalCost, uint64(math.MaxUint64))
	}

	long := models.NewRoute([]models.RouteHop{
		{From: "A", To: "B", Cost: 1, Latency: math.MaxInt64 - 1},
		{From: "B", To: "C", Cost: math.MaxUint64, Latency: 5},
	})
	assert.Equal(t, long.TotalCost, uint64(math.MaxUint64))
	assert.Equal(t, long.Latency, time.Duration(math.MaxInt64))
}

func TestFindRouteTieBreaks(t *testing.T) {
	e := router.NewEngine()
	// equal cost: one hop beats two
	mustEdge(t, e, "A", "B", models.BridgeNative, 1)
	mustEdge(t, e, "B", "D", models.BridgeNative, 1)
	mustEdge(t, e, "A", "D", models.BridgeWrapped, 2)
	route, err := e.FindRoute(intentBetween("A", "D"))
	assert.NoError(t, err)
	assert.Equal(t, pathOf(route), "A>D")

	// equal cost and hops: lower latency wins
	f := router.NewEngine()
	assert.NoError(t, f.RegisterEdge("A", "B", models.BridgeNative, 3, 5*time.Second))
	assert.NoError(t, f.RegisterEdge("A", "B", models.BridgeMessage, 3, time.Second))
	route, err = f.FindRoute(intentBetween("A", "B"))
	assert.NoError(t, err)
	assert.Equal(t, route.Hops[0].Bridge, models.BridgeMessage)

	// everything equal: chain names decide, independent of insertion order
	for _, order := range [][]string{{"Y", "X"}, {"X", "Y"}} {
		g := router.NewEngine()
		for _, mid := range order {
			assert.NoError(t, g.RegisterEdge("S", mid, models.BridgeNative, 1, time.Second))
			assert.NoError(t, g.RegisterEdge(mid, "T", models.BridgeNative, 1, time.Second))
		}
		route, err := g.FindRoute(intentBetween("S", "T"))
		assert.NoError(t, err)
		assert.Equal(t, pathOf(route), "S>X>T")
	}
}

func TestFindRouteParallelEdges(t *testing.T) {
	e := router.NewEngine()
	mustEdge(t, e, "eth", "dot", models.BridgeWrapped, 7)
	mustEdge(t, e, "eth", "dot", models.BridgeLightClient, 4)

	route, err := e.FindRoute(intentBetween("eth", "dot"))
	assert.NoError(t, err)
	assert.Equal(t, route.Hops[0].Bridge, models.BridgeLightClient)
	assert.True(t, route.TrustMinimised)
	assert.Equal(t, route.MinConfirmations, uint32(2))

	routes, err := e.GetAllRoutes("eth", "dot", 1)
	assert.NoError(t, err)
	assert.Equal(t, len(routes), 2)
	assert.Equal(t, routes[0].TotalCost, uint64(4))
	assert.Equal(t, routes[1].TotalCost, uint64(7))
}

func TestConfirmationsFollowFinality(t *testing.T) {
	e := router.NewEngine()
	assert.NoError(t, e.RegisterChain("btc", 6))
	mustEdge(t, e, "eth", "btc", models.BridgeAtomicSwap, 3)
	mustEdge(t, e, "btc", "ltc", models.BridgeAtomicSwap, 3)

	route, err := e.FindRoute(intentBetween("eth", "ltc"))
	assert.NoError(t, err)
	assert.Equal(t, route.Hops[0].Confirmations, uint32(6))
	assert.Equal(t, route.Hops[1].Confirmations, uint32(6))

	// raising finality later is reflected in new searches
	assert.NoError(t, e.RegisterChain("ltc", 24))
	route, err = e.FindRoute(intentBetween("eth", "ltc"))
	assert.NoError(t, err)
	assert.Equal(t, route.MinConfirmations, uint32(24))
	assert.False(t, route.TrustMinimised)
}

func TestSearchCache(t *testing.T) {
	e := router.NewEngine()
	mustEdge(t, e, "A", "B", models.BridgeNative, 5)

	first := e.Search("A", "B")
	assert.False(t, first.Cached)
	second := e.Search("A", "B")
	assert.True(t, second.Cached)
	assert.Equal(t, second.Route.TotalCost, uint64(5))

	// handed out routes are copies
	second.Route.Hops[0].Cost = 1000
	third := e.Search("A", "B")
	assert.Equal(t, third.Route.Hops[0].Cost, uint64(5))

	mustEdge(t, e, "A", "B", models.BridgeNative, 1)
	fresh := e.Search("A", "B")
	assert.False(t, fresh.Cached)
	assert.Equal(t, fresh.Route.TotalCost, uint64(1))
}

func TestGetAllRoutes(t *testing.T) {
	e := router.NewEngine()
	mustEdge(t, e, "A", "B", models.BridgeNative, 1)
	mustEdge(t, e, "B", "C", models.BridgeNative, 1)
	mustEdge(t, e, "A", "C", models.BridgeNative, 5)
	mustEdge(t, e, "C", "A", models.BridgeNative, 1)
	mustEdge(t, e, "B", "A", models.BridgeNative, 1)

	routes, err := e.GetAllRoutes("A", "C", 3)
	assert.NoError(t, err)
	assert.Equal(t, len(routes), 2)
	assert.Equal(t, pathOf(routes[0]), "A>B>C")
	assert.Equal(t, pathOf(routes[1]), "A>C")
	for _, r := range routes {
		assert.NoError(t, r.Validate("A", "C"))
	}

	routes, err = e.GetAllRoutes("A", "C", 1)
	assert.NoError(t, err)
	assert.Equal(t, len(routes), 1)
	assert.Equal(t, pathOf(routes[0]), "A>C")

	_, err = e.GetAllRoutes("A", "C", 0)
	assert.True(t, errors.Is(err, models.ErrRouting))

	routes, err = e.GetAllRoutes("C", "B", 1)
	assert.NoError(t, err)
	assert.Equal(t, len(routes), 0)
}

// The cheapest enumerated route always costs what FindRoute returns.
func TestFindRouteIsOptimal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bridges := []models.BridgeType{models.BridgeNative, models.BridgeWrapped, models.BridgeMessage, models.BridgeLightClient}

	for round := 0; round < 25; round++ {
		e := router.NewEngine()
		chains := make([]string, 6)
		for i := range chains {
			chains[i] = fmt.Sprintf("c%d", i)
			assert.NoError(t, e.RegisterChain(chains[i], 0))
		}
		for i := 0; i < 14; i++ {
			from, to := chains[rng.Intn(len(chains))], chains[rng.Intn(len(chains))]
			if from == to {
				continue
			}
			cost := uint64(rng.Intn(20) + 1)
			assert.NoError(t, e.RegisterEdge(from, to, bridges[rng.Intn(len(bridges))], cost, time.Duration(rng.Intn(60))*time.Second))
		}

		route, err := e.FindRoute(intentBetween("c0", "c5"))
		all, listErr := e.GetAllRoutes("c0", "c5", len(chains)-1)
		assert.NoError(t, listErr)
		if err != nil {
			assert.True(t, router.IsNoPath(err))
			assert.Equal(t, len(all), 0)
			continue
		}
		assert.True(t, len(all) > 0)
		assert.Equal(t, route.TotalCost, all[0].TotalCost)
		assert.NoError(t, route.Validate("c0", "c5"))
		for i := 1; i < len(all); i++ {
			assert.True(t, all[i-1].TotalCost <= all[i].TotalCost)
		}
	}
}

func TestQueryStateString(t *testing.T) {
	assert.Equal(t, router.QueryFound.String(), "found")
	assert.Equal(t, router.QueryState(42).String(), "state(42)")
}

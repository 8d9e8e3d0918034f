package graph

import (
	"reflect"
	"testing"
	"time"

	"wasteland.fm/internal/protocol"
)

// line: a - b - c - d, with a,b in region r1 and c,d in r2; e is isolated.
func testGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := New([]Node{
		{ID: "a", Adjacent: []string{"b"}},
		{ID: "b", Adjacent: []string{"c"}},
		{ID: "c", Adjacent: []string{"d"}, Danger: 4},
		{ID: "d"},
		{ID: "e"},
	}, []Region{
		{ID: "r1", Nodes: []string{"a", "b"}},
		{ID: "r2", Nodes: []string{"c", "d"}},
	}, Weights{HopDuration: time.Second, DangerWeight: 0.25, RegionCrossing: 0.5})
	if err != nil {
		t.Fatalf("new graph: %v", err)
	}
	return g
}

func TestAdjacencyIsSymmetric(t *testing.T) {
	g := testGraph(t)
	nb, err := g.Neighbors("b")
	if err != nil {
		t.Fatalf("neighbors: %v", err)
	}
	if !reflect.DeepEqual(nb, []string{"a", "c"}) {
		t.Fatalf("neighbors(b)=%v", nb)
	}
	ok, err := g.IsConnected("c", "b")
	if err != nil || !ok {
		t.Fatalf("IsConnected(c,b)=%v err=%v", ok, err)
	}
	ok, _ = g.IsConnected("a", "c")
	if ok {
		t.Fatalf("a and c are not adjacent")
	}
}

func TestUnknownNodeIsNotFound(t *testing.T) {
	g := testGraph(t)
	if _, err := g.Neighbors("zz"); protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("neighbors err=%v", err)
	}
	if _, err := g.IsConnected("a", "zz"); protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("isConnected err=%v", err)
	}
	if _, err := g.TravelTime("zz", "a"); protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("travelTime err=%v", err)
	}
	if _, err := New([]Node{{ID: "a", Adjacent: []string{"ghost"}}}, nil, Weights{}); protocol.CodeOf(err) != protocol.ErrNotFound {
		t.Fatalf("unknown neighbour err=%v", err)
	}
}

func TestHopsAndRadius(t *testing.T) {
	g := testGraph(t)
	if h, _ := g.Hops("a", "d"); h != 3 {
		t.Fatalf("hops(a,d)=%d want 3", h)
	}
	if h, _ := g.Hops("a", "e"); h != -1 {
		t.Fatalf("hops(a,e)=%d want -1", h)
	}
	got, err := g.NodesWithinRadius("b", 1)
	if err != nil {
		t.Fatalf("radius: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"b", "a", "c"}) {
		t.Fatalf("within(b,1)=%v", got)
	}
	got, _ = g.NodesWithinRadius("a", 0)
	if !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("within(a,0)=%v", got)
	}
}

func TestTravelTimeMonotonicInWeight(t *testing.T) {
	g := testGraph(t)
	ab, _ := g.TravelTime("a", "b")
	ac, _ := g.TravelTime("a", "c")
	ad, _ := g.TravelTime("a", "d")
	if !(ab < ac && ac < ad) {
		t.Fatalf("travel times not monotonic: ab=%v ac=%v ad=%v", ab, ac, ad)
	}
	// a->b: cost 1. b->c: 1 + 4*0.25 + 0.5 crossing = 2.5.
	if ab != time.Second || ac != 3500*time.Millisecond {
		t.Fatalf("ab=%v ac=%v", ab, ac)
	}

	if err := g.SetDanger("b", 8); err != nil {
		t.Fatalf("set danger: %v", err)
	}
	ab2, _ := g.TravelTime("a", "b")
	if ab2 <= ab {
		t.Fatalf("raising danger should slow travel: before=%v after=%v", ab, ab2)
	}
	if _, err := g.TravelTime("a", "e"); protocol.CodeOf(err) != protocol.ErrConnectivity {
		t.Fatalf("unreachable err=%v", err)
	}
}

func TestRegions(t *testing.T) {
	g := testGraph(t)
	same, _ := g.SameRegion("a", "b")
	if !same {
		t.Fatalf("a,b share r1")
	}
	same, _ = g.SameRegion("b", "c")
	if same {
		t.Fatalf("b,c are in different regions")
	}
	same, _ = g.SameRegion("e", "e")
	if same {
		t.Fatalf("nodes outside any region never share one")
	}
}

func TestLoad_RepoMap(t *testing.T) {
	g, err := Load("../../../configs/map.yaml", Weights{HopDuration: time.Second})
	if err != nil {
		t.Fatalf("load map: %v", err)
	}
	if !g.Has("bunker") || !g.Has("lighthouse") {
		t.Fatalf("expected bunker and lighthouse")
	}
	ok, _ := g.IsConnected("plaza", "overpass")
	if !ok {
		t.Fatalf("plaza should link back to overpass")
	}
	r, _ := g.RegionOf("metro")
	if r != "downtown" {
		t.Fatalf("region(metro)=%q", r)
	}
}

// Package graph holds the node/region topology players move across. Topology is fixed once the
// graph is built; ambient noise and danger ratings can change at runtime.
package graph

import (
	"container/heap"
	"math"
	"sort"
	"sync"
	"time"

	"wasteland.fm/internal/protocol"
)

type Node struct {
	ID       string
	Region   string
	Adjacent []string
	Noise    int
	Danger   int
}

type Region struct {
	ID    string
	Nodes []string
}

type Weights struct {
	HopDuration    time.Duration
	DangerWeight   float64
	RegionCrossing float64
}

type Graph struct {
	mu      sync.RWMutex
	nodes   map[string]*Node
	regions map[string]*Region
	weights Weights
}

// New builds a graph from nodes and regions. Adjacency is made symmetric; a node listing an
// unknown neighbour or region is rejected.
func New(nodes []Node, regions []Region, w Weights) (*Graph, error) {
	if w.HopDuration <= 0 {
		w.HopDuration = 3 * time.Second
	}
	g := &Graph{
		nodes:   make(map[string]*Node, len(nodes)),
		regions: make(map[string]*Region, len(regions)),
		weights: w,
	}
	for _, r := range regions {
		if r.ID == "" {
			return nil, protocol.Validation("region with empty id")
		}
		g.regions[r.ID] = &Region{ID: r.ID}
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, protocol.Validation("node with empty id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, protocol.Validation("duplicate node %q", n.ID)
		}
		cp := n
		cp.Adjacent = nil
		if cp.Danger < 0 {
			cp.Danger = 0
		}
		g.nodes[n.ID] = &cp
	}
	// Region membership may come from either side.
	for _, r := range regions {
		for _, id := range r.Nodes {
			n, ok := g.nodes[id]
			if !ok {
				return nil, protocol.NotFound("region %q lists unknown node %q", r.ID, id)
			}
			n.Region = r.ID
		}
	}
	for _, n := range g.nodes {
		if n.Region == "" {
			continue
		}
		r, ok := g.regions[n.Region]
		if !ok {
			r = &Region{ID: n.Region}
			g.regions[n.Region] = r
		}
		r.Nodes = append(r.Nodes, n.ID)
	}
	for _, r := range g.regions {
		sort.Strings(r.Nodes)
	}
	for _, n := range nodes {
		for _, to := range n.Adjacent {
			if to == n.ID {
				continue
			}
			if _, ok := g.nodes[to]; !ok {
				return nil, protocol.NotFound("node %q lists unknown neighbour %q", n.ID, to)
			}
			g.link(n.ID, to)
			g.link(to, n.ID)
		}
	}
	for _, n := range g.nodes {
		sort.Strings(n.Adjacent)
	}
	return g, nil
}

func (g *Graph) link(a, b string) {
	n := g.nodes[a]
	for _, x := range n.Adjacent {
		if x == b {
			return
		}
	}
	n.Adjacent = append(n.Adjacent, b)
}

func (g *Graph) node(id string) (*Node, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, protocol.NotFound("unknown node %q", id)
	}
	return n, nil
}

func (g *Graph) Has(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// Node returns a copy of the node.
func (g *Graph) Node(id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.node(id)
	if err != nil {
		return Node{}, err
	}
	cp := *n
	cp.Adjacent = append([]string(nil), n.Adjacent...)
	return cp, nil
}

func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) Neighbors(id string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.node(id)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), n.Adjacent...), nil
}

// IsConnected reports direct adjacency.
func (g *Graph) IsConnected(a, b string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	na, err := g.node(a)
	if err != nil {
		return false, err
	}
	if _, err := g.node(b); err != nil {
		return false, err
	}
	for _, x := range na.Adjacent {
		if x == b {
			return true, nil
		}
	}
	return false, nil
}

func (g *Graph) RegionOf(id string) (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.node(id)
	if err != nil {
		return "", err
	}
	return n.Region, nil
}

// SameRegion is false for nodes outside any region.
func (g *Graph) SameRegion(a, b string) (bool, error) {
	ra, err := g.RegionOf(a)
	if err != nil {
		return false, err
	}
	rb, err := g.RegionOf(b)
	if err != nil {
		return false, err
	}
	return ra != "" && ra == rb, nil
}

func (g *Graph) Regions() []Region {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Region, 0, len(g.regions))
	for _, r := range g.regions {
		out = append(out, Region{ID: r.ID, Nodes: append([]string(nil), r.Nodes...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Hops is the unweighted shortest-path length, -1 when b is unreachable from a.
func (g *Graph) Hops(a, b string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, err := g.node(a); err != nil {
		return 0, err
	}
	if _, err := g.node(b); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}
	dist := g.bfsLocked(a, -1)
	d, ok := dist[b]
	if !ok {
		return -1, nil
	}
	return d, nil
}

// NodesWithinRadius returns every node at most r hops from id, the center included, ordered by
// (distance, id).
func (g *Graph) NodesWithinRadius(id string, r int) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, err := g.node(id); err != nil {
		return nil, err
	}
	if r < 0 {
		r = 0
	}
	dist := g.bfsLocked(id, r)
	out := make([]string, 0, len(dist))
	for n := range dist {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := dist[out[i]], dist[out[j]]
		if di != dj {
			return di < dj
		}
		return out[i] < out[j]
	})
	return out, nil
}

// Distances returns hop counts from id to every reachable node.
func (g *Graph) Distances(id string) (map[string]int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, err := g.node(id); err != nil {
		return nil, err
	}
	return g.bfsLocked(id, -1), nil
}

func (g *Graph) bfsLocked(start string, maxDepth int) map[string]int {
	dist := map[string]int{start: 0}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := dist[cur]
		if maxDepth >= 0 && d >= maxDepth {
			continue
		}
		for _, nb := range g.nodes[cur].Adjacent {
			if _, seen := dist[nb]; seen {
				continue
			}
			dist[nb] = d + 1
			queue = append(queue, nb)
		}
	}
	return dist
}

func (g *Graph) edgeCostLocked(from, to string) float64 {
	a, b := g.nodes[from], g.nodes[to]
	c := 1 + float64(b.Danger)*g.weights.DangerWeight
	if a.Region != b.Region {
		c += g.weights.RegionCrossing
	}
	return c
}

// PathWeight is the cheapest weighted path cost between a and b (Dijkstra).
func (g *Graph) PathWeight(a, b string) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, err := g.node(a); err != nil {
		return 0, err
	}
	if _, err := g.node(b); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}
	best := map[string]float64{a: 0}
	pq := &costQueue{{id: a, cost: 0}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(costItem)
		if cur.id == b {
			return cur.cost, nil
		}
		if cur.cost > best[cur.id] {
			continue
		}
		for _, nb := range g.nodes[cur.id].Adjacent {
			c := cur.cost + g.edgeCostLocked(cur.id, nb)
			if old, ok := best[nb]; ok && old <= c {
				continue
			}
			best[nb] = c
			heap.Push(pq, costItem{id: nb, cost: c})
		}
	}
	return math.Inf(1), protocol.Connectivity("no path from %q to %q", a, b)
}

// TravelTime scales the weighted path cost by the hop duration, so it grows monotonically with
// path weight.
func (g *Graph) TravelTime(a, b string) (time.Duration, error) {
	w, err := g.PathWeight(a, b)
	if err != nil {
		return 0, err
	}
	return time.Duration(w * float64(g.weights.HopDuration)), nil
}

func (g *Graph) SetNoise(id string, noise int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.node(id)
	if err != nil {
		return err
	}
	n.Noise = noise
	return nil
}

func (g *Graph) SetDanger(id string, danger int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.node(id)
	if err != nil {
		return err
	}
	if danger < 0 {
		danger = 0
	}
	n.Danger = danger
	return nil
}

func (g *Graph) Noise(id string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, err := g.node(id)
	if err != nil {
		return 0, err
	}
	return n.Noise, nil
}

type costItem struct {
	id   string
	cost float64
}

type costQueue []costItem

func (q costQueue) Len() int { return len(q) }
func (q costQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].id < q[j].id
}
func (q costQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *costQueue) Push(x any)   { *q = append(*q, x.(costItem)) }
func (q *costQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

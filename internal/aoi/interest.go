package aoi

import (
	"encoding/json"
	"log"
	"sort"
	"sync"

	"wasteland.fm/internal/protocol"
)

// Topology is the slice of the world graph interest management needs.
type Topology interface {
	Has(nodeID string) bool
	NodesWithinRadius(nodeID string, r int) ([]string, error)
}

// Manager keeps node -> subscriber sets. A player is subscribed to at most one node; every change
// happens under one write lock, and broadcasts fan out over a copy taken under the read lock, so a
// concurrent move is only ever seen by the next broadcast.
type Manager struct {
	reg  *Registry
	topo Topology
	log  *log.Logger

	mu    sync.RWMutex
	nodes map[string]map[string]struct{}
	where map[string]string

	// dropped remembers the node of a player whose connection went away, until DroppedFrom.
	dropped map[string]string
}

func NewManager(reg *Registry, topo Topology, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	m := &Manager{
		reg:     reg,
		topo:    topo,
		log:     logger,
		nodes:   map[string]map[string]struct{}{},
		where:   map[string]string{},
		dropped: map[string]string{},
	}
	reg.onDrop = m.dropPlayer
	return m
}

func (m *Manager) Registry() *Registry { return m.reg }

// Register / Unregister are the connection lifecycle entry points.
func (m *Manager) Register(playerID string, h Handle) { m.reg.Register(playerID, h) }
func (m *Manager) Unregister(playerID string) bool   { return m.reg.Unregister(playerID) }

func (m *Manager) dropPlayer(playerID string) {
	m.mu.Lock()
	if node, ok := m.where[playerID]; ok {
		m.dropped[playerID] = node
	}
	m.removeLocked(playerID)
	m.mu.Unlock()
}

// DroppedFrom returns and forgets the node a player was subscribed to when its connection was
// unregistered.
func (m *Manager) DroppedFrom(playerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.dropped[playerID]
	delete(m.dropped, playerID)
	return node, ok
}

func (m *Manager) removeLocked(playerID string) {
	node, ok := m.where[playerID]
	if !ok {
		return
	}
	delete(m.where, playerID)
	if set := m.nodes[node]; set != nil {
		delete(set, playerID)
		if len(set) == 0 {
			delete(m.nodes, node)
		}
	}
}

func (m *Manager) addLocked(playerID, nodeID string) {
	set := m.nodes[nodeID]
	if set == nil {
		set = map[string]struct{}{}
		m.nodes[nodeID] = set
	}
	set[playerID] = struct{}{}
	m.where[playerID] = nodeID
	delete(m.dropped, playerID)
}

// Subscribe places the player in nodeID's subscriber set, leaving any previous node in the same
// step. It returns the previous node ("" if none).
func (m *Manager) Subscribe(playerID, nodeID string) (string, error) {
	if !m.topo.Has(nodeID) {
		return "", protocol.NotFound("unknown node %q", nodeID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.where[playerID]
	m.removeLocked(playerID)
	m.addLocked(playerID, nodeID)
	return prev, nil
}

// Unsubscribe is a no-op unless the player is currently subscribed to nodeID.
func (m *Manager) Unsubscribe(playerID, nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.where[playerID] == nodeID {
		m.removeLocked(playerID)
	}
}

// Move transfers the subscription from -> to as one step. It fails with E_CONFLICT when the player
// is no longer subscribed to from.
func (m *Manager) Move(playerID, from, to string) error {
	if !m.topo.Has(to) {
		return protocol.NotFound("unknown node %q", to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur := m.where[playerID]; cur != from {
		return protocol.Conflict("player %s is at %q, not %q", playerID, cur, from)
	}
	m.removeLocked(playerID)
	m.addLocked(playerID, to)
	return nil
}

func (m *Manager) NodeOf(playerID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.where[playerID]
	return n, ok
}

// Subscribers returns a sorted copy of nodeID's subscriber set.
func (m *Manager) Subscribers(nodeID string) []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.nodes[nodeID]))
	for id := range m.nodes[nodeID] {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Snapshot copies the full node -> subscribers mapping.
func (m *Manager) Snapshot() map[string][]string {
	m.mu.RLock()
	out := make(map[string][]string, len(m.nodes))
	for node, set := range m.nodes {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[node] = ids
	}
	m.mu.RUnlock()
	return out
}

func (m *Manager) recipients(nodes []string, exclude string) []string {
	m.mu.RLock()
	seen := map[string]struct{}{}
	out := []string{}
	for _, n := range nodes {
		for id := range m.nodes[n] {
			if id == exclude {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// BroadcastToNode sends ev now to every subscriber of nodeID except exclude and returns the number
// of connections that accepted it.
func (m *Manager) BroadcastToNode(nodeID string, ev protocol.Event, exclude string) int {
	return m.sendAll(m.recipients([]string{nodeID}, exclude), ev)
}

// BroadcastToNodeAndAdjacent floods ev to every node within radius hops; each player receives it
// at most once.
func (m *Manager) BroadcastToNodeAndAdjacent(nodeID string, ev protocol.Event, radius int, exclude string) (int, error) {
	nodes, err := m.topo.NodesWithinRadius(nodeID, radius)
	if err != nil {
		return 0, err
	}
	return m.sendAll(m.recipients(nodes, exclude), ev), nil
}

func (m *Manager) BroadcastGlobal(ev protocol.Event) int {
	return m.sendAll(m.reg.Players(), ev)
}

// BufferToNode queues ev for the next flush of every subscriber of nodeID.
func (m *Manager) BufferToNode(nodeID string, ev protocol.Event, exclude string) int {
	return m.bufferAll(m.recipients([]string{nodeID}, exclude), ev)
}

func (m *Manager) BufferToNodeAndAdjacent(nodeID string, ev protocol.Event, radius int, exclude string) (int, error) {
	nodes, err := m.topo.NodesWithinRadius(nodeID, radius)
	if err != nil {
		return 0, err
	}
	return m.bufferAll(m.recipients(nodes, exclude), ev), nil
}

func (m *Manager) Send(playerID string, ev protocol.Event) error { return m.reg.Send(playerID, ev) }
func (m *Manager) Buffer(playerID string, ev protocol.Event) bool {
	return m.reg.Buffer(playerID, ev)
}
func (m *Manager) Flush(playerID string) int { return m.reg.Flush(playerID) }
func (m *Manager) FlushAll() int             { return m.reg.FlushAll() }
func (m *Manager) Online(playerID string) bool {
	return m.reg.Online(playerID)
}

func (m *Manager) sendAll(ids []string, ev protocol.Event) int {
	if len(ids) == 0 {
		return 0
	}
	frame, err := json.Marshal(ev)
	if err != nil {
		m.log.Printf("broadcast %s: encode: %v", ev.Type, err)
		return 0
	}
	n := 0
	for _, id := range ids {
		if err := m.reg.SendFrame(id, frame); err == nil {
			n++
		}
	}
	return n
}

func (m *Manager) bufferAll(ids []string, ev protocol.Event) int {
	n := 0
	for _, id := range ids {
		if m.reg.Buffer(id, ev) {
			n++
		}
	}
	return n
}

package world

import (
	"time"

	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/sim/travel"
)

// handleMove schedules travel to an adjacent node. While a trip is pending, adjacency is checked
// against its destination; the new intent supersedes the old one.
func (w *World) handleMove(playerID string, c protocol.MoveToNode) error {
	if !w.graph.Has(c.TargetNodeID) {
		return protocol.NotFound("unknown node %q", c.TargetNodeID)
	}
	w.moveMu.Lock()
	defer w.moveMu.Unlock()
	cur, ok := w.aoi.NodeOf(playerID)
	if !ok {
		return protocol.NotFound("%s has no position", playerID)
	}
	base := cur
	if pending, ok := w.planner.Pending(playerID); ok {
		base = pending.To
	}
	if c.TargetNodeID == base {
		return protocol.Validation("already at or heading to %s", base)
	}
	adjacent, err := w.graph.IsConnected(base, c.TargetNodeID)
	if err != nil {
		return err
	}
	if !adjacent {
		return protocol.Connectivity("%s is not adjacent to %s", c.TargetNodeID, base)
	}
	dur, err := w.graph.TravelTime(base, c.TargetNodeID)
	if err != nil {
		return err
	}

	in := w.planner.Plan(playerID, base, c.TargetNodeID, w.now().Add(dur))
	w.reply(playerID, protocol.NewEvent(protocol.TypeMoveStarted, protocol.MoveStartedMsg{
		From:       base,
		To:         in.To,
		ArriveInMs: dur.Milliseconds(),
		Seq:        in.Seq,
	}))
	w.aoi.BufferToNode(cur, protocol.NewEvent(protocol.TypePlayerLeaving, protocol.PresenceMsg{
		PlayerID: playerID,
		NodeID:   cur,
		Toward:   in.To,
	}), playerID)
	return nil
}

// resolveArrivals applies every due travel intent that is still current.
func (w *World) resolveArrivals(now time.Time) int {
	n := 0
	for _, in := range w.planner.Due(now) {
		if w.arrive(in) {
			n++
		}
	}
	return n
}

func (w *World) arrive(in travel.Intent) bool {
	w.moveMu.Lock()
	defer w.moveMu.Unlock()
	if !w.planner.Complete(in) {
		return false
	}
	from, ok := w.aoi.NodeOf(in.PlayerID)
	if !ok {
		return false
	}
	if err := w.aoi.Move(in.PlayerID, from, in.To); err != nil {
		w.log.Printf("arrive %s -> %s: %v", in.PlayerID, in.To, err)
		return false
	}
	if from != in.To {
		w.aoi.BufferToNode(from, protocol.NewEvent(protocol.TypePlayerLeft, protocol.PresenceMsg{PlayerID: in.PlayerID, NodeID: from, Toward: in.To}), in.PlayerID)
	}
	w.aoi.BufferToNode(in.To, protocol.NewEvent(protocol.TypePlayerArrived, protocol.PresenceMsg{PlayerID: in.PlayerID, NodeID: in.To}), in.PlayerID)
	w.aoi.Buffer(in.PlayerID, protocol.NewEvent(protocol.TypeMoveCompleted, protocol.MoveCompletedMsg{From: from, To: in.To, Seq: in.Seq}))
	return true
}

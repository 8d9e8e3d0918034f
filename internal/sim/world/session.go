package world

import (
	"wasteland.fm/internal/aoi"
	"wasteland.fm/internal/protocol"
)

// Join brings a verified player online at the spawn node. A second connection for the same player
// replaces the first. A persisted radio is re-equipped.
func (w *World) Join(playerID, sessionID string, h aoi.Handle) (protocol.WelcomeMsg, error) {
	if playerID == "" {
		return protocol.WelcomeMsg{}, protocol.Validation("missing player id")
	}
	w.sessMu.Lock()
	defer w.sessMu.Unlock()
	w.aoi.Register(playerID, h)
	w.planner.Cancel(playerID)

	node := w.tun.SpawnNode
	if _, err := w.aoi.Subscribe(playerID, node); err != nil {
		w.aoi.Registry().UnregisterHandle(playerID, h)
		return protocol.WelcomeMsg{}, err
	}

	if _, equipped := w.devices.Get(playerID); !equipped {
		rec, ok, err := w.store.LoadDevice(playerID)
		switch {
		case err != nil:
			w.log.Printf("load device %s: %v", playerID, err)
		case ok:
			if _, err := w.comms.RestoreDevice(rec); err != nil {
				w.log.Printf("restore device %s: %v", playerID, err)
			}
		}
	}

	w.aoi.BufferToNode(node, protocol.NewEvent(protocol.TypePlayerJoined, protocol.PresenceMsg{PlayerID: playerID, NodeID: node}), playerID)
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		PlayerID:        playerID,
		NodeID:          node,
		WorldParams:     w.WorldParams(),
	}, nil
}

// Leave tears a connection down. h must be the handle registered by Join; when the player has
// since reconnected on another handle the call does nothing. Passing a nil handle always tears
// down. Every cleanup step runs even if an earlier one fails. Join and Leave never interleave.
func (w *World) Leave(playerID string, h aoi.Handle) {
	w.sessMu.Lock()
	defer w.sessMu.Unlock()
	node, placed := w.aoi.NodeOf(playerID)
	if h != nil {
		if !w.aoi.Registry().UnregisterHandle(playerID, h) && w.aoi.Online(playerID) {
			return
		}
	} else {
		w.aoi.Unregister(playerID)
	}
	// A lazily dropped connection has already lost its subscription.
	if last, ok := w.aoi.DroppedFrom(playerID); ok && !placed {
		node, placed = last, true
	}

	w.planner.Cancel(playerID)
	w.dropLimiter(playerID)

	if d, ok := w.devices.Get(playerID); ok {
		if err := w.store.SaveDevice(d.Record()); err != nil {
			w.log.Printf("persist device %s: %v", playerID, err)
			w.audit(playerID, "DISCONNECT_CLEANUP", playerID, "persist device", map[string]any{"error": err.Error()})
		}
	}
	if err := w.comms.OnPlayerDisconnect(playerID); err != nil {
		w.log.Printf("disconnect cleanup %s: %v", playerID, err)
		w.audit(playerID, "DISCONNECT_CLEANUP", playerID, "radio", map[string]any{"error": err.Error()})
	}

	if placed {
		w.aoi.BufferToNode(node, protocol.NewEvent(protocol.TypePlayerLeft, protocol.PresenceMsg{PlayerID: playerID, NodeID: node}), playerID)
	}
}

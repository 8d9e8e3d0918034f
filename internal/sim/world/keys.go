package world

import (
	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/radio/keystore"
)

func channelMsg(g keystore.Grant, playerID string) protocol.EncryptedChannelMsg {
	return protocol.EncryptedChannelMsg{
		ChannelID:   g.ChannelID,
		Key:         g.Key,
		Version:     g.Version,
		Fingerprint: g.Fingerprint,
		Creator:     g.Creator == playerID,
	}
}

// Encrypted channels are named by the frequency they protect.
func (w *World) handleCreateEncrypted(playerID string, c protocol.RadioCreateEncrypted) error {
	freq, err := w.comms.Normalize(c.Frequency)
	if err != nil {
		return err
	}
	g, err := w.keys.Create(freq, playerID, c.CustomKey)
	if err != nil {
		return err
	}
	w.persistChannels()
	w.audit(playerID, "KEY_CREATE", freq, "", map[string]any{"version": g.Version, "fingerprint": g.Fingerprint})
	w.reply(playerID, protocol.NewEvent(protocol.TypeEncryptedCreated, channelMsg(g, playerID)))
	return nil
}

func (w *World) channelID(id string) string {
	if freq, err := w.comms.Normalize(id); err == nil {
		return freq
	}
	return id
}

func (w *World) handleShareKey(playerID string, c protocol.RadioShareKey) error {
	if c.TargetPlayerID == playerID {
		return protocol.Validation("cannot share a key with yourself")
	}
	if !w.aoi.Online(c.TargetPlayerID) {
		return protocol.NotFound("player %s is not online", c.TargetPlayerID)
	}
	id := w.channelID(c.ChannelID)
	g, err := w.keys.Grant(playerID, c.TargetPlayerID, id, c.Key)
	if err != nil {
		return err
	}
	w.persistChannels()
	w.audit(playerID, "KEY_GRANT", c.TargetPlayerID, "", map[string]any{"channel": id, "version": g.Version})

	received := channelMsg(g, c.TargetPlayerID)
	received.From = playerID
	_ = w.aoi.Send(c.TargetPlayerID, protocol.NewEvent(protocol.TypeKeyReceived, received))
	w.reply(playerID, protocol.NewEvent(protocol.TypeKeyShared, protocol.KeyAccessMsg{ChannelID: id, PlayerID: c.TargetPlayerID}))
	return nil
}

func (w *World) handleRevokeKey(playerID string, c protocol.RadioRevokeKey) error {
	id := w.channelID(c.ChannelID)
	if err := w.keys.Revoke(playerID, c.TargetPlayerID, id); err != nil {
		return err
	}
	w.persistChannels()
	w.audit(playerID, "KEY_REVOKE", c.TargetPlayerID, "", map[string]any{"channel": id})

	ev := protocol.NewEvent(protocol.TypeKeyRevoked, protocol.KeyAccessMsg{ChannelID: id, PlayerID: c.TargetPlayerID})
	_ = w.aoi.Send(c.TargetPlayerID, ev)
	w.reply(playerID, ev)
	return nil
}

// handleRotateKey issues a new version to the creator only; other holders must be re-granted.
func (w *World) handleRotateKey(playerID string, c protocol.RadioRotateKey) error {
	id := w.channelID(c.ChannelID)
	g, err := w.keys.Rotate(id, playerID, c.CustomKey)
	if err != nil {
		return err
	}
	w.persistChannels()
	w.audit(playerID, "KEY_ROTATE", id, "", map[string]any{"version": g.Version, "fingerprint": g.Fingerprint})
	w.reply(playerID, protocol.NewEvent(protocol.TypeKeyRotated, channelMsg(g, playerID)))
	return nil
}

func (w *World) handleDeleteEncrypted(playerID string, c protocol.RadioDeleteEncrypted) error {
	id := w.channelID(c.ChannelID)
	holders, err := w.keys.Delete(id, playerID)
	if err != nil {
		return err
	}
	w.persistChannels()
	w.audit(playerID, "KEY_DELETE", id, "", map[string]any{"holders": holders})

	ev := protocol.NewEvent(protocol.TypeEncryptedDeleted, protocol.EncryptedChannelMsg{ChannelID: id})
	for _, h := range holders {
		if h != playerID {
			_ = w.aoi.Send(h, ev)
		}
	}
	w.reply(playerID, ev)
	return nil
}

func (w *World) encryptedChannels(playerID string) protocol.EncryptedChannelsMsg {
	grants := w.keys.ChannelsFor(playerID)
	out := protocol.EncryptedChannelsMsg{Channels: make([]protocol.EncryptedChannelMsg, 0, len(grants))}
	for _, g := range grants {
		out.Channels = append(out.Channels, channelMsg(g, playerID))
	}
	return out
}

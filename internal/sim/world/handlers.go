package world

import (
	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/radio/comms"
)

// HandleFrame decodes one inbound frame and dispatches it. Decoding and handler failures are
// answered with an error event to this player only.
func (w *World) HandleFrame(playerID string, frame []byte) {
	cmd, typ, err := protocol.DecodeCommand(frame)
	if err != nil {
		w.log.Printf("player %s: rejected %q: %v", playerID, typ, err)
		w.reply(playerID, protocol.ErrorEvent(err, typ))
		return
	}
	w.Handle(playerID, cmd)
}

func (w *World) Handle(playerID string, cmd protocol.Command) {
	if err := w.Dispatch(playerID, cmd); err != nil {
		if protocol.CodeOf(err) == protocol.ErrInternal {
			w.log.Printf("player %s: %s: %v", playerID, cmd.EventType(), err)
		}
		w.reply(playerID, protocol.ErrorEvent(err, cmd.EventType()))
	}
}

func (w *World) reply(playerID string, ev protocol.Event) {
	_ = w.aoi.Send(playerID, ev)
}

// Dispatch runs the handler for cmd to completion and returns its error instead of reporting it.
func (w *World) Dispatch(playerID string, cmd protocol.Command) error {
	switch c := cmd.(type) {
	case protocol.MoveToNode:
		return w.handleMove(playerID, c)
	case protocol.ChatMessage:
		return w.handleChat(playerID, c)
	case protocol.RadioEquip:
		return w.handleEquip(playerID, c)
	case protocol.RadioUnequip:
		return w.handleUnequip(playerID)
	case protocol.RadioJoin:
		st, err := w.comms.Join(playerID, c.Frequency)
		if err != nil {
			return err
		}
		w.reply(playerID, protocol.NewEvent(protocol.TypeRadioJoined, st))
		return nil
	case protocol.RadioLeave:
		st, _, err := w.comms.Leave(playerID, c.Frequency)
		if err != nil {
			return err
		}
		w.reply(playerID, protocol.NewEvent(protocol.TypeRadioLeft, st))
		return nil
	case protocol.RadioMessage:
		if err := w.allow(playerID); err != nil {
			return err
		}
		env, charge, err := w.comms.Radio(playerID, c.Frequency, c.Text, c.Encrypted)
		if err != nil {
			return err
		}
		w.replySent(playerID, env, charge)
		return nil
	case protocol.RadioPrivate:
		if err := w.allow(playerID); err != nil {
			return err
		}
		env, charge, err := w.comms.Private(playerID, c.TargetPlayerID, c.Text)
		if err != nil {
			return err
		}
		w.replySent(playerID, env, charge)
		return nil
	case protocol.RadioScan:
		if err := w.comms.Scan(playerID, c.Enable); err != nil {
			return err
		}
		w.reply(playerID, protocol.NewEvent(protocol.TypeRadioScanStatus, protocol.ScanMsg{Enabled: c.Enable}))
		return nil
	case protocol.RadioFrequencies:
		w.reply(playerID, protocol.NewEvent(protocol.TypeFrequencyList, w.comms.Frequencies(playerID)))
		return nil
	case protocol.RadioBattery:
		a, err := w.devices.ReplaceBattery(playerID, c.BatteryType)
		if err != nil {
			return err
		}
		w.audit(playerID, "RADIO_BATTERY_REPLACE", "", "", map[string]any{"prior_charge": a.PriorCharge, "prior_battery": a.PriorBattery, "battery": a.Battery})
		w.reply(playerID, protocol.NewEvent(protocol.TypeBatteryReplaced, batteryMsg(a.PriorCharge, a.PriorBattery, a.Charge, a.Battery)))
		return nil
	case protocol.RadioRecharge:
		a, err := w.devices.Recharge(playerID, c.Minutes)
		if err != nil {
			return err
		}
		w.audit(playerID, "RADIO_RECHARGE", "", "", map[string]any{"minutes": c.Minutes, "prior_charge": a.PriorCharge, "charge": a.Charge})
		w.reply(playerID, protocol.NewEvent(protocol.TypeRecharged, batteryMsg(a.PriorCharge, a.PriorBattery, a.Charge, a.Battery)))
		return nil
	case protocol.RadioCreateEncrypted:
		return w.handleCreateEncrypted(playerID, c)
	case protocol.RadioShareKey:
		return w.handleShareKey(playerID, c)
	case protocol.RadioRevokeKey:
		return w.handleRevokeKey(playerID, c)
	case protocol.RadioEncryptedChannels:
		w.reply(playerID, protocol.NewEvent(protocol.TypeEncryptedList, w.encryptedChannels(playerID)))
		return nil
	case protocol.RadioRotateKey:
		return w.handleRotateKey(playerID, c)
	case protocol.RadioDeleteEncrypted:
		return w.handleDeleteEncrypted(playerID, c)
	default:
		w.log.Printf("player %s: unhandled event %T", playerID, cmd)
		return protocol.Validation("unsupported event type %q", cmd.EventType())
	}
}

func (w *World) allow(playerID string) error {
	if !w.limiter(playerID).Allow() {
		return protocol.Errorf(protocol.ErrRateLimit, "sending too fast")
	}
	return nil
}

func (w *World) handleChat(playerID string, c protocol.ChatMessage) error {
	if err := w.allow(playerID); err != nil {
		return err
	}
	switch c.Scope {
	case protocol.ScopeRadio:
		env, charge, err := w.comms.Radio(playerID, c.Frequency, c.Message, false)
		if err != nil {
			return err
		}
		w.replySent(playerID, env, charge)
	case protocol.ScopePrivate:
		env, charge, err := w.comms.Private(playerID, c.TargetPlayerID, c.Message)
		if err != nil {
			return err
		}
		w.replySent(playerID, env, charge)
	default:
		env, err := w.comms.Local(playerID, c.Message, c.Shout)
		if err != nil {
			return err
		}
		w.replySent(playerID, env, -1)
	}
	return nil
}

func (w *World) replySent(playerID string, env comms.Envelope, charge int) {
	msg := protocol.RadioSentMsg{
		Scope:        env.Scope,
		Frequency:    env.Frequency,
		Target:       env.Target,
		Recipients:   env.Delivered,
		Interceptors: env.Interceptors,
		Encrypted:    env.Encrypted,
	}
	if charge >= 0 {
		msg.Charge = &charge
	}
	w.reply(playerID, protocol.NewEvent(protocol.TypeRadioSent, msg))
}

func (w *World) handleEquip(playerID string, c protocol.RadioEquip) error {
	d, err := w.comms.Equip(playerID, c.RadioType, c.BatteryType)
	if err != nil {
		return err
	}
	w.audit(playerID, "RADIO_EQUIP", "", "", map[string]any{"radio": d.Tier.Name, "battery": d.Battery.Name})
	w.reply(playerID, protocol.NewEvent(protocol.TypeRadioEquipped, comms.DeviceView(d)))
	return nil
}

func (w *World) handleUnequip(playerID string) error {
	d, left, err := w.comms.Unequip(playerID)
	if err != nil {
		return err
	}
	if err := w.store.DeleteDevice(playerID); err != nil {
		w.log.Printf("delete device %s: %v", playerID, err)
	}
	w.audit(playerID, "RADIO_UNEQUIP", "", "", map[string]any{"radio": d.Tier.Name, "left": left})
	view := comms.DeviceView(d)
	view.Frequencies = []string{}
	view.Scanning = false
	w.reply(playerID, protocol.NewEvent(protocol.TypeRadioUnequipped, view))
	return nil
}

func batteryMsg(priorCharge int, priorBattery string, charge int, battery string) protocol.BatteryMsg {
	return protocol.BatteryMsg{PriorCharge: priorCharge, PriorBattery: priorBattery, Charge: charge, BatteryType: battery}
}

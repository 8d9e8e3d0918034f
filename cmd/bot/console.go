package main

import (
	"fmt"
	"strconv"
	"strings"

	"wasteland.fm/internal/protocol"
)

const usage = `commands:
  move <node>                    travel to an adjacent node
  say <text> | shout <text>      local chat
  equip <radio> <battery>        equip a radio (handheld|field|longrange|scanner)
  unequip
  join <freq> | leave <freq>     tune or untune a frequency
  tx <freq> <text>               transmit (txe for encrypted)
  pm <player> <text>             private transmission
  scan on|off
  freqs                          show device and listeners
  battery <type> | recharge <minutes>
  create <freq> [key]            create an encrypted channel
  share <player> <channel> <key> | revoke <player> <channel>
  rotate <channel> [key] | delete <channel> | keys
  quit`

type frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// parseLine turns one console line into an outbound frame.
func parseLine(line string) (frame, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return frame{}, fmt.Errorf("empty command")
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	rest := func(n int) string { return strings.Join(args[n:], " ") }
	need := func(n int, form string) error {
		if len(args) < n {
			return fmt.Errorf("usage: %s", form)
		}
		return nil
	}
	optional := func(i int) string {
		if len(args) > i {
			return args[i]
		}
		return ""
	}

	switch cmd {
	case "move":
		if err := need(1, "move <node>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeMoveToNode, protocol.MoveToNode{TargetNodeID: args[0]}}, nil
	case "say", "shout":
		if err := need(1, cmd+" <text>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeChatMessage, protocol.ChatMessage{Message: rest(0), Scope: protocol.ScopeLocal, Shout: cmd == "shout"}}, nil
	case "equip":
		if err := need(2, "equip <radio> <battery>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioEquip, protocol.RadioEquip{RadioType: args[0], BatteryType: args[1]}}, nil
	case "unequip":
		return frame{Type: protocol.TypeRadioUnequip}, nil
	case "join", "leave":
		if err := need(1, cmd+" <freq>"); err != nil {
			return frame{}, err
		}
		if cmd == "join" {
			return frame{protocol.TypeRadioJoin, protocol.RadioJoin{Frequency: args[0]}}, nil
		}
		return frame{protocol.TypeRadioLeave, protocol.RadioLeave{Frequency: args[0]}}, nil
	case "tx", "txe":
		if err := need(2, cmd+" <freq> <text>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioMessage, protocol.RadioMessage{Frequency: args[0], Text: rest(1), Encrypted: cmd == "txe"}}, nil
	case "pm":
		if err := need(2, "pm <player> <text>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioPrivate, protocol.RadioPrivate{TargetPlayerID: args[0], Text: rest(1)}}, nil
	case "scan":
		if err := need(1, "scan on|off"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioScan, protocol.RadioScan{Enable: args[0] == "on"}}, nil
	case "freqs":
		return frame{Type: protocol.TypeRadioFrequencies}, nil
	case "battery":
		if err := need(1, "battery <type>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioBattery, protocol.RadioBattery{BatteryType: args[0]}}, nil
	case "recharge":
		if err := need(1, "recharge <minutes>"); err != nil {
			return frame{}, err
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return frame{}, fmt.Errorf("recharge: %v", err)
		}
		return frame{protocol.TypeRadioRecharge, protocol.RadioRecharge{Minutes: n}}, nil
	case "create":
		if err := need(1, "create <freq> [key]"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioCreateEncrypted, protocol.RadioCreateEncrypted{Frequency: args[0], CustomKey: optional(1)}}, nil
	case "share":
		if err := need(3, "share <player> <channel> <key>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioShareKey, protocol.RadioShareKey{TargetPlayerID: args[0], ChannelID: args[1], Key: args[2]}}, nil
	case "revoke":
		if err := need(2, "revoke <player> <channel>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioRevokeKey, protocol.RadioRevokeKey{TargetPlayerID: args[0], ChannelID: args[1]}}, nil
	case "rotate":
		if err := need(1, "rotate <channel> [key]"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioRotateKey, protocol.RadioRotateKey{ChannelID: args[0], CustomKey: optional(1)}}, nil
	case "delete":
		if err := need(1, "delete <channel>"); err != nil {
			return frame{}, err
		}
		return frame{protocol.TypeRadioDeleteEncrypted, protocol.RadioDeleteEncrypted{ChannelID: args[0]}}, nil
	case "keys":
		return frame{Type: protocol.TypeRadioEncryptedList}, nil
	default:
		return frame{}, fmt.Errorf("unknown command %q (type help)", cmd)
	}
}

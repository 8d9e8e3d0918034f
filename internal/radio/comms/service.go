// Package comms routes player messages by scope: node-local chat, frequency radio traffic and
// point-to-point private transmissions, with encryption and passive interception layered on top.
package comms

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"wasteland.fm/internal/aoi"
	"wasteland.fm/internal/protocol"
	"wasteland.fm/internal/radio/device"
	"wasteland.fm/internal/radio/keystore"
	"wasteland.fm/internal/sim/tuning"
)

// Topology is the slice of the world graph the router measures range with.
type Topology interface {
	Hops(a, b string) (int, error)
	SameRegion(a, b string) (bool, error)
	Noise(id string) (int, error)
}

type Config struct {
	Band              Band
	MaxSubscribers    int
	RegionSpillHops   int
	GlobalClearHops   int
	ScannerRangeHops  int
	NoiseJamThreshold int
}

func ConfigFrom(t tuning.Tuning) (Config, error) {
	band, err := ParseBand(t.Radio.MinFrequency, t.Radio.MaxFrequency)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Band:              band,
		MaxSubscribers:    t.Radio.MaxSubscribersPerFrequency,
		RegionSpillHops:   t.Radio.RegionSpillHops,
		GlobalClearHops:   t.Radio.GlobalClearHops,
		ScannerRangeHops:  t.Radio.ScannerRangeHops,
		NoiseJamThreshold: t.Radio.NoiseJamThreshold,
	}, nil
}

// Envelope describes one routed message after delivery.
type Envelope struct {
	Sender    string
	Scope     string
	Frequency string
	Target    string
	Text      string
	Encrypted bool
	Sealed    *keystore.Sealed

	Delivered    int
	Recipients   []string
	Interceptors []string
}

type Service struct {
	cfg     Config
	topo    Topology
	aoi     *aoi.Manager
	devices *device.Manager
	keys    *keystore.Store

	mu sync.Mutex
	// freqs: frequency -> tuned players.
	freqs map[string]map[string]struct{}
	// sessions: player -> peers they exchanged private traffic with.
	sessions map[string]map[string]struct{}
}

func NewService(cfg Config, topo Topology, interest *aoi.Manager, devices *device.Manager, keys *keystore.Store) *Service {
	return &Service{
		cfg:      cfg,
		topo:     topo,
		aoi:      interest,
		devices:  devices,
		keys:     keys,
		freqs:    map[string]map[string]struct{}{},
		sessions: map[string]map[string]struct{}{},
	}
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) Normalize(freq string) (string, error) { return s.cfg.Band.Normalize(freq) }

// Join tunes player to freq, enforcing the per-frequency subscriber limit and the device's
// channel capacity.
func (s *Service) Join(player, freq string) (protocol.FrequencyMsg, error) {
	freq, err := s.cfg.Band.Normalize(freq)
	if err != nil {
		return protocol.FrequencyMsg{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.freqs[freq]
	if _, in := subs[player]; !in && s.cfg.MaxSubscribers > 0 && len(subs) >= s.cfg.MaxSubscribers {
		return protocol.FrequencyMsg{}, protocol.Capacity("frequency %s is full (%d listeners)", freq, len(subs))
	}
	d, err := s.devices.JoinFrequency(player, freq)
	if err != nil {
		return protocol.FrequencyMsg{}, err
	}
	if subs == nil {
		subs = map[string]struct{}{}
		s.freqs[freq] = subs
	}
	subs[player] = struct{}{}
	return protocol.FrequencyMsg{Frequency: freq, Active: len(d.Frequencies), Max: d.Tier.MaxChannels}, nil
}

// Leave untunes freq. Leaving a frequency that is not tuned succeeds and reports false.
func (s *Service) Leave(player, freq string) (protocol.FrequencyMsg, bool, error) {
	freq, err := s.cfg.Band.Normalize(freq)
	if err != nil {
		return protocol.FrequencyMsg{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	left, err := s.devices.LeaveFrequency(player, freq)
	if err != nil {
		return protocol.FrequencyMsg{}, false, err
	}
	s.removeLocked(freq, player)
	d, _ := s.devices.Get(player)
	return protocol.FrequencyMsg{Frequency: freq, Active: len(d.Frequencies), Max: d.Tier.MaxChannels}, left, nil
}

func (s *Service) removeLocked(freq, player string) {
	subs, ok := s.freqs[freq]
	if !ok {
		return
	}
	delete(subs, player)
	if len(subs) == 0 {
		delete(s.freqs, freq)
	}
}

// leaveAll untunes every frequency player appears on, in the index or on the device.
func (s *Service) leaveAll(player string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var left []string
	for freq, subs := range s.freqs {
		if _, ok := subs[player]; ok {
			left = append(left, freq)
		}
	}
	if d, ok := s.devices.Get(player); ok {
		for _, f := range d.Frequencies {
			if _, dup := s.freqs[f][player]; !dup {
				left = append(left, f)
			}
		}
	}
	sort.Strings(left)
	for _, f := range left {
		s.removeLocked(f, player)
		_, _ = s.devices.LeaveFrequency(player, f)
	}
	return left
}

// Listeners returns the players tuned to freq, sorted.
func (s *Service) Listeners(freq string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.freqs[freq]))
	for id := range s.freqs[freq] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Service) Equip(player, tier, battery string) (device.Device, error) {
	return s.devices.Equip(player, tier, battery)
}

// Unequip leaves every frequency, turns the scanner off and removes the device.
func (s *Service) Unequip(player string) (device.Device, []string, error) {
	if _, ok := s.devices.Get(player); !ok {
		return device.Device{}, nil, protocol.Resource("no radio equipped")
	}
	left := s.leaveAll(player)
	_ = s.devices.SetScanner(player, false)
	d, err := s.devices.Unequip(player)
	return d, left, err
}

func (s *Service) Scan(player string, enable bool) error {
	return s.devices.SetScanner(player, enable)
}

// RestoreDevice installs a persisted device and re-tunes its frequencies. Frequencies that are
// full or outside the band are dropped.
func (s *Service) RestoreDevice(rec device.Record) (device.Device, error) {
	freqs := rec.Frequencies
	rec.Frequencies = nil
	d, err := s.devices.Restore(rec)
	if err != nil {
		return device.Device{}, err
	}
	for _, f := range freqs {
		_, _ = s.Join(rec.Owner, f)
	}
	d, _ = s.devices.Get(rec.Owner)
	return d, nil
}

func (s *Service) Devices() *device.Manager { return s.devices }

// Frequencies reports the player's device and listener counts for each tuned frequency.
func (s *Service) Frequencies(player string) protocol.FrequenciesMsg {
	d, ok := s.devices.Get(player)
	if !ok {
		return protocol.FrequenciesMsg{Equipped: false}
	}
	s.mu.Lock()
	counts := make(map[string]int, len(d.Frequencies))
	for _, f := range d.Frequencies {
		counts[f] = len(s.freqs[f])
	}
	s.mu.Unlock()
	return protocol.FrequenciesMsg{Equipped: true, Device: DeviceView(d), Listeners: counts}
}

func DeviceView(d device.Device) *protocol.DeviceMsg {
	freqs := d.Frequencies
	if freqs == nil {
		freqs = []string{}
	}
	return &protocol.DeviceMsg{
		RadioType:       d.Tier.Name,
		BatteryType:     d.Battery.Name,
		Charge:          d.Charge,
		MaxChannels:     d.Tier.MaxChannels,
		Frequencies:     freqs,
		Scanning:        d.Scanning,
		TransmitCapable: d.TransmitCapable(),
	}
}

func (s *Service) positionOf(player string) (string, error) {
	node, ok := s.aoi.NodeOf(player)
	if !ok {
		return "", protocol.NotFound("%s has no position", player)
	}
	return node, nil
}

// Local sends chat to the sender's node, or to every node within one hop when shouting.
func (s *Service) Local(sender, text string, shout bool) (Envelope, error) {
	if strings.TrimSpace(text) == "" {
		return Envelope{}, protocol.Validation("empty message")
	}
	node, err := s.positionOf(sender)
	if err != nil {
		return Envelope{}, err
	}
	ev := protocol.NewEvent(protocol.TypeChatLocal, protocol.ChatLocalMsg{From: sender, NodeID: node, Message: text, Shout: shout})
	env := Envelope{Sender: sender, Scope: protocol.ScopeLocal, Text: text}
	if shout {
		n, err := s.aoi.BroadcastToNodeAndAdjacent(node, ev, 1, sender)
		if err != nil {
			return Envelope{}, err
		}
		env.Delivered = n
		return env, nil
	}
	env.Delivered = s.aoi.BroadcastToNode(node, ev, sender)
	return env, nil
}

// Radio transmits text on freq. The sender must be tuned and transmit capable; a rejected send
// delivers nothing and leaves the battery untouched. Delivery is buffered until the next flush.
func (s *Service) Radio(sender, freq, text string, encrypted bool) (Envelope, int, error) {
	freq, err := s.cfg.Band.Normalize(freq)
	if err != nil {
		return Envelope{}, 0, err
	}
	if strings.TrimSpace(text) == "" {
		return Envelope{}, 0, protocol.Validation("empty message")
	}
	dev, ok := s.devices.Get(sender)
	if !ok {
		return Envelope{}, 0, protocol.Resource("no radio equipped")
	}
	if !dev.Tuned(freq) {
		return Envelope{}, 0, protocol.Validation("not tuned to %s", freq)
	}
	if err := s.devices.CheckTransmit(sender); err != nil {
		return Envelope{}, dev.Charge, err
	}
	from, err := s.positionOf(sender)
	if err != nil {
		return Envelope{}, 0, err
	}

	env := Envelope{Sender: sender, Scope: protocol.ScopeRadio, Frequency: freq, Encrypted: encrypted}
	if encrypted {
		sealed, err := s.keys.Seal(freq, sender, text)
		if err != nil {
			return Envelope{}, dev.Charge, err
		}
		env.Sealed = &sealed
	} else {
		env.Text = text
	}
	charge, err := s.devices.ConsumeTransmit(sender)
	if err != nil {
		return Envelope{}, charge, err
	}

	heard := map[string]struct{}{sender: {}}
	for _, rid := range s.Listeners(freq) {
		if rid == sender {
			continue
		}
		rdev, ok := s.devices.Get(rid)
		if !ok || !rdev.Tuned(freq) {
			continue
		}
		node, ok := s.aoi.NodeOf(rid)
		if !ok {
			continue
		}
		hops, same := s.distance(from, node)
		ok, garble := Reach(dev.Tier.Range, hops, same, s.cfg)
		if !ok {
			continue
		}
		msg := protocol.RadioMessageMsg{
			From:      sender,
			Frequency: freq,
			Garbled:   garble > 0,
			Distance:  hops,
			Encrypted: encrypted,
		}
		msg.Text, msg.Fingerprint, msg.Sealed = s.readFor(rid, &env, garble, dev.Tier.Range)
		if s.aoi.Buffer(rid, protocol.NewEvent(protocol.TypeRadioIncoming, msg)) {
			env.Recipients = append(env.Recipients, rid)
			heard[rid] = struct{}{}
		}
	}
	env.Delivered = len(env.Recipients)
	env.Interceptors = s.intercept(&env, from, heard)
	return env, charge, nil
}

// Private delivers text to exactly one online target regardless of distance. Scanners near the
// sender still pick it up.
func (s *Service) Private(sender, target, text string) (Envelope, int, error) {
	if strings.TrimSpace(text) == "" {
		return Envelope{}, 0, protocol.Validation("empty message")
	}
	if target == "" || target == sender {
		return Envelope{}, 0, protocol.Validation("invalid private target %q", target)
	}
	if !s.aoi.Online(target) {
		return Envelope{}, 0, protocol.NotFound("player %s is not online", target)
	}
	if err := s.devices.CheckTransmit(sender); err != nil {
		d, _ := s.devices.Get(sender)
		return Envelope{}, d.Charge, err
	}
	from, err := s.positionOf(sender)
	if err != nil {
		return Envelope{}, 0, err
	}
	charge, err := s.devices.ConsumeTransmit(sender)
	if err != nil {
		return Envelope{}, charge, err
	}
	s.openSession(sender, target)

	env := Envelope{Sender: sender, Scope: protocol.ScopePrivate, Target: target, Text: text}
	if s.aoi.Buffer(target, protocol.NewEvent(protocol.TypeRadioPrivateIn, protocol.RadioPrivateMsg{From: sender, Text: text})) {
		env.Recipients = []string{target}
		env.Delivered = 1
	}
	heard := map[string]struct{}{sender: {}, target: {}}
	env.Interceptors = s.intercept(&env, from, heard)
	return env, charge, nil
}

func (s *Service) distance(a, b string) (int, bool) {
	hops, err := s.topo.Hops(a, b)
	if err != nil {
		hops = -1
	}
	same, err := s.topo.SameRegion(a, b)
	if err != nil {
		same = false
	}
	return hops, same
}

// readFor renders env for one reader. Key holders get plaintext; everyone else gets the sealed
// envelope and its fingerprint.
func (s *Service) readFor(player string, env *Envelope, garble int, r device.Range) (text, fp string, sealed *protocol.SealedPayload) {
	if !env.Encrypted || env.Sealed == nil {
		return Garble(env.Text, garble, r), "", nil
	}
	fp = env.Sealed.Fingerprint
	if s.keys.CanOpen(player, fp) {
		if pt, err := s.keys.Open(player, *env.Sealed); err == nil {
			return Garble(pt, garble, r), fp, nil
		}
	}
	return "", fp, sealedPayload(*env.Sealed)
}

// intercept hands the transmission to every active scanner within range of the sender's node
// that did not already hear it, and returns their ids.
func (s *Service) intercept(env *Envelope, from string, heard map[string]struct{}) []string {
	var out []string
	for _, sc := range s.devices.Scanners() {
		if _, ok := heard[sc.Owner]; ok {
			continue
		}
		node, ok := s.aoi.NodeOf(sc.Owner)
		if !ok {
			continue
		}
		hops, _ := s.distance(from, node)
		if hops < 0 || hops > s.scannerRange(node) {
			continue
		}
		msg := protocol.RadioInterceptedMsg{
			Scope:     env.Scope,
			From:      env.Sender,
			Frequency: env.Frequency,
			Garbled:   true,
			Encrypted: env.Encrypted,
		}
		msg.Text, msg.Fingerprint, msg.Sealed = s.readFor(sc.Owner, env, hops+1, device.RangeScanner)
		if s.aoi.Buffer(sc.Owner, protocol.NewEvent(protocol.TypeRadioIntercepted, msg)) {
			out = append(out, sc.Owner)
		}
	}
	return out
}

func (s *Service) scannerRange(node string) int {
	r := s.cfg.ScannerRangeHops
	if noise, err := s.topo.Noise(node); err == nil && s.cfg.NoiseJamThreshold > 0 && noise >= s.cfg.NoiseJamThreshold {
		r--
	}
	return r
}

func sealedPayload(sl keystore.Sealed) *protocol.SealedPayload {
	return &protocol.SealedPayload{
		ChannelID:   sl.ChannelID,
		Version:     sl.Version,
		Fingerprint: sl.Fingerprint,
		Nonce:       sl.Nonce,
		Ciphertext:  sl.Ciphertext,
	}
}

func (s *Service) openSession(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		peers := s.sessions[pair[0]]
		if peers == nil {
			peers = map[string]struct{}{}
			s.sessions[pair[0]] = peers
		}
		peers[pair[1]] = struct{}{}
	}
}

// PrivatePeers lists the players with an open private session to player.
func (s *Service) PrivatePeers(player string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions[player]))
	for p := range s.sessions[player] {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *Service) dropSessions(player string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for peer := range s.sessions[player] {
		if peers, ok := s.sessions[peer]; ok {
			delete(peers, player)
			if len(peers) == 0 {
				delete(s.sessions, peer)
			}
		}
	}
	delete(s.sessions, player)
}

// OnPlayerDisconnect clears every piece of per-player radio state. Steps run independently and
// tolerate state that is already gone; their failures are joined into the returned error.
func (s *Service) OnPlayerDisconnect(player string) error {
	var errs []error
	step := func(name string, fn func() error) {
		defer func() {
			if r := recover(); r != nil {
				errs = append(errs, fmt.Errorf("%s: panic: %v", name, r))
			}
		}()
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	step("leave frequencies", func() error { s.leaveAll(player); return nil })
	step("disable scanner", func() error { return s.devices.SetScanner(player, false) })
	step("drop private sessions", func() error { s.dropSessions(player); return nil })
	step("deactivate device", func() error {
		if _, ok := s.devices.Get(player); !ok {
			return nil
		}
		_, err := s.devices.Unequip(player)
		return err
	})
	return errors.Join(errs...)
}

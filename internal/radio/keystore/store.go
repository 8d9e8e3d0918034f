// Package keystore issues, distributes, rotates and revokes symmetric keys for encrypted radio
// channels.
//
// Every key version has a non-secret fingerprint. Players keep every version they were ever
// granted, so traffic sealed before a rotation still opens for them; traffic sealed after a
// rotation opens only for players granted the new version.
package keystore

import (
	"sort"
	"sync"

	"wasteland.fm/internal/protocol"
)

type Sealed struct {
	ChannelID   string
	Version     uint32
	Fingerprint string
	Nonce       []byte
	Ciphertext  []byte
}

// Grant is what a player learns about a channel: the key material is only set for holders of
// the current version.
type Grant struct {
	ChannelID   string
	Creator     string
	Version     uint32
	Fingerprint string
	Key         string
}

type channel struct {
	id      string
	creator string
	current uint32
	keys    map[uint32]keyVersion
	// held maps player -> versions granted to that player.
	held map[string]map[uint32]struct{}
}

func (c *channel) cur() keyVersion { return c.keys[c.current] }

func (c *channel) holdsCurrent(player string) bool {
	_, ok := c.held[player][c.current]
	return ok
}

func (c *channel) lastGranted(player string) (uint32, bool) {
	vs, ok := c.held[player]
	if !ok || len(vs) == 0 {
		return 0, false
	}
	var best uint32
	for v := range vs {
		if v > best {
			best = v
		}
	}
	return best, true
}

func (c *channel) give(player string, version uint32) {
	vs := c.held[player]
	if vs == nil {
		vs = map[uint32]struct{}{}
		c.held[player] = vs
	}
	vs[version] = struct{}{}
}

type fpRef struct {
	channel string
	version uint32
}

type Store struct {
	mu       sync.RWMutex
	channels map[string]*channel
	byFP     map[string]fpRef
}

func New() *Store {
	return &Store{channels: map[string]*channel{}, byFP: map[string]fpRef{}}
}

func (s *Store) grantFor(c *channel, player string) Grant {
	g := Grant{ChannelID: c.id, Creator: c.creator}
	if c.holdsCurrent(player) {
		kv := c.cur()
		g.Version, g.Fingerprint, g.Key = kv.version, kv.fingerprint, kv.material
		return g
	}
	if v, ok := c.lastGranted(player); ok {
		g.Version, g.Fingerprint = v, c.keys[v].fingerprint
	}
	return g
}

func (s *Store) getLocked(channelID string) (*channel, error) {
	c, ok := s.channels[channelID]
	if !ok {
		return nil, protocol.NotFound("unknown encrypted channel %q", channelID)
	}
	return c, nil
}

// Create registers channelID with creator as the sole grantee. An empty customKey generates
// fresh key material.
func (s *Store) Create(channelID, creator, customKey string) (Grant, error) {
	if channelID == "" {
		return Grant{}, protocol.Validation("missing channel id")
	}
	material := customKey
	if material == "" {
		var err error
		if material, err = newKeyMaterial(); err != nil {
			return Grant{}, err
		}
	}
	kv, err := deriveKey(channelID, 1, material)
	if err != nil {
		return Grant{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[channelID]; ok {
		return Grant{}, protocol.Conflict("encrypted channel %q already exists", channelID)
	}
	c := &channel{
		id:      channelID,
		creator: creator,
		current: 1,
		keys:    map[uint32]keyVersion{1: kv},
		held:    map[string]map[uint32]struct{}{},
	}
	c.give(creator, 1)
	s.channels[channelID] = c
	s.byFP[kv.fingerprint] = fpRef{channel: channelID, version: 1}
	return s.grantFor(c, creator), nil
}

// Grant hands the current key to target. The granter must hold the current version and present
// the matching key material.
func (s *Store) Grant(granter, target, channelID, key string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.getLocked(channelID)
	if err != nil {
		return Grant{}, err
	}
	if !c.holdsCurrent(granter) {
		return Grant{}, protocol.Permission("no current access to %q", channelID)
	}
	if key != c.cur().material {
		return Grant{}, protocol.Permission("key does not match the current version of %q", channelID)
	}
	c.give(target, c.current)
	return s.grantFor(c, target), nil
}

// Revoke removes every key version target holds for the channel. Only the creator may revoke,
// and never themself.
func (s *Store) Revoke(requester, target, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.getLocked(channelID)
	if err != nil {
		return err
	}
	if requester != c.creator {
		return protocol.Permission("only the creator can revoke access to %q", channelID)
	}
	if target == c.creator {
		return protocol.Validation("the creator cannot revoke their own access")
	}
	if _, ok := c.held[target]; !ok {
		return protocol.NotFound("%s has no access to %q", target, channelID)
	}
	delete(c.held, target)
	return nil
}

// Rotate issues a new key version. Only the creator is granted it; everyone else keeps their
// old versions and must be re-granted.
func (s *Store) Rotate(channelID, requester, customKey string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.getLocked(channelID)
	if err != nil {
		return Grant{}, err
	}
	if requester != c.creator {
		return Grant{}, protocol.Permission("only the creator can rotate %q", channelID)
	}
	material := customKey
	if material == "" {
		if material, err = newKeyMaterial(); err != nil {
			return Grant{}, err
		}
	}
	next := c.current + 1
	kv, err := deriveKey(channelID, next, material)
	if err != nil {
		return Grant{}, err
	}
	c.keys[next] = kv
	c.current = next
	c.give(c.creator, next)
	s.byFP[kv.fingerprint] = fpRef{channel: channelID, version: next}
	return s.grantFor(c, requester), nil
}

// Delete drops the channel and every grant on it. It returns the players that held any version.
func (s *Store) Delete(channelID, requester string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.getLocked(channelID)
	if err != nil {
		return nil, err
	}
	if requester != c.creator {
		return nil, protocol.Permission("only the creator can delete %q", channelID)
	}
	holders := make([]string, 0, len(c.held))
	for p := range c.held {
		holders = append(holders, p)
	}
	sort.Strings(holders)
	for _, kv := range c.keys {
		delete(s.byFP, kv.fingerprint)
	}
	delete(s.channels, channelID)
	return holders, nil
}

// Seal encrypts plaintext under the channel's current key. sender must hold that version.
func (s *Store) Seal(channelID, sender, plaintext string) (Sealed, error) {
	s.mu.RLock()
	c, err := s.getLocked(channelID)
	if err != nil {
		s.mu.RUnlock()
		return Sealed{}, err
	}
	if !c.holdsCurrent(sender) {
		s.mu.RUnlock()
		return Sealed{}, protocol.Permission("no current access to %q", channelID)
	}
	kv := c.cur()
	s.mu.RUnlock()

	nonce, ct, err := seal(kv, channelID, []byte(plaintext))
	if err != nil {
		return Sealed{}, err
	}
	return Sealed{ChannelID: channelID, Version: kv.version, Fingerprint: kv.fingerprint, Nonce: nonce, Ciphertext: ct}, nil
}

// Open decrypts env for player, looking the key version up by fingerprint.
func (s *Store) Open(player string, env Sealed) (string, error) {
	s.mu.RLock()
	kv, ok := s.keyForLocked(player, env.Fingerprint)
	s.mu.RUnlock()
	if !ok {
		return "", protocol.Permission("no key for fingerprint %s", env.Fingerprint)
	}
	pt, err := open(kv, env.ChannelID, env.Nonce, env.Ciphertext)
	if err != nil {
		return "", protocol.Permission("cannot open envelope: %v", err)
	}
	return string(pt), nil
}

// CanOpen reports whether player holds the key version identified by fp.
func (s *Store) CanOpen(player, fp string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keyForLocked(player, fp)
	return ok
}

func (s *Store) keyForLocked(player, fp string) (keyVersion, bool) {
	ref, ok := s.byFP[fp]
	if !ok {
		return keyVersion{}, false
	}
	c, ok := s.channels[ref.channel]
	if !ok {
		return keyVersion{}, false
	}
	if _, ok := c.held[player][ref.version]; !ok {
		return keyVersion{}, false
	}
	return c.keys[ref.version], true
}

func (s *Store) Exists(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channelID]
	return ok
}

func (s *Store) HasCurrent(player, channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[channelID]
	return ok && c.holdsCurrent(player)
}

// ChannelsFor lists every channel player holds any version of, ordered by id.
func (s *Store) ChannelsFor(player string) []Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Grant{}
	for _, c := range s.channels {
		if _, ok := c.held[player]; ok {
			out = append(out, s.grantFor(c, player))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

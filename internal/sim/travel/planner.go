// Package travel tracks deferred, cancellable movement. A player has at most one pending intent;
// planning again supersedes it, and arrivals are re-checked against the current intent when they
// fire.
package travel

import (
	"sort"
	"sync"
	"time"
)

type Intent struct {
	PlayerID string
	From     string
	To       string
	ArriveAt time.Time
	// Seq identifies this intent; a later Plan for the same player gets a higher Seq.
	Seq uint64
}

type Planner struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]Intent
}

func NewPlanner() *Planner {
	return &Planner{pending: map[string]Intent{}}
}

// Plan records a new intent for player, replacing any pending one, and returns it.
func (p *Planner) Plan(playerID, from, to string, arriveAt time.Time) Intent {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	in := Intent{PlayerID: playerID, From: from, To: to, ArriveAt: arriveAt, Seq: p.seq}
	p.pending[playerID] = in
	return in
}

func (p *Planner) Pending(playerID string) (Intent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.pending[playerID]
	return in, ok
}

// IsCurrent reports whether in is still the player's pending intent.
func (p *Planner) IsCurrent(in Intent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.pending[in.PlayerID]
	return ok && cur.Seq == in.Seq
}

// Cancel drops the player's pending intent, if any.
func (p *Planner) Cancel(playerID string) (Intent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.pending[playerID]
	delete(p.pending, playerID)
	return in, ok
}

// Due returns the intents whose arrival time is not after now, in arrival order. They stay
// pending until Complete, so a Plan issued in between still supersedes them.
func (p *Planner) Due(now time.Time) []Intent {
	p.mu.Lock()
	var out []Intent
	for _, in := range p.pending {
		if !in.ArriveAt.After(now) {
			out = append(out, in)
		}
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ArriveAt.Equal(out[j].ArriveAt) {
			return out[i].ArriveAt.Before(out[j].ArriveAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Complete retires in if it is still current and reports whether it was.
func (p *Planner) Complete(in Intent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.pending[in.PlayerID]
	if !ok || cur.Seq != in.Seq {
		return false
	}
	delete(p.pending, in.PlayerID)
	return true
}

func (p *Planner) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

package combat

import (
	"context"
	"log"
	"sync"
	"time"

	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world"
)

type Attack struct {
	At         time.Time `json:"at"`
	Attacker   string    `json:"attacker,omitempty"`
	AttackerID string    `json:"attacker_id,omitempty"`
	Damage     float64   `json:"damage"`
	Health     float64   `json:"health"`
}

// State is a read-only copy of the tracker's combat state.
type State struct {
	UnderAttack    bool      `json:"under_attack"`
	LastAttacker   string    `json:"last_attacker,omitempty"`
	LastAttackerID string    `json:"last_attacker_id,omitempty"`
	LastHitTime    time.Time `json:"last_hit_time,omitempty"`
	HealthDelta    float64   `json:"health_delta"`
	RecentAttacks  []Attack  `json:"recent_attacks,omitempty"` // oldest first
	CombatStart    time.Time `json:"combat_start,omitempty"`
}

// Tracker owns combat state. Only health events mutate it; everybody else
// reads snapshots.
type Tracker struct {
	port       world.Port
	clock      world.Clock
	quiescence time.Duration
	radius     float64
	logger     *log.Logger

	mu     sync.Mutex
	state  State
	ring   []Attack
	next   int
	filled bool
}

func NewTracker(port world.Port, cfg tuning.Combat, logger *log.Logger) *Tracker {
	n := cfg.RecentAttacks
	if n <= 0 {
		n = 10
	}
	return &Tracker{
		port:       port,
		clock:      port.Clock(),
		quiescence: cfg.Quiescence(),
		radius:     cfg.ThreatRadius,
		logger:     logger,
		ring:       make([]Attack, n),
	}
}

// Run drains the port's health events until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	events := t.port.HealthEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.Observe(ctx, ev)
		}
	}
}

// Observe handles one health event. Only damage (negative delta) counts;
// the nearest hostile at that moment is taken as the attacker.
func (t *Tracker) Observe(ctx context.Context, ev world.HealthEvent) {
	if ev.Delta >= 0 {
		return
	}
	at := ev.At
	if at.IsZero() {
		at = t.clock.Now()
	}
	a := Attack{At: at, Damage: -ev.Delta, Health: ev.Health}
	if e, ok := t.nearestHostile(ctx); ok {
		a.Attacker, a.AttackerID = e.Type, e.ID
	}

	t.mu.Lock()
	if !t.activeLocked(at) {
		t.state.CombatStart = at
	}
	t.state.UnderAttack = true
	t.state.LastHitTime = at
	t.state.HealthDelta = ev.Delta
	if a.Attacker != "" {
		t.state.LastAttacker, t.state.LastAttackerID = a.Attacker, a.AttackerID
	}
	t.ring[t.next] = a
	t.next = (t.next + 1) % len(t.ring)
	if t.next == 0 {
		t.filled = true
	}
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Printf("combat hit damage=%.1f health=%.1f attacker=%s", a.Damage, a.Health, a.Attacker)
	}
}

func (t *Tracker) nearestHostile(ctx context.Context) (world.Entity, bool) {
	self, err := t.port.Self(ctx)
	if err != nil {
		return world.Entity{}, false
	}
	ents, err := t.port.Entities(ctx)
	if err != nil {
		return world.Entity{}, false
	}
	cat := t.port.Catalog()
	var best world.Entity
	bestDist := -1.0
	for _, e := range ents {
		if !isHostile(cat, e) {
			continue
		}
		d := e.Pos.Dist(self.Pos)
		if t.radius > 0 && d > t.radius {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = e, d
		}
	}
	return best, bestDist >= 0
}

func (t *Tracker) activeLocked(now time.Time) bool {
	if !t.state.UnderAttack {
		return false
	}
	if now.Sub(t.state.LastHitTime) >= t.quiescence {
		t.state.UnderAttack = false
		t.state.CombatStart = time.Time{}
		return false
	}
	return true
}

// Active reports whether the agent is under attack. It clears itself once
// the quiescence window has passed without damage.
func (t *Tracker) Active() bool {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLocked(now)
}

func (t *Tracker) Snapshot() State {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeLocked(now)
	s := t.state
	s.RecentAttacks = t.recentLocked()
	return s
}

func (t *Tracker) recentLocked() []Attack {
	var out []Attack
	if t.filled {
		out = append(out, t.ring[t.next:]...)
	}
	out = append(out, t.ring[:t.next]...)
	return out
}

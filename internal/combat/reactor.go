package combat

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"voxelhand.ai/internal/abort"
	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/toolpolicy"
	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world"
)

// Engagement outcomes.
const (
	OutcomeSafe    = "safe"
	OutcomeWon     = "won"
	OutcomeFled    = "fled"
	OutcomeAvoided = "avoided"
	OutcomeLost    = "lost_target"
	OutcomeAborted = "aborted"
	OutcomeTimeout = "timeout"
)

type Engagement struct {
	Recommendation Recommendation `json:"recommendation"`
	Reason         string         `json:"reason"`
	Target         string         `json:"target,omitempty"`
	TargetID       string         `json:"target_id,omitempty"`
	Outcome        string         `json:"outcome"`
	Rounds         int            `json:"rounds"`
	Hits           int            `json:"hits"`
	Ate            int            `json:"ate"`
	StartHealth    float64        `json:"start_health"`
	EndHealth      float64        `json:"end_health"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// Resolved reports whether the interrupted operation may carry on.
func (e Engagement) Resolved() bool {
	return e.Outcome == OutcomeSafe || e.Outcome == OutcomeWon
}

// Reactor runs the bounded fight/flee loop. It drives the same body as the
// executor, so it only ever runs from the executor's goroutine.
type Reactor struct {
	port    world.Port
	cat     *catalogs.Catalog
	tracker *Tracker
	policy  *toolpolicy.Policy
	abort   *abort.Coordinator
	cfg     tuning.Combat
	logger  *log.Logger

	// Report, when set, receives every finished engagement.
	Report func(Engagement)
}

func NewReactor(port world.Port, tracker *Tracker, policy *toolpolicy.Policy, ab *abort.Coordinator, cfg tuning.Combat, logger *log.Logger) *Reactor {
	return &Reactor{
		port:    port,
		cat:     port.Catalog(),
		tracker: tracker,
		policy:  policy,
		abort:   ab,
		cfg:     cfg,
		logger:  logger,
	}
}

func (r *Reactor) Tracker() *Tracker { return r.tracker }

func (r *Reactor) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

func (r *Reactor) params() Params {
	return Params{
		DistanceScale:  r.cfg.DangerDistanceScale,
		Radius:         r.cfg.ThreatRadius,
		CriticalHealth: r.cfg.CriticalHealth,
	}
}

// Assess reads the world and evaluates the current threat picture.
func (r *Reactor) Assess(ctx context.Context) (Assessment, error) {
	self, err := r.port.Self(ctx)
	if err != nil {
		return Assessment{}, err
	}
	inv, err := r.port.Inventory(ctx)
	if err != nil {
		return Assessment{}, err
	}
	ents, err := r.port.Entities(ctx)
	if err != nil {
		return Assessment{}, err
	}
	return Assess(r.cat, self, inv, ents, r.params()), nil
}

// Active reports whether combat should preempt the running operation.
func (r *Reactor) Active() bool { return r.tracker.Active() }

// React takes control while the agent is under attack: it assesses, then
// fights the nearest hostile or moves away from the threats.
func (r *Reactor) React(ctx context.Context) (Engagement, error) {
	a, err := r.Assess(ctx)
	if err != nil {
		return Engagement{}, err
	}
	switch a.Recommendation {
	case Safe:
		return Engagement{Recommendation: Safe, Reason: a.Reason, Outcome: OutcomeSafe}, nil
	case Fight, FightCareful:
		t := a.Threats[0]
		return r.engage(ctx, t.ID, t.Type, a)
	default:
		e := r.begin(ctx, a)
		if err := r.flee(ctx, a.Threats); err != nil {
			return r.finish(ctx, e, OutcomeAborted), err
		}
		out := OutcomeFled
		if a.Recommendation == Avoid {
			out = OutcomeAvoided
		}
		return r.finish(ctx, e, out), nil
	}
}

// AttackNearest engages the nearest entity of kind, or the nearest hostile
// when kind is empty.
func (r *Reactor) AttackNearest(ctx context.Context, kind string) (Engagement, error) {
	a, err := r.Assess(ctx)
	if err != nil {
		return Engagement{}, err
	}
	self, err := r.port.Self(ctx)
	if err != nil {
		return Engagement{}, err
	}
	ents, err := r.port.Entities(ctx)
	if err != nil {
		return Engagement{}, err
	}
	var target world.Entity
	best := -1.0
	for _, e := range ents {
		if e.IsDrop() {
			continue
		}
		if kind != "" && e.Type != kind {
			continue
		}
		if kind == "" && !isHostile(r.cat, e) {
			continue
		}
		d := e.Pos.Dist(self.Pos)
		if r.cfg.ThreatRadius > 0 && d > r.cfg.ThreatRadius {
			continue
		}
		if best < 0 || d < best {
			target, best = e, d
		}
	}
	if best < 0 {
		if kind == "" {
			kind = "hostile"
		}
		return Engagement{}, world.Errorf(world.KindNotFound, "attack", "no %s within %.0f", kind, r.cfg.ThreatRadius)
	}
	if a.Recommendation == Flee {
		e := r.begin(ctx, a)
		if err := r.flee(ctx, a.Threats); err != nil {
			return r.finish(ctx, e, OutcomeAborted), err
		}
		return r.finish(ctx, e, OutcomeFled), nil
	}
	return r.engage(ctx, target.ID, target.Type, a)
}

func (r *Reactor) begin(ctx context.Context, a Assessment) Engagement {
	e := Engagement{
		Recommendation: a.Recommendation,
		Reason:         a.Reason,
		StartedAt:      r.port.Clock().Now(),
	}
	if self, err := r.port.Self(ctx); err == nil {
		e.StartHealth = self.Health
	}
	return e
}

func (r *Reactor) finish(ctx context.Context, e Engagement, outcome string) Engagement {
	e.Outcome = outcome
	e.FinishedAt = r.port.Clock().Now()
	if self, err := r.port.Self(ctx); err == nil {
		e.EndHealth = self.Health
	}
	r.logf("combat done outcome=%s target=%s rounds=%d hits=%d ate=%d health=%.1f->%.1f",
		e.Outcome, e.Target, e.Rounds, e.Hits, e.Ate, e.StartHealth, e.EndHealth)
	if r.Report != nil {
		r.Report(e)
	}
	return e
}

// engage is the attack-chase-heal-flee loop against one target.
func (r *Reactor) engage(ctx context.Context, targetID, targetType string, a Assessment) (Engagement, error) {
	e := r.begin(ctx, a)
	e.Target, e.TargetID = targetType, targetID
	if _, _, err := r.policy.EquipWeapon(ctx); err != nil {
		r.logf("combat equip err=%v", err)
	}

	maxRounds := r.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 120
	}
	for e.Rounds = 0; e.Rounds < maxRounds; e.Rounds++ {
		if r.abort.Consume() {
			return r.finish(ctx, e, OutcomeAborted), nil
		}
		if err := ctx.Err(); err != nil {
			return r.finish(ctx, e, OutcomeAborted), err
		}
		self, err := r.port.Self(ctx)
		if err != nil {
			return r.finish(ctx, e, OutcomeLost), err
		}
		if self.Health <= r.cfg.CriticalHealth {
			food, err := r.bestFood(ctx)
			if err != nil {
				return r.finish(ctx, e, OutcomeLost), err
			}
			if food != "" {
				err := r.port.Consume(ctx, food)
				if err == nil {
					e.Ate++
					// Eating put the food in hand.
					if _, _, err := r.policy.EquipWeapon(ctx); err != nil {
						r.logf("combat equip err=%v", err)
					}
					if err := r.port.WaitTick(ctx); err != nil {
						return r.finish(ctx, e, OutcomeAborted), err
					}
					continue
				}
				r.logf("combat eat item=%s err=%v", food, err)
			}
			if err := r.flee(ctx, r.threats(ctx)); err != nil {
				return r.finish(ctx, e, OutcomeAborted), err
			}
			return r.finish(ctx, e, OutcomeFled), nil
		}

		ents, err := r.port.Entities(ctx)
		if err != nil {
			return r.finish(ctx, e, OutcomeLost), err
		}
		target, ok := findEntity(ents, targetID)
		if !ok {
			return r.finish(ctx, e, OutcomeWon), nil
		}
		dist := target.Pos.Dist(self.Pos)
		if m, ok := r.cat.Mob(target.Type); ok {
			if m.FleeAlways || (m.MeleeForbiddenRadius > 0 && dist < m.MeleeForbiddenRadius) {
				if err := r.flee(ctx, []Threat{{ID: target.ID, Type: target.Type, Pos: target.Pos, Distance: dist}}); err != nil {
					return r.finish(ctx, e, OutcomeAborted), err
				}
				return r.finish(ctx, e, OutcomeFled), nil
			}
		}
		if dist > r.cfg.MeleeRange {
			goal := world.Goal{Pos: target.Pos, Range: math.Max(1, r.cfg.MeleeRange-0.5)}
			if err := r.port.PathfindTo(ctx, goal, r.cfg.ChaseTimeout()); err != nil {
				if ctx.Err() != nil {
					return r.finish(ctx, e, OutcomeAborted), ctx.Err()
				}
				r.logf("combat chase target=%s err=%v", target.ID, err)
			}
		} else {
			if err := r.port.LookAt(ctx, target.Pos.Up()); err != nil {
				r.logf("combat look target=%s err=%v", target.ID, err)
			}
			if err := r.port.Attack(ctx, target.ID); err != nil {
				r.logf("combat attack target=%s err=%v", target.ID, err)
			} else {
				e.Hits++
			}
		}
		if err := r.port.WaitTick(ctx); err != nil {
			return r.finish(ctx, e, OutcomeAborted), err
		}
	}
	return r.finish(ctx, e, OutcomeTimeout), nil
}

func findEntity(ents []world.Entity, id string) (world.Entity, bool) {
	for _, e := range ents {
		if e.ID == id {
			return e, true
		}
	}
	return world.Entity{}, false
}

func (r *Reactor) bestFood(ctx context.Context) (string, error) {
	inv, err := r.port.Inventory(ctx)
	if err != nil {
		return "", err
	}
	best, val := "", 0
	for _, it := range inv {
		if it.Count <= 0 {
			continue
		}
		if v := r.cat.FoodValue(it.Name); v > val {
			best, val = it.Name, v
		}
	}
	return best, nil
}

func (r *Reactor) threats(ctx context.Context) []Threat {
	a, err := r.Assess(ctx)
	if err != nil {
		return nil
	}
	return a.Threats
}

// flee paths directly away from the threats' centroid, trying the two
// perpendicular headings when the straight line is blocked.
func (r *Reactor) flee(ctx context.Context, threats []Threat) error {
	self, err := r.port.Self(ctx)
	if err != nil {
		return err
	}
	away := world.North
	if len(threats) > 0 {
		var sx, sz int
		for _, t := range threats {
			sx += t.Pos.X
			sz += t.Pos.Z
		}
		n := len(threats)
		centroid := world.V(sx/n, self.Pos.Y, sz/n)
		away = world.DirectionTo(centroid, self.Pos)
	}
	dist := r.cfg.FleeDistance
	if dist <= 0 {
		dist = 16
	}
	for _, d := range []world.Direction{away, away.Right(), away.Left()} {
		goal := world.Goal{Pos: self.Pos.Add(d.Vec().Scale(dist)), Range: 4}
		err := r.port.PathfindTo(ctx, goal, r.cfg.FleeTimeout())
		if err == nil {
			r.logf("combat flee heading=%s", d)
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		r.logf("combat flee heading=%s err=%v", d, err)
	}
	return nil
}

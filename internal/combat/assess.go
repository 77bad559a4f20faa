package combat

import (
	"fmt"
	"math"
	"sort"

	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/toolpolicy"
	"voxelhand.ai/internal/world"
)

type Recommendation string

const (
	Safe         Recommendation = "safe"
	Fight        Recommendation = "fight"
	FightCareful Recommendation = "fight_careful"
	Avoid        Recommendation = "avoid"
	Flee         Recommendation = "flee"
)

// unknownMobDanger is used for hostiles missing from the mob table.
const unknownMobDanger = 2

type Threat struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Pos      world.Vec3 `json:"pos"`
	Distance float64    `json:"distance"`
	Danger   float64    `json:"danger"`
}

type Assessment struct {
	Recommendation Recommendation `json:"recommendation"`
	Reason         string         `json:"reason"`
	Power          float64        `json:"power"`
	Danger         float64        `json:"danger"`
	Weapon         string         `json:"weapon,omitempty"`
	WeaponScore    float64        `json:"weapon_score"`
	HasFood        bool           `json:"has_food"`
	Threats        []Threat       `json:"threats,omitempty"` // nearest first
}

func isHostile(cat *catalogs.Catalog, e world.Entity) bool {
	if e.IsDrop() {
		return false
	}
	if e.Hostile {
		return true
	}
	_, ok := cat.Mob(e.Type)
	return ok
}

// Params carries the tuned constants Assess needs.
type Params struct {
	DistanceScale  float64
	Radius         float64
	CriticalHealth float64
}

// Assess is the pure threat evaluation. The decision table is checked in
// fixed order; the first matching row wins.
func Assess(cat *catalogs.Catalog, self world.SelfState, inv []world.Item, ents []world.Entity, p Params) Assessment {
	a := Assessment{}
	a.Weapon, a.WeaponScore = toolpolicy.BestWeapon(cat, inv)
	for _, it := range inv {
		if it.Count > 0 && cat.IsFood(it.Name) {
			a.HasFood = true
			break
		}
	}
	food := 0.0
	if a.HasFood {
		food = 2
	}
	a.Power = a.WeaponScore + cat.ArmorScore(self.Armor)*0.5 + self.Health*0.3 + food

	deadliest := cat.DeadliestMob()
	sawDeadliest := false
	for _, e := range ents {
		if !isHostile(cat, e) {
			continue
		}
		d := e.Pos.Dist(self.Pos)
		if p.Radius > 0 && d > p.Radius {
			continue
		}
		base := float64(unknownMobDanger)
		if m, ok := cat.Mob(e.Type); ok {
			base = m.Danger
			if m.FleeAlways {
				sawDeadliest = true
			}
		}
		w := base * (1 + math.Max(0, p.DistanceScale-d)/p.DistanceScale)
		a.Danger += w
		a.Threats = append(a.Threats, Threat{ID: e.ID, Type: e.Type, Pos: e.Pos, Distance: d, Danger: w})
	}
	sort.SliceStable(a.Threats, func(i, j int) bool { return a.Threats[i].Distance < a.Threats[j].Distance })

	switch {
	case len(a.Threats) == 0:
		a.Recommendation, a.Reason = Safe, "no hostiles nearby"
	case sawDeadliest:
		a.Recommendation, a.Reason = Flee, fmt.Sprintf("%s detected", deadliest)
	case a.Danger >= 8 && a.Power < 5:
		a.Recommendation, a.Reason = Flee, "overwhelming danger"
	case self.Health <= p.CriticalHealth && !a.HasFood:
		a.Recommendation, a.Reason = Flee, "low health and no food"
	case a.WeaponScore == 0 && a.Danger > 3:
		a.Recommendation, a.Reason = Avoid, "no weapon"
	case a.Power > 1.5*a.Danger:
		a.Recommendation, a.Reason = Fight, "clear advantage"
	case a.Power > a.Danger:
		a.Recommendation, a.Reason = FightCareful, "slight advantage"
	default:
		a.Recommendation, a.Reason = Avoid, "outmatched"
	}
	return a
}

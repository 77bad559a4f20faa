package combat

import (
	"math"
	"testing"

	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/world"
)

func TestAssessDecisionTable(t *testing.T) {
	cat := catalogs.Default()
	p := Params{DistanceScale: 10, Radius: 16, CriticalHealth: 6}
	at := func(kind string, x int) world.Entity {
		return world.Entity{ID: kind, Type: kind, Pos: world.V(x, 64, 0), Hostile: true}
	}
	inv := func(items ...string) []world.Item {
		var out []world.Item
		for _, it := range items {
			out = append(out, world.Item{Name: it, Count: 1})
		}
		return out
	}
	self := func(hp float64) world.SelfState { return world.SelfState{Pos: world.V(0, 64, 0), Health: hp} }

	cases := []struct {
		name string
		self world.SelfState
		inv  []world.Item
		ents []world.Entity
		want Recommendation
	}{
		{"nothing around", self(20), nil, nil, Safe},
		{"only passive mobs", self(20), nil, []world.Entity{{ID: "c", Type: "cow", Pos: world.V(1, 64, 0)}}, Safe},
		{"warden always flees", self(20), inv("netherite_sword", "bread"), []world.Entity{at("warden", 15)}, Flee},
		{"swarmed while weak", self(5), nil, []world.Entity{at("zombie", 1), at("zombie", 1), at("zombie", 1)}, Flee},
		{"low health no food", self(6), inv("iron_sword"), []world.Entity{at("zombie", 10)}, Flee},
		{"no weapon", self(20), inv("bread"), []world.Entity{at("creeper", 5)}, Avoid},
		{"clear advantage", self(20), inv("iron_sword", "bread"), []world.Entity{at("zombie", 5)}, Fight},
		{"slight advantage", self(10), inv("stone_sword"), []world.Entity{at("skeleton", 2)}, FightCareful},
		{"outmatched", self(20), inv("wooden_sword"), []world.Entity{at("vindicator", 1)}, Avoid},
	}
	for _, tc := range cases {
		a := Assess(cat, tc.self, tc.inv, tc.ents, p)
		if a.Recommendation != tc.want {
			t.Fatalf("%s: got %s (%s, power=%.2f danger=%.2f) want %s",
				tc.name, a.Recommendation, a.Reason, a.Power, a.Danger, tc.want)
		}
	}
}

func TestAssessDangerWeighting(t *testing.T) {
	cat := catalogs.Default()
	p := Params{DistanceScale: 10, Radius: 32}
	self := world.SelfState{Pos: world.V(0, 64, 0), Health: 20}
	near := Assess(cat, self, nil, []world.Entity{{ID: "a", Type: "zombie", Pos: world.V(0, 64, 0)}}, p)
	far := Assess(cat, self, nil, []world.Entity{{ID: "a", Type: "zombie", Pos: world.V(20, 64, 0)}}, p)
	if near.Danger != 4 || far.Danger != 2 {
		t.Fatalf("danger near=%v far=%v; want 4 and 2", near.Danger, far.Danger)
	}
	out := Assess(cat, self, nil, []world.Entity{{ID: "a", Type: "zombie", Pos: world.V(40, 64, 0)}}, p)
	if len(out.Threats) != 0 {
		t.Fatalf("mobs beyond the radius are ignored")
	}
}

func TestAssessPower(t *testing.T) {
	cat := catalogs.Default()
	self := world.SelfState{Health: 10, Armor: []string{"iron_chestplate", "iron_helmet"}}
	a := Assess(cat, self, []world.Item{{Name: "diamond_sword", Count: 1}, {Name: "bread", Count: 2}}, nil, Params{DistanceScale: 10})
	// 5 + 8*0.5 + 10*0.3 + 2
	if math.Abs(a.Power-14) > 1e-9 {
		t.Fatalf("power = %v want 14", a.Power)
	}
}

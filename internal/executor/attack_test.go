package executor

import (
	"context"
	"testing"

	"voxelhand.ai/internal/world"
)

func TestAttackKillsTarget(t *testing.T) {
	w := field()
	w.Give("iron_sword", 1)
	id := w.Spawn("skeleton", world.V(2, 64, 0), true, 10)
	x, _ := newCombatExec(w)

	out := x.Attack(context.Background(), AttackRequest{Entity: "skeleton"})
	if !out.Success || out.Counts["kills"] != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if w.EntityAlive(id) || out.Counts["hits"] != 2 {
		t.Fatalf("counts = %v alive = %v", out.Counts, w.EntityAlive(id))
	}
}

func TestAttackNothingThere(t *testing.T) {
	w := field()
	x, _ := newCombatExec(w)
	out := x.Attack(context.Background(), AttackRequest{Entity: "zombie"})
	if out.Success || out.Reason != world.KindNotFound {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestAttackWithoutReactor(t *testing.T) {
	x, _ := newExec(field())
	out := x.Attack(context.Background(), AttackRequest{})
	if out.Success || out.Reason != world.KindBadRequest {
		t.Fatalf("outcome = %+v", out)
	}
}

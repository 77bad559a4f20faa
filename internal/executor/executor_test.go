package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"voxelhand.ai/internal/abort"
	"voxelhand.ai/internal/combat"
	"voxelhand.ai/internal/toolpolicy"
	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world"
	"voxelhand.ai/internal/worldtest"
)

// field is a flat grass field with the agent standing at the origin.
func field() *worldtest.World {
	w := worldtest.New(nil)
	w.FillBox(world.V(-24, 63, -24), world.V(24, 63, 24), "grass_block")
	w.SetAgent(world.V(0, 64, 0))
	return w
}

// rock buries the agent in stone with a two-block pocket at the origin.
func rock() *worldtest.World {
	w := worldtest.New(nil)
	w.FillBox(world.V(-8, 50, -8), world.V(8, 70, 8), "stone")
	w.SetBlock(world.V(0, 64, 0), world.BlockAir)
	w.SetBlock(world.V(0, 65, 0), world.BlockAir)
	w.SetAgent(world.V(0, 64, 0))
	return w
}

func newExec(w *worldtest.World) (*Executor, *abort.Coordinator) {
	ab := abort.New(w)
	return New(Deps{Port: w, Tuning: tuning.Defaults(), Abort: ab}), ab
}

func newCombatExec(w *worldtest.World) (*Executor, *combat.Tracker) {
	cfg := tuning.Defaults()
	ab := abort.New(w)
	pol := toolpolicy.New(w, nil)
	tr := combat.NewTracker(w, cfg.Combat, nil)
	r := combat.NewReactor(w, tr, pol, ab, cfg.Combat, nil)
	return New(Deps{Port: w, Tuning: cfg, Policy: pol, Reactor: r, Abort: ab}), tr
}

func TestMineFinishesVeinWithSweep(t *testing.T) {
	w := field()
	w.FillBox(world.V(3, 64, 0), world.V(7, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	x, _ := newExec(w)

	out := x.Mine(context.Background(), MineRequest{Material: "stone", Count: 5})
	if !out.Success || out.Reason != "" {
		t.Fatalf("mine failed: %+v", out)
	}
	if out.Counts["mined"] != 5 {
		t.Fatalf("mined = %d, want 5", out.Counts["mined"])
	}
	if out.Counts["cluster_sweeps"] < 1 || out.Counts["cluster_mined"] < 1 {
		t.Fatalf("expected the vein to be swept: %v", out.Counts)
	}
	if len(out.FailedPositions) != 0 {
		t.Fatalf("unexpected failed positions: %v", out.FailedPositions)
	}
	for x := 3; x <= 7; x++ {
		if got := w.Block(world.V(x, 64, 0)); got != world.BlockAir {
			t.Fatalf("block at x=%d still %s", x, got)
		}
	}
	if out.OperationID == "" || out.Kind != KindMine {
		t.Fatalf("outcome identity missing: %+v", out)
	}
}

func TestMineNeverExceedsRequested(t *testing.T) {
	w := field()
	w.FillBox(world.V(3, 64, -1), world.V(5, 64, 1), "stone")
	w.Give("stone_pickaxe", 1)
	x, _ := newExec(w)

	out := x.Mine(context.Background(), MineRequest{Material: "stone", Count: 3})
	if !out.Success || out.Counts["mined"] != 3 {
		t.Fatalf("outcome = %+v", out)
	}
	if n := len(w.Dug()); n != 3 {
		t.Fatalf("dug %d blocks for a request of 3", n)
	}
}

func TestMineFailedPositionsCapped(t *testing.T) {
	w := field()
	w.Give("stone_pickaxe", 1)
	for i := 0; i < 12; i++ {
		p := world.V(20, 64, i*2-11)
		w.SetBlock(p, "iron_ore")
		w.Unreachable[p] = true
	}
	x, _ := newExec(w)

	out := x.Mine(context.Background(), MineRequest{Material: "iron_ore", Count: 3})
	if out.Success || out.Reason != world.KindUnreachable {
		t.Fatalf("want unreachable failure, got %+v", out)
	}
	if len(out.FailedPositions) != 10 {
		t.Fatalf("failed positions = %d, want 10", len(out.FailedPositions))
	}
	seen := map[world.Vec3]bool{}
	for _, p := range out.FailedPositions {
		if seen[p] {
			t.Fatalf("duplicate failed position %s", p)
		}
		seen[p] = true
	}
	if len(w.Dug()) != 0 {
		t.Fatalf("nothing should have been dug: %v", w.Dug())
	}
}

func TestMineReverifiesToolAfterMoving(t *testing.T) {
	w := field()
	w.SetBlock(world.V(8, 64, 0), "iron_ore")
	w.Give("stone_pickaxe", 1)
	w.Give("dirt", 1)
	w.AfterPathfind = func(w *worldtest.World) { w.SetHeld("dirt") }
	var heldAtDig []string
	w.OnDig = func(w *worldtest.World, _ world.Vec3) {
		heldAtDig = append(heldAtDig, w.Agent().Held)
	}
	x, _ := newExec(w)

	out := x.Mine(context.Background(), MineRequest{Material: "iron_ore", Count: 1})
	if !out.Success || out.Counts["mined"] != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(heldAtDig) != 1 || heldAtDig[0] != "stone_pickaxe" {
		t.Fatalf("held at dig = %v", heldAtDig)
	}
}

func TestMineToolBreaksMidLoop(t *testing.T) {
	w := field()
	w.FillBox(world.V(3, 64, 0), world.V(7, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	w.ToolUses["stone_pickaxe"] = 2
	x, _ := newExec(w)

	out := x.Mine(context.Background(), MineRequest{Material: "stone", Count: 5})
	if out.Reason != world.KindToolMissing {
		t.Fatalf("reason = %s, want %s", out.Reason, world.KindToolMissing)
	}
	if !out.Success || out.Counts["mined"] != 2 {
		t.Fatalf("want partial success with 2 mined, got %+v", out)
	}
}

func TestMineWithoutRequiredTool(t *testing.T) {
	w := field()
	w.SetBlock(world.V(2, 64, 0), "stone")
	x, _ := newExec(w)

	out := x.Mine(context.Background(), MineRequest{Material: "stone", Count: 1})
	if out.Success || out.Reason != world.KindToolMissing {
		t.Fatalf("outcome = %+v", out)
	}
	if w.CallCount("dig") != 0 {
		t.Fatalf("should not dig without a pickaxe")
	}
}

func TestMineBelowToolTierProceedsWithWarning(t *testing.T) {
	w := field()
	w.SetBlock(world.V(2, 64, 0), "diamond_ore")
	w.Give("stone_pickaxe", 1)
	x, _ := newExec(w)

	out := x.Mine(context.Background(), MineRequest{Material: "diamond_ore", Count: 1})
	if !out.Success || out.Reason != "" {
		t.Fatalf("tier shortfall should not fail the operation: %+v", out)
	}
	if out.Counts["mined"] != 1 || len(w.Dug()) != 1 {
		t.Fatalf("mined = %d dug = %v", out.Counts["mined"], w.Dug())
	}
	if len(out.Warnings) == 0 || !strings.Contains(out.Warnings[0], "tier") {
		t.Fatalf("warnings = %v", out.Warnings)
	}
}

func TestMineAbortWhileApproaching(t *testing.T) {
	w := field()
	w.SetBlock(world.V(12, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	x, ab := newExec(w)
	navs := 0
	w.BeforePathfind = func(*worldtest.World, world.Goal) error {
		navs++
		ab.Abort()
		return errors.New("navigation stopped")
	}

	out := x.Mine(context.Background(), MineRequest{Material: "stone", Count: 1})
	if !out.Success || out.Reason != world.KindAborted {
		t.Fatalf("outcome = %+v", out)
	}
	if ab.Requested() {
		t.Fatalf("abort flag should be consumed")
	}
	if navs != 1 || len(w.Dug()) != 0 {
		t.Fatalf("navigations = %d dug = %v after abort", navs, w.Dug())
	}
}

// tickless never delivers another observation.
type tickless struct{ *worldtest.World }

func (tickless) WaitTick(context.Context) error {
	return world.Errorf(world.KindPrimitive, "wait_tick", "no observation")
}

func TestMineMissingTickIsAFailure(t *testing.T) {
	w := field()
	w.SetBlock(world.V(2, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	port := tickless{World: w}
	x := New(Deps{Port: port, Tuning: tuning.Defaults(), Abort: abort.New(port)})

	out := x.Mine(context.Background(), MineRequest{Material: "stone", Count: 1})
	if out.Success || out.Reason != world.KindPrimitive {
		t.Fatalf("outcome = %+v", out)
	}
	if !strings.Contains(out.Message, "no observation") {
		t.Fatalf("message = %q", out.Message)
	}
}

func TestMineBadCount(t *testing.T) {
	x, _ := newExec(field())
	out := x.Mine(context.Background(), MineRequest{Material: "stone"})
	if out.Success || out.Reason != world.KindBadRequest {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestMineNothingInRange(t *testing.T) {
	w := field()
	w.Give("stone_pickaxe", 1)
	x, _ := newExec(w)
	out := x.Mine(context.Background(), MineRequest{Material: "diamond_ore", Count: 1, MaxDistance: 8})
	if out.Success || out.Reason != world.KindNotFound {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestMineAbortedBeforeFirstBlock(t *testing.T) {
	w := field()
	w.FillBox(world.V(3, 64, 0), world.V(4, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	x, ab := newExec(w)
	ab.Abort()

	out := x.Mine(context.Background(), MineRequest{Material: "stone", Count: 2})
	if !out.Success || out.Reason != world.KindAborted {
		t.Fatalf("abort should be success-shaped: %+v", out)
	}
	if ab.Requested() {
		t.Fatalf("abort flag should be consumed")
	}
	if len(w.Dug()) != 0 {
		t.Fatalf("dug after abort: %v", w.Dug())
	}
}

func TestMineCancelledContext(t *testing.T) {
	w := field()
	w.SetBlock(world.V(3, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	x, _ := newExec(w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := x.Mine(ctx, MineRequest{Material: "stone", Count: 1})
	if out.Reason != world.KindAborted && out.Reason != world.KindPrimitive {
		t.Fatalf("reason = %s", out.Reason)
	}
	if len(w.Dug()) != 0 {
		t.Fatalf("dug with a cancelled context")
	}
}

func TestCombatWonLetsOperationContinue(t *testing.T) {
	w := field()
	w.SetBlock(world.V(3, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	w.Give("iron_sword", 1)
	zid := w.Spawn("zombie", world.V(2, 64, 1), true, 5)
	x, tr := newCombatExec(w)
	ctx := context.Background()
	tr.Observe(ctx, world.HealthEvent{At: w.Now(), Health: 18, Delta: -2})

	out := x.Mine(ctx, MineRequest{Material: "stone", Count: 1})
	if !out.Success || out.Counts["mined"] != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Counts["combat"] < 1 || w.EntityAlive(zid) {
		t.Fatalf("expected a won fight first: counts=%v alive=%v", out.Counts, w.EntityAlive(zid))
	}
}

func TestCombatFleePreemptsOperation(t *testing.T) {
	w := field()
	w.SetBlock(world.V(3, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	w.Spawn("warden", world.V(3, 64, 3), true, 500)
	x, tr := newCombatExec(w)
	ctx := context.Background()
	tr.Observe(ctx, world.HealthEvent{At: w.Now(), Health: 10, Delta: -10})

	out := x.Mine(ctx, MineRequest{Material: "stone", Count: 1})
	if out.Success || out.Reason != world.KindCombatPreempted {
		t.Fatalf("outcome = %+v", out)
	}
	if len(w.Dug()) != 0 {
		t.Fatalf("should not mine while fleeing")
	}
}

func TestPositionSetOrder(t *testing.T) {
	var s PositionSet
	a, b := world.V(1, 2, 3), world.V(0, 0, 0)
	if !s.Add(a) || !s.Add(b) || s.Add(a) {
		t.Fatalf("unexpected Add results")
	}
	got := s.List()
	if len(got) != 2 || got[0] != a || got[1] != b || s.Len() != 2 || !s.Has(b) {
		t.Fatalf("list = %v", got)
	}
}

func TestLineCellsExcludesEnds(t *testing.T) {
	a, b := world.V(0, 65, 0), world.V(4, 65, 0)
	cells := lineCells(a, b)
	if len(cells) != 3 {
		t.Fatalf("cells = %v", cells)
	}
	for i, c := range cells {
		if c != world.V(i+1, 65, 0) {
			t.Fatalf("cell %d = %s", i, c)
		}
	}
}

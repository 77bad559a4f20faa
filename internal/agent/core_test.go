package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"voxelhand.ai/internal/combat"
	"voxelhand.ai/internal/executor"
	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world"
	"voxelhand.ai/internal/worldtest"
)

type memRecorder struct {
	ops []executor.Outcome
	eng []combat.Engagement
}

func (m *memRecorder) RecordOperation(out executor.Outcome) { m.ops = append(m.ops, out) }
func (m *memRecorder) RecordEngagement(e combat.Engagement) { m.eng = append(m.eng, e) }

func field() *worldtest.World {
	w := worldtest.New(nil)
	w.FillBox(world.V(-24, 63, -24), world.V(24, 63, 24), "grass_block")
	w.SetAgent(world.V(0, 64, 0))
	return w
}

func newCore(w *worldtest.World) (*Core, *memRecorder) {
	rec := &memRecorder{}
	return New(Deps{Port: w, Tuning: tuning.Defaults(), Recorders: []Recorder{rec}}), rec
}

func TestMineRecordsOutcome(t *testing.T) {
	w := field()
	w.FillBox(world.V(2, 64, 0), world.V(3, 64, 0), "iron_ore")
	w.Give("stone_pickaxe", 1)
	c, rec := newCore(w)

	out := c.Mine(context.Background(), executor.MineRequest{Material: "Iron Ore", Count: 2})
	if !out.Success || out.Counts["mined"] != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(rec.ops) != 1 || rec.ops[0].OperationID != out.OperationID {
		t.Fatalf("recorded = %+v", rec.ops)
	}
	st := c.Status(context.Background())
	if st.Busy || st.LastOutcome == nil || st.LastOutcome.OperationID != out.OperationID {
		t.Fatalf("status = %+v", st)
	}
}

func TestMaterialNamesAreNormalized(t *testing.T) {
	w := field()
	w.SetBlock(world.V(2, 64, 0), "diamond_ore")
	w.Give("iron_pickaxe", 1)
	c, _ := newCore(w)

	out := c.Mine(context.Background(), executor.MineRequest{Material: "diamond_or", Count: 1})
	if !out.Success || out.Counts["mined"] != 1 {
		t.Fatalf("typo should be corrected: %+v", out)
	}

	out = c.Mine(context.Background(), executor.MineRequest{Material: "xyzzy", Count: 1})
	if out.Success || out.Reason != world.KindBadRequest {
		t.Fatalf("outcome = %+v", out)
	}
	if !strings.Contains(out.Message, "unknown material") {
		t.Fatalf("message = %q", out.Message)
	}
}

func TestSecondIntentIsRefusedWhileBusy(t *testing.T) {
	w := field()
	w.FillBox(world.V(2, 64, 0), world.V(3, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	c, rec := newCore(w)

	var nested executor.Outcome
	var during Status
	w.OnDig = func(*worldtest.World, world.Vec3) {
		if nested.OperationID != "" {
			return
		}
		during = c.Status(context.Background())
		nested = c.DigDown(context.Background(), executor.DigDownRequest{TargetY: 10})
	}

	out := c.Mine(context.Background(), executor.MineRequest{Material: "stone", Count: 2})
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if nested.Success || nested.Reason != world.KindBusy {
		t.Fatalf("nested = %+v", nested)
	}
	if !during.Busy || during.Running == nil || during.Running.Kind != executor.KindMine {
		t.Fatalf("status during op = %+v", during)
	}
	if during.Running.BudgetMs != 60000 {
		t.Fatalf("budget = %d", during.Running.BudgetMs)
	}
	if len(rec.ops) != 1 {
		t.Fatalf("refused intents are not recorded: %d", len(rec.ops))
	}
}

func TestLeftoverAbortIsClearedByNextIntent(t *testing.T) {
	w := field()
	w.SetBlock(world.V(2, 64, 0), "stone")
	w.Give("stone_pickaxe", 1)
	c, _ := newCore(w)

	c.Abort()
	out := c.Mine(context.Background(), executor.MineRequest{Material: "stone", Count: 1})
	if !out.Success || out.Reason != "" || out.Counts["mined"] != 1 {
		t.Fatalf("stale abort leaked into the new operation: %+v", out)
	}
	if c.Status(context.Background()).AbortRequests != 1 {
		t.Fatalf("abort should be counted")
	}
}

func TestAbortDuringOperation(t *testing.T) {
	w := field()
	w.FillBox(world.V(2, 64, -1), world.V(3, 64, 1), "stone")
	w.Give("stone_pickaxe", 1)
	c, _ := newCore(w)
	w.OnDig = func(*worldtest.World, world.Vec3) { c.Abort() }

	out := c.Mine(context.Background(), executor.MineRequest{Material: "stone", Count: 6})
	if !out.Success || out.Reason != world.KindAborted {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Counts["mined"] != 1 {
		t.Fatalf("mined = %d", out.Counts["mined"])
	}
	if w.Stops() == 0 {
		t.Fatalf("abort should reset navigation")
	}
}

func TestEngagementsAreRecorded(t *testing.T) {
	w := field()
	w.Give("iron_sword", 1)
	w.Spawn("zombie", world.V(2, 64, 0), true, 5)
	c, rec := newCore(w)

	out := c.Attack(context.Background(), executor.AttackRequest{Entity: "Zombie"})
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if len(rec.eng) != 1 || rec.eng[0].Outcome != combat.OutcomeWon {
		t.Fatalf("engagements = %+v", rec.eng)
	}
}

func TestStatusAssessment(t *testing.T) {
	w := field()
	w.Spawn("warden", world.V(4, 64, 0), true, 500)
	c, _ := newCore(w)
	st := c.Status(context.Background())
	if st.Assessment == nil || st.Assessment.Recommendation != combat.Flee {
		t.Fatalf("assessment = %+v", st.Assessment)
	}
}

func TestBudget(t *testing.T) {
	c, _ := newCore(field())
	cases := []struct {
		kind   executor.Kind
		params any
		want   time.Duration
	}{
		{executor.KindMine, executor.MineRequest{Count: 3}, 60 * time.Second},
		{executor.KindMine, executor.MineRequest{Count: 32}, 256 * time.Second},
		{executor.KindDigDown, executor.DigDownRequest{TargetY: 12}, 120 * time.Second},
		{executor.KindTunnel, executor.TunnelRequest{Length: 30}, 120 * time.Second},
		{executor.KindBranchMine, executor.BranchMineRequest{Length: 40}, 360 * time.Second},
		{executor.KindDigShelter, nil, 120 * time.Second},
		{executor.KindBuildShelter, executor.BuildShelterRequest{}, 120 * time.Second},
		{executor.KindPlace, executor.PlaceRequest{Item: "dirt"}, 30 * time.Second},
		{executor.KindAttack, executor.AttackRequest{}, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := c.Budget(tc.kind, tc.params); got != tc.want {
			t.Fatalf("Budget(%s) = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

package combat

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"

	"voxelhand.ai/internal/abort"
	"voxelhand.ai/internal/toolpolicy"
	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world"
	"voxelhand.ai/internal/worldtest"
)

// arena is a flat grass field with the agent standing at the origin.
func arena() *worldtest.World {
	w := worldtest.New(nil)
	w.FillBox(world.V(-24, 63, -24), world.V(24, 63, 24), "grass_block")
	w.SetAgent(world.V(0, 64, 0))
	return w
}

func newReactor(w *worldtest.World) *Reactor {
	cfg := tuning.Defaults().Combat
	return NewReactor(w, NewTracker(w, cfg, nil), toolpolicy.New(w, nil), abort.New(w), cfg, nil)
}

func TestReactFightsAndWins(t *testing.T) {
	w := arena()
	w.Give("iron_sword", 1)
	zid := w.Spawn("zombie", world.V(2, 64, 0), true, 10)
	r := newReactor(w)
	var reported []Engagement
	r.Report = func(e Engagement) { reported = append(reported, e) }

	e, err := r.React(context.Background())
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if e.Outcome != OutcomeWon || !e.Resolved() {
		t.Fatalf("outcome = %s (%s)", e.Outcome, e.Reason)
	}
	if e.Hits != 2 || w.EntityAlive(zid) {
		t.Fatalf("hits=%d alive=%v", e.Hits, w.EntityAlive(zid))
	}
	if w.Agent().Held != "iron_sword" {
		t.Fatalf("should fight with the sword, held %q", w.Agent().Held)
	}
	if len(reported) != 1 {
		t.Fatalf("engagement should be reported once, got %d", len(reported))
	}
}

func TestReactChasesDistantTarget(t *testing.T) {
	w := arena()
	w.Give("iron_sword", 1)
	zid := w.Spawn("zombie", world.V(8, 64, 0), true, 5)
	r := newReactor(w)

	e, err := r.React(context.Background())
	if err != nil || e.Outcome != OutcomeWon {
		t.Fatalf("outcome=%s err=%v", e.Outcome, err)
	}
	if len(w.Paths()) == 0 || w.EntityAlive(zid) {
		t.Fatalf("expected a chase then a kill")
	}
}

func TestNeverMeleeCreeperUpClose(t *testing.T) {
	w := arena()
	w.Give("iron_sword", 1)
	w.Spawn("creeper", world.V(2, 64, 0), true, 20)
	r := newReactor(w)

	e, err := r.React(context.Background())
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if e.Outcome != OutcomeFled || e.Hits != 0 {
		t.Fatalf("outcome=%s hits=%d", e.Outcome, e.Hits)
	}
	if w.CallCount("attack:") != 0 {
		t.Fatalf("creeper must not be meleed inside its radius")
	}
	if x := w.Agent().Pos.X; x > -8 {
		t.Fatalf("should have fled west, now at x=%d", x)
	}
}

func TestEatsWhenCriticalAndReequips(t *testing.T) {
	w := arena()
	w.SetHealth(5, 10)
	w.Give("iron_sword", 1)
	w.Give("bread", 1)
	w.Spawn("zombie", world.V(2, 64, 0), true, 10)
	r := newReactor(w)

	e, err := r.React(context.Background())
	if err != nil || e.Outcome != OutcomeWon {
		t.Fatalf("outcome=%s err=%v", e.Outcome, err)
	}
	if e.Ate != 1 {
		t.Fatalf("ate = %d", e.Ate)
	}
	if n := w.CallCount("equip:iron_sword"); n != 2 {
		t.Fatalf("weapon should be re-equipped after eating: equips=%d", n)
	}
}

// fullStomach refuses every meal, like a server that will not let a sated
// player eat.
type fullStomach struct {
	*worldtest.World
	attempts int
}

func (f *fullStomach) Consume(ctx context.Context, item string) error {
	f.attempts++
	return errors.New("not hungry")
}

func TestFleesWhenFoodIsRefused(t *testing.T) {
	w := arena()
	w.SetHealth(5, 20)
	w.Give("iron_sword", 1)
	w.Give("bread", 1)
	zid := w.Spawn("zombie", world.V(2, 64, 0), true, 10)
	port := &fullStomach{World: w}
	cfg := tuning.Defaults().Combat
	r := NewReactor(port, NewTracker(port, cfg, nil), toolpolicy.New(port, nil), abort.New(port), cfg, nil)

	e, err := r.React(context.Background())
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if e.Outcome != OutcomeFled || e.Ate != 0 {
		t.Fatalf("outcome=%s ate=%d rounds=%d", e.Outcome, e.Ate, e.Rounds)
	}
	if port.attempts != 1 {
		t.Fatalf("eat attempts = %d, want 1", port.attempts)
	}
	if !w.EntityAlive(zid) || w.Agent().Pos.X >= 0 {
		t.Fatalf("should have moved away from the zombie, at %s", w.Agent().Pos)
	}
}

// blindfold rejects every look command.
type blindfold struct{ *worldtest.World }

func (blindfold) LookAt(context.Context, world.Vec3) error { return errors.New("look rejected") }

func TestLookFailureIsLoggedAndFightContinues(t *testing.T) {
	w := arena()
	w.Give("iron_sword", 1)
	zid := w.Spawn("zombie", world.V(2, 64, 0), true, 10)
	port := blindfold{World: w}
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	cfg := tuning.Defaults().Combat
	r := NewReactor(port, NewTracker(port, cfg, nil), toolpolicy.New(port, nil), abort.New(port), cfg, logger)

	e, err := r.React(context.Background())
	if err != nil || e.Outcome != OutcomeWon || w.EntityAlive(zid) {
		t.Fatalf("outcome=%s err=%v", e.Outcome, err)
	}
	if !strings.Contains(buf.String(), "combat look target="+zid) {
		t.Fatalf("look failure not logged: %q", buf.String())
	}
}

func TestFleesWhenCriticalWithoutFood(t *testing.T) {
	w := arena()
	w.SetHealth(6, 0)
	w.Give("iron_sword", 1)
	w.Spawn("zombie", world.V(0, 64, 3), true, 10)
	r := newReactor(w)

	e, err := r.React(context.Background())
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if e.Outcome != OutcomeFled || e.Recommendation != Flee {
		t.Fatalf("outcome=%s rec=%s", e.Outcome, e.Recommendation)
	}
}

func TestAttackNearestNotFound(t *testing.T) {
	w := arena()
	r := newReactor(w)
	_, err := r.AttackNearest(context.Background(), "spider")
	if world.KindOf(err) != world.KindNotFound {
		t.Fatalf("got %v", err)
	}
}

func TestAttackNearestNamedType(t *testing.T) {
	w := arena()
	w.Give("stone_sword", 1)
	w.Spawn("zombie", world.V(1, 64, 0), true, 10)
	pig := w.Spawn("pig", world.V(0, 64, 2), false, 4)
	r := newReactor(w)

	e, err := r.AttackNearest(context.Background(), "pig")
	if err != nil {
		t.Fatalf("AttackNearest: %v", err)
	}
	if e.TargetID != pig || e.Outcome != OutcomeWon {
		t.Fatalf("target=%s outcome=%s", e.TargetID, e.Outcome)
	}
}

func TestEngageStopsOnAbort(t *testing.T) {
	w := arena()
	w.Give("wooden_sword", 1)
	w.Spawn("zombie", world.V(1, 64, 0), true, 1000)
	r := newReactor(w)
	r.abort.Abort()

	e, err := r.AttackNearest(context.Background(), "")
	if err != nil {
		t.Fatalf("AttackNearest: %v", err)
	}
	if e.Outcome != OutcomeAborted {
		t.Fatalf("outcome = %s", e.Outcome)
	}
}

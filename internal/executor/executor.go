// Package executor turns one intent into a bounded sequence of world
// primitives. Each strategy runs as a single Operation: strictly
// sequential, polling the abort signal and combat state between steps.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"voxelhand.ai/internal/abort"
	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/combat"
	"voxelhand.ai/internal/hazard"
	"voxelhand.ai/internal/toolpolicy"
	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world"
)

type Kind string

const (
	KindMine         Kind = "mine"
	KindDigDown      Kind = "dig_down"
	KindTunnel       Kind = "dig_tunnel"
	KindBranchMine   Kind = "branch_mine"
	KindPlace        Kind = "place_block"
	KindBuildShelter Kind = "build_shelter"
	KindDigShelter   Kind = "dig_shelter"
	KindEscapeWater  Kind = "escape_water"
	KindAttack       Kind = "attack"
)

// Outcome is what every intent returns. It is never a Go error: failures
// are a short reason code plus whatever progress was made.
type Outcome struct {
	OperationID     string         `json:"operation_id"`
	Kind            Kind           `json:"kind"`
	Params          any            `json:"params,omitempty"`
	Success         bool           `json:"success"`
	Message         string         `json:"message"`
	Reason          world.Kind     `json:"reason,omitempty"`
	Counts          map[string]int `json:"counts"`
	Found           map[string]int `json:"found,omitempty"`
	Position        world.Vec3     `json:"position"`
	Direction       string         `json:"direction,omitempty"`
	FailedPositions []world.Vec3   `json:"failed_positions,omitempty"`
	Phases          []string       `json:"phases,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// PositionSet is an insertion-ordered set.
type PositionSet struct {
	seen  map[world.Vec3]struct{}
	order []world.Vec3
}

// Add reports whether p was newly added.
func (s *PositionSet) Add(p world.Vec3) bool {
	if s.seen == nil {
		s.seen = map[world.Vec3]struct{}{}
	}
	if _, ok := s.seen[p]; ok {
		return false
	}
	s.seen[p] = struct{}{}
	s.order = append(s.order, p)
	return true
}

func (s *PositionSet) Has(p world.Vec3) bool {
	_, ok := s.seen[p]
	return ok
}

func (s *PositionSet) Len() int { return len(s.order) }

func (s *PositionSet) List() []world.Vec3 { return append([]world.Vec3(nil), s.order...) }

// Operation is the per-invocation state of one strategy. It lives for one
// call and is never shared.
type Operation struct {
	ID       string
	Kind     Kind
	Params   any
	Failed   PositionSet
	Attempts int
	Cluster  []world.Vec3
	ToolHeld string

	// progress drives partial-success reporting.
	progress  int
	counts    map[string]int
	found     map[string]int
	seenOre   PositionSet
	pos       world.Vec3
	direction string
	phases    []string
	warnings  []string
	started   time.Time
}

func (op *Operation) count(key string, n int) {
	op.counts[key] += n
}

func (op *Operation) warn(format string, args ...any) {
	op.warnings = append(op.warnings, fmt.Sprintf(format, args...))
}

type Deps struct {
	Port    world.Port
	Tuning  tuning.Tuning
	Policy  *toolpolicy.Policy
	Hazards *hazard.Scanner
	Reactor *combat.Reactor
	Abort   *abort.Coordinator
	Logger  *log.Logger
}

type Executor struct {
	port    world.Port
	cat     *catalogs.Catalog
	clock   world.Clock
	tun     tuning.Tuning
	policy  *toolpolicy.Policy
	hazards *hazard.Scanner
	reactor *combat.Reactor
	abort   *abort.Coordinator
	logger  *log.Logger
}

func New(d Deps) *Executor {
	x := &Executor{
		port:    d.Port,
		cat:     d.Port.Catalog(),
		clock:   d.Port.Clock(),
		tun:     d.Tuning,
		policy:  d.Policy,
		hazards: d.Hazards,
		reactor: d.Reactor,
		abort:   d.Abort,
		logger:  d.Logger,
	}
	if x.policy == nil {
		x.policy = toolpolicy.New(d.Port, d.Logger)
	}
	if x.hazards == nil {
		x.hazards = hazard.New(d.Port, d.Tuning.Hazards.ScanRadius, d.Logger)
	}
	if x.abort == nil {
		x.abort = abort.New(d.Port)
	}
	return x
}

func (x *Executor) logf(format string, args ...any) {
	if x.logger != nil {
		x.logger.Printf(format, args...)
	}
}

func (x *Executor) begin(ctx context.Context, kind Kind, params any) *Operation {
	op := &Operation{
		ID:      uuid.NewString(),
		Kind:    kind,
		Params:  params,
		counts:  map[string]int{},
		found:   map[string]int{},
		started: x.clock.Now(),
	}
	if self, err := x.port.Self(ctx); err == nil {
		op.pos = self.Pos
		if self.Held != "" {
			op.ToolHeld = self.Held
		}
	}
	x.logf("op start id=%s kind=%s params=%+v", op.ID, kind, params)
	return op
}

// finish turns the terminal error (nil when the goal was reached) into an
// Outcome. Aborts are success-shaped; hazard, tool and search terminations
// are partial successes when any progress was made.
func (x *Executor) finish(ctx context.Context, op *Operation, err error, msg string) Outcome {
	if self, serr := x.port.Self(context.WithoutCancel(ctx)); serr == nil {
		op.pos = self.Pos
	}
	out := Outcome{
		OperationID:     op.ID,
		Kind:            op.Kind,
		Params:          op.Params,
		Counts:          op.counts,
		Position:        op.pos,
		Direction:       op.direction,
		FailedPositions: op.Failed.List(),
		Phases:          op.phases,
		Warnings:        op.warnings,
		StartedAt:       op.started,
		FinishedAt:      x.clock.Now(),
	}
	if len(op.found) > 0 {
		out.Found = op.found
	}
	kind := world.KindOf(err)
	out.Reason = kind
	switch kind {
	case "":
		out.Success = true
	case world.KindAborted:
		out.Success = true
	case world.KindPrimitive, world.KindBadRequest, world.KindBusy:
		out.Success = false
	default:
		out.Success = op.progress > 0
	}
	switch {
	case err == nil:
		out.Message = msg
	case msg != "":
		out.Message = msg + ": " + reasonText(err)
	default:
		out.Message = reasonText(err)
	}
	x.logf("op done id=%s kind=%s success=%v reason=%s progress=%d counts=%s",
		op.ID, op.Kind, out.Success, out.Reason, op.progress, formatCounts(op.counts))
	return out
}

func reasonText(err error) string {
	var we *world.Error
	if errors.As(err, &we) && we.Msg != "" {
		return we.Msg
	}
	return err.Error()
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, m[k]))
	}
	return strings.Join(parts, ",")
}

// checkpoint runs between steps. A non-nil result ends the operation.
func (x *Executor) checkpoint(ctx context.Context, op *Operation) error {
	if x.abort.Consume() {
		return world.Errorf(world.KindAborted, string(op.Kind), "aborted after %d", op.progress)
	}
	if err := ctx.Err(); err != nil {
		return world.Wrap(world.KindAborted, string(op.Kind), err)
	}
	if x.reactor == nil || !x.reactor.Active() {
		return nil
	}
	e, err := x.reactor.React(ctx)
	op.count("combat", 1)
	if err != nil {
		return world.Cause(ctx, "combat", err)
	}
	switch {
	case e.Outcome == combat.OutcomeAborted:
		return world.Errorf(world.KindAborted, "combat", "aborted during combat")
	case !e.Resolved():
		return world.Errorf(world.KindCombatPreempted, "combat", "%s (%s)", e.Outcome, e.Reason)
	}
	return nil
}

// digBlock re-reads the block, makes sure the right tool is in hand and
// digs it, retrying once after a tick. It returns the block that was dug.
func (x *Executor) digBlock(ctx context.Context, op *Operation, pos world.Vec3) (world.Block, error) {
	b, err := x.port.BlockAt(ctx, pos)
	if err != nil {
		return b, world.Wrap(world.KindPrimitive, "block_at", err)
	}
	if !b.Solid {
		return b, world.Errorf(world.KindNotFound, "dig", "%s is %s", pos, b.Name)
	}
	if x.cat.IsUnbreakable(b.Name) {
		return b, world.Errorf(world.KindHazardBlocked, "dig", "%s at %s is unbreakable", b.Name, pos)
	}
	ch, err := x.policy.Ensure(ctx, b.Name)
	if err != nil {
		return b, err
	}
	op.ToolHeld = ch.Tool

	if err := x.port.Dig(ctx, pos); err != nil {
		if ctx.Err() != nil {
			return b, world.Wrap(world.KindAborted, "dig", ctx.Err())
		}
		x.logf("dig retry pos=%s err=%v", pos, err)
		if werr := x.port.WaitTick(ctx); werr != nil {
			return b, world.Cause(ctx, "dig", werr)
		}
		again, qerr := x.port.BlockAt(ctx, pos)
		if qerr != nil {
			return b, world.Wrap(world.KindPrimitive, "block_at", qerr)
		}
		if !again.Solid {
			return b, world.Errorf(world.KindNotFound, "dig", "%s vanished", pos)
		}
		if _, err := x.policy.Ensure(ctx, again.Name); err != nil {
			return b, err
		}
		if err := x.port.Dig(ctx, pos); err != nil {
			return b, world.Wrap(world.KindPrimitive, "dig", err)
		}
	}
	op.count("blocks_dug", 1)
	return b, nil
}

// moveTo walks into an adjacent cell: pathfind with a short timeout, then
// fall back to facing the cell and walking forward for a fixed time. The
// returned position is what the world reports afterwards, not the target.
func (x *Executor) moveTo(ctx context.Context, target world.Vec3) (world.Vec3, error) {
	err := x.port.PathfindTo(ctx, world.Goal{Pos: target}, x.tun.Movement.StepTimeout())
	if err != nil {
		if aerr := x.navStopped(ctx, "move"); aerr != nil {
			return world.Vec3{}, aerr
		}
		x.logf("move fallback target=%s err=%v", target, err)
		if err := x.walkToward(ctx, target); err != nil {
			return world.Vec3{}, err
		}
	}
	self, err := x.self(ctx)
	if err != nil {
		return world.Vec3{}, err
	}
	if self.Pos != target {
		// The last observation may predate the move.
		if err := x.port.WaitTick(ctx); err != nil {
			return world.Vec3{}, world.Cause(ctx, "move", err)
		}
		if self, err = x.self(ctx); err != nil {
			return world.Vec3{}, err
		}
	}
	return self.Pos, nil
}

// navStopped runs after every failed navigation. An abort stops the world's
// pathfinder without cancelling ctx; the pending flag is consumed here.
func (x *Executor) navStopped(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return world.Wrap(world.KindAborted, stage, err)
	}
	if x.abort.Consume() {
		return world.Errorf(world.KindAborted, stage, "aborted while navigating")
	}
	return nil
}

func (x *Executor) walkToward(ctx context.Context, target world.Vec3) error {
	if err := x.port.LookAt(ctx, target.Up()); err != nil {
		return world.Wrap(world.KindPrimitive, "look", err)
	}
	if err := x.port.Control(ctx, world.ControlForward, true); err != nil {
		return world.Wrap(world.KindPrimitive, "control", err)
	}
	serr := x.clock.Sleep(ctx, x.tun.Movement.WalkFallback())
	if err := x.port.Control(context.WithoutCancel(ctx), world.ControlForward, false); err != nil {
		x.logf("move release forward err=%v", err)
	}
	if serr != nil {
		return world.Cause(ctx, "move", serr)
	}
	return nil
}

func (x *Executor) self(ctx context.Context) (world.SelfState, error) {
	s, err := x.port.Self(ctx)
	if err != nil {
		return s, world.Wrap(world.KindPrimitive, "self", err)
	}
	return s, nil
}

// withinReach reports whether pos can be touched from the feet or the eyes.
func (x *Executor) withinReach(self world.SelfState, pos world.Vec3) bool {
	r := x.tun.Mining.ReachDistance
	return pos.Dist(self.Pos) <= r || pos.Dist(self.Pos.Up()) <= r
}

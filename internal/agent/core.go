// Package agent is the intent surface: one Core per agent body, running at
// most one Operation at a time.
package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelhand.ai/internal/abort"
	"voxelhand.ai/internal/combat"
	"voxelhand.ai/internal/executor"
	"voxelhand.ai/internal/hazard"
	"voxelhand.ai/internal/toolpolicy"
	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world"
)

// Recorder receives every finished Operation and combat engagement. Calls
// happen on the operation's goroutine and must not block.
type Recorder interface {
	RecordOperation(out executor.Outcome)
	RecordEngagement(e combat.Engagement)
}

type Deps struct {
	Port      world.Port
	Tuning    tuning.Tuning
	Logger    *log.Logger
	Recorders []Recorder
}

type Running struct {
	Kind      executor.Kind `json:"kind"`
	Params    any           `json:"params,omitempty"`
	BudgetMs  int64         `json:"budget_ms"`
	StartedAt time.Time     `json:"started_at"`
}

type Status struct {
	Busy          bool               `json:"busy"`
	Running       *Running           `json:"running,omitempty"`
	Combat        combat.State       `json:"combat"`
	Assessment    *combat.Assessment `json:"assessment,omitempty"`
	LastOutcome   *executor.Outcome  `json:"last_outcome,omitempty"`
	AbortRequests int64              `json:"abort_requests"`
}

type Core struct {
	port    world.Port
	tun     tuning.Tuning
	logger  *log.Logger
	abort   *abort.Coordinator
	tracker *combat.Tracker
	reactor *combat.Reactor
	exec    *executor.Executor
	rec     []Recorder

	// busy is held for the whole life of an Operation.
	busy sync.Mutex

	mu      sync.Mutex
	running *Running
	last    *executor.Outcome
}

func New(d Deps) *Core {
	ab := abort.New(d.Port)
	pol := toolpolicy.New(d.Port, d.Logger)
	tr := combat.NewTracker(d.Port, d.Tuning.Combat, d.Logger)
	r := combat.NewReactor(d.Port, tr, pol, ab, d.Tuning.Combat, d.Logger)
	c := &Core{
		port:    d.Port,
		tun:     d.Tuning,
		logger:  d.Logger,
		abort:   ab,
		tracker: tr,
		reactor: r,
		rec:     d.Recorders,
	}
	r.Report = c.recordEngagement
	c.exec = executor.New(executor.Deps{
		Port:    d.Port,
		Tuning:  d.Tuning,
		Policy:  pol,
		Hazards: hazard.New(d.Port, d.Tuning.Hazards.ScanRadius, d.Logger),
		Reactor: r,
		Abort:   ab,
		Logger:  d.Logger,
	})
	return c
}

// Run feeds world health events into the combat tracker until ctx ends.
func (c *Core) Run(ctx context.Context) {
	c.tracker.Run(ctx)
}

func (c *Core) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func (c *Core) recordEngagement(e combat.Engagement) {
	for _, r := range c.rec {
		r.RecordEngagement(e)
	}
}

// Abort asks the running Operation to stop at its next checkpoint and
// resets the navigation goal. It is safe to call at any time.
func (c *Core) Abort() {
	c.abort.Abort()
	c.mu.Lock()
	kind := executor.Kind("")
	if c.running != nil {
		kind = c.running.Kind
	}
	c.mu.Unlock()
	c.logf("abort requested running=%s", kind)
}

func (c *Core) Assess(ctx context.Context) (combat.Assessment, error) {
	return c.reactor.Assess(ctx)
}

func (c *Core) Status(ctx context.Context) Status {
	s := Status{
		Combat:        c.tracker.Snapshot(),
		AbortRequests: c.abort.Requests(),
	}
	c.mu.Lock()
	if c.running != nil {
		r := *c.running
		s.Running, s.Busy = &r, true
	}
	if c.last != nil {
		last := *c.last
		s.LastOutcome = &last
	}
	c.mu.Unlock()
	if a, err := c.reactor.Assess(ctx); err == nil {
		s.Assessment = &a
	}
	return s
}

// do runs one Operation. A second intent while one is running is refused
// with E_BUSY rather than queued.
func (c *Core) do(ctx context.Context, kind executor.Kind, params any, fn func(context.Context) executor.Outcome) executor.Outcome {
	if !c.busy.TryLock() {
		c.mu.Lock()
		cur := c.running
		c.mu.Unlock()
		msg := "another operation is running"
		if cur != nil {
			msg = fmt.Sprintf("%s is running since %s", cur.Kind, cur.StartedAt.Format(time.RFC3339))
		}
		return c.reject(kind, params, world.KindBusy, msg)
	}
	defer c.busy.Unlock()

	c.abort.Reset()
	run := &Running{
		Kind:      kind,
		Params:    params,
		BudgetMs:  c.Budget(kind, params).Milliseconds(),
		StartedAt: c.port.Clock().Now(),
	}
	c.mu.Lock()
	c.running = run
	c.mu.Unlock()

	out := fn(ctx)

	c.mu.Lock()
	c.running = nil
	c.last = &out
	c.mu.Unlock()
	for _, r := range c.rec {
		r.RecordOperation(out)
	}
	return out
}

func (c *Core) reject(kind executor.Kind, params any, reason world.Kind, msg string) executor.Outcome {
	now := c.port.Clock().Now()
	c.logf("intent rejected kind=%s reason=%s msg=%q", kind, reason, msg)
	return executor.Outcome{
		OperationID: uuid.NewString(),
		Kind:        kind,
		Params:      params,
		Reason:      reason,
		Message:     msg,
		Counts:      map[string]int{},
		StartedAt:   now,
		FinishedAt:  now,
	}
}

func (c *Core) material(kind executor.Kind, params any, name string) (string, *executor.Outcome) {
	n, err := c.port.Catalog().Normalize(name)
	if err != nil {
		out := c.reject(kind, params, world.KindBadRequest, err.Error())
		return "", &out
	}
	return n, nil
}

func (c *Core) Mine(ctx context.Context, req executor.MineRequest) executor.Outcome {
	if req.Count <= 0 {
		return c.reject(executor.KindMine, req, world.KindBadRequest, "count must be positive")
	}
	m, bad := c.material(executor.KindMine, req, req.Material)
	if bad != nil {
		return *bad
	}
	req.Material = m
	return c.do(ctx, executor.KindMine, req, func(ctx context.Context) executor.Outcome {
		return c.exec.Mine(ctx, req)
	})
}

func (c *Core) DigDown(ctx context.Context, req executor.DigDownRequest) executor.Outcome {
	return c.do(ctx, executor.KindDigDown, req, func(ctx context.Context) executor.Outcome {
		return c.exec.DigDown(ctx, req)
	})
}

func (c *Core) Tunnel(ctx context.Context, req executor.TunnelRequest) executor.Outcome {
	return c.do(ctx, executor.KindTunnel, req, func(ctx context.Context) executor.Outcome {
		return c.exec.Tunnel(ctx, req)
	})
}

func (c *Core) BranchMine(ctx context.Context, req executor.BranchMineRequest) executor.Outcome {
	return c.do(ctx, executor.KindBranchMine, req, func(ctx context.Context) executor.Outcome {
		return c.exec.BranchMine(ctx, req)
	})
}

func (c *Core) Place(ctx context.Context, req executor.PlaceRequest) executor.Outcome {
	req.Item = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(req.Item)), "minecraft:")
	return c.do(ctx, executor.KindPlace, req, func(ctx context.Context) executor.Outcome {
		return c.exec.Place(ctx, req)
	})
}

func (c *Core) BuildShelter(ctx context.Context, req executor.BuildShelterRequest) executor.Outcome {
	if req.Material != "" {
		m, bad := c.material(executor.KindBuildShelter, req, req.Material)
		if bad != nil {
			return *bad
		}
		req.Material = m
	}
	return c.do(ctx, executor.KindBuildShelter, req, func(ctx context.Context) executor.Outcome {
		return c.exec.BuildShelter(ctx, req)
	})
}

func (c *Core) DigShelter(ctx context.Context) executor.Outcome {
	return c.do(ctx, executor.KindDigShelter, nil, func(ctx context.Context) executor.Outcome {
		return c.exec.DigShelter(ctx, executor.DigShelterRequest{})
	})
}

func (c *Core) EscapeWater(ctx context.Context) executor.Outcome {
	return c.do(ctx, executor.KindEscapeWater, nil, func(ctx context.Context) executor.Outcome {
		return c.exec.EscapeWater(ctx, executor.EscapeWaterRequest{})
	})
}

func (c *Core) Attack(ctx context.Context, req executor.AttackRequest) executor.Outcome {
	req.Entity = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(req.Entity)), "minecraft:")
	return c.do(ctx, executor.KindAttack, req, func(ctx context.Context) executor.Outcome {
		return c.exec.Attack(ctx, req)
	})
}

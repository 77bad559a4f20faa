package executor

import (
	"context"
	"fmt"

	"voxelhand.ai/internal/world"
)

type stepShape int

const (
	shapeTunnel stepShape = iota
	shapeStair
)

// stepCells lists the cells a step from `from` toward dir must open and
// the feet cell the agent ends up in. The hazard scan covers the
// neighborhood of the opened cells, which includes the next block ahead
// and, for stairs, the block below the landing.
func stepCells(from world.Vec3, dir world.Direction, shape stepShape) (open []world.Vec3, dest world.Vec3) {
	fwd := from.Add(dir.Vec())
	if shape == shapeStair {
		dest = fwd.Down()
		return []world.Vec3{fwd.Up(), fwd, dest}, dest
	}
	return []world.Vec3{fwd, fwd.Up()}, fwd
}

// digStep opens the cells for one step, moves into them and returns the
// position the world reports afterwards.
func (x *Executor) digStep(ctx context.Context, op *Operation, from world.Vec3, dir world.Direction, shape stepShape) (world.Vec3, error) {
	open, dest := stepCells(from, dir, shape)
	if _, err := x.hazards.Clear(ctx, open); err != nil {
		return from, err
	}
	for _, c := range open {
		b, err := x.port.BlockAt(ctx, c)
		if err != nil {
			return from, world.Wrap(world.KindPrimitive, "block_at", err)
		}
		if !b.Solid {
			continue
		}
		dug, err := x.digBlock(ctx, op, c)
		if world.KindOf(err) == world.KindNotFound {
			continue
		}
		if err != nil {
			return from, err
		}
		x.noteOre(op, dug)
	}
	x.scanWalls(ctx, op, dest, dir)

	pos, err := x.moveTo(ctx, dest)
	if err != nil {
		return from, err
	}
	if pos == from {
		return from, world.Errorf(world.KindUnreachable, "step", "could not move %s from %s", dir, from)
	}
	return pos, nil
}

func (x *Executor) noteOre(op *Operation, b world.Block) {
	if x.cat.IsOre(b.Name) && op.seenOre.Add(b.Pos) {
		op.found[b.Name]++
	}
}

// scanWalls counts ore exposed in the side walls of a freshly opened cell.
func (x *Executor) scanWalls(ctx context.Context, op *Operation, dest world.Vec3, dir world.Direction) {
	for _, side := range []world.Direction{dir.Left(), dir.Right()} {
		for _, c := range []world.Vec3{dest.Add(side.Vec()), dest.Up().Add(side.Vec())} {
			b, err := x.port.BlockAt(ctx, c)
			if err != nil {
				return
			}
			x.noteOre(op, b)
		}
	}
}

type DigDownRequest struct {
	TargetY   int    `json:"target_y"`
	Direction string `json:"direction,omitempty"`
}

// DigDown cuts a staircase down to TargetY, turning to the next cardinal
// heading every step. A hazard turns the stair; four blocked headings in a
// row end the operation.
func (x *Executor) DigDown(ctx context.Context, req DigDownRequest) Outcome {
	op := x.begin(ctx, KindDigDown, req)
	dir := world.North
	if req.Direction != "" {
		d, err := world.ParseDirection(req.Direction)
		if err != nil {
			return x.finish(ctx, op, world.Wrap(world.KindBadRequest, "dig_down", err), "")
		}
		dir = d
	}
	self, err := x.self(ctx)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	pos := self.Pos
	if req.TargetY >= pos.Y {
		return x.finish(ctx, op, nil, fmt.Sprintf("already at y=%d", pos.Y))
	}

	blocked := 0
	for pos.Y > req.TargetY {
		msg := fmt.Sprintf("descended to y=%d (target %d)", pos.Y, req.TargetY)
		if op.counts["steps"] >= x.tun.Digging.MaxStairSteps {
			return x.finish(ctx, op, world.Errorf(world.KindUnreachable, "dig_down", "step limit reached"), msg)
		}
		if err := x.checkpoint(ctx, op); err != nil {
			return x.finish(ctx, op, err, msg)
		}
		next, err := x.digStep(ctx, op, pos, dir, shapeStair)
		switch world.KindOf(err) {
		case "":
		case world.KindHazardBlocked, world.KindUnreachable:
			blocked++
			op.warn("%s blocked at %s: %s", dir, pos, reasonText(err))
			x.logf("dig_down turn id=%s heading=%s err=%v", op.ID, dir, err)
			if blocked >= len(world.Cardinals) {
				return x.finish(ctx, op, world.Errorf(world.KindHazardBlocked, "dig_down", "every heading blocked at %s", pos), msg)
			}
			dir = dir.Right()
			continue
		default:
			return x.finish(ctx, op, err, msg)
		}
		blocked = 0
		pos = next
		op.pos = pos
		op.count("steps", 1)
		op.progress++
		op.direction = dir.String()
		dir = dir.Right()
	}
	return x.finish(ctx, op, nil, fmt.Sprintf("reached y=%d", pos.Y))
}

type TunnelRequest struct {
	Direction string `json:"direction"`
	Length    int    `json:"length"`
}

// Tunnel digs a 1x2 corridor Length steps along one heading, sidestepping
// around hazards, and reports the ore it exposes.
func (x *Executor) Tunnel(ctx context.Context, req TunnelRequest) Outcome {
	op := x.begin(ctx, KindTunnel, req)
	dir, err := world.ParseDirection(req.Direction)
	if err != nil {
		return x.finish(ctx, op, world.Wrap(world.KindBadRequest, "dig_tunnel", err), "")
	}
	if req.Length <= 0 {
		return x.finish(ctx, op, world.Errorf(world.KindBadRequest, "dig_tunnel", "length must be positive"), "")
	}
	op.direction = dir.String()
	self, err := x.self(ctx)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	_, err = x.corridor(ctx, op, self.Pos, dir, req.Length, "steps")
	return x.finish(ctx, op, err, fmt.Sprintf("tunneled %d/%d %s", op.counts["steps"], req.Length, dir))
}

// corridor advances up to n steps, counting them under key. It returns the
// final position.
func (x *Executor) corridor(ctx context.Context, op *Operation, pos world.Vec3, dir world.Direction, n int, key string) (world.Vec3, error) {
	for i := 0; i < n; i++ {
		if err := x.checkpoint(ctx, op); err != nil {
			return pos, err
		}
		next, err := x.digStep(ctx, op, pos, dir, shapeTunnel)
		if world.KindOf(err) == world.KindHazardBlocked {
			x.logf("tunnel detour id=%s at=%s err=%v", op.ID, pos, err)
			next, err = x.detour(ctx, op, pos, dir)
		}
		if err != nil {
			return pos, err
		}
		pos = next
		op.pos = pos
		op.count(key, 1)
		op.progress++
	}
	return pos, nil
}

// detourWidth bounds how far a detour leaves the corridor line.
const detourWidth = 2

// detour sidesteps left (then right) one cell at a time, trying the forward
// step after each, and leaves the corridor on a parallel line.
func (x *Executor) detour(ctx context.Context, op *Operation, from world.Vec3, dir world.Direction) (world.Vec3, error) {
	var last error
	for _, side := range []world.Direction{dir.Left(), dir.Right()} {
		at := from
		for i := 0; i < detourWidth; i++ {
			mid, err := x.digStep(ctx, op, at, side, shapeTunnel)
			if err != nil {
				last = err
				if !detourable(err) {
					return at, err
				}
				break
			}
			at = mid
			next, err := x.digStep(ctx, op, at, dir, shapeTunnel)
			if err == nil {
				op.count("detours", 1)
				return next, nil
			}
			last = err
			if !detourable(err) {
				return at, err
			}
		}
		if at == from {
			continue
		}
		if err := x.port.PathfindTo(ctx, world.Goal{Pos: from}, x.tun.Movement.ApproachTimeout()); err != nil {
			if aerr := x.navStopped(ctx, "detour"); aerr != nil {
				return at, aerr
			}
			return at, world.Errorf(world.KindHazardBlocked, "detour", "stuck at %s: %s", at, reasonText(last))
		}
	}
	return from, world.Errorf(world.KindHazardBlocked, "detour", "no way around at %s: %s", from, reasonText(last))
}

func detourable(err error) bool {
	k := world.KindOf(err)
	return k == world.KindHazardBlocked || k == world.KindUnreachable
}

type BranchMineRequest struct {
	Direction    string `json:"direction"`
	Length       int    `json:"length"`
	Interval     int    `json:"interval,omitempty"`
	BranchLength int    `json:"branch_length,omitempty"`
}

// BranchMine runs a main tunnel and, every Interval steps, spurs a branch
// of BranchLength to each side before returning to the junction.
func (x *Executor) BranchMine(ctx context.Context, req BranchMineRequest) Outcome {
	op := x.begin(ctx, KindBranchMine, req)
	dir, err := world.ParseDirection(req.Direction)
	if err != nil {
		return x.finish(ctx, op, world.Wrap(world.KindBadRequest, "branch_mine", err), "")
	}
	if req.Length <= 0 {
		return x.finish(ctx, op, world.Errorf(world.KindBadRequest, "branch_mine", "length must be positive"), "")
	}
	interval := req.Interval
	if interval <= 0 {
		interval = x.tun.Digging.BranchInterval
	}
	spur := req.BranchLength
	if spur <= 0 {
		spur = x.tun.Digging.BranchLength
	}
	op.direction = dir.String()
	self, err := x.self(ctx)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	msg := func() string {
		return fmt.Sprintf("main %d/%d, %d branches", op.counts["main_steps"], req.Length, op.counts["branches"])
	}

	pos := self.Pos
	for op.counts["main_steps"] < req.Length {
		step := min(interval, req.Length-op.counts["main_steps"])
		pos, err = x.corridor(ctx, op, pos, dir, step, "main_steps")
		if err != nil {
			return x.finish(ctx, op, err, msg())
		}
		if op.counts["main_steps"]%interval != 0 {
			break
		}
		junction := pos
		for _, side := range []world.Direction{dir.Left(), dir.Right()} {
			_, berr := x.corridor(ctx, op, junction, side, spur, "branch_steps")
			switch world.KindOf(berr) {
			case "":
				op.count("branches", 1)
			case world.KindHazardBlocked, world.KindUnreachable:
				op.warn("branch %s at %s cut short: %s", side, junction, reasonText(berr))
			default:
				return x.finish(ctx, op, berr, msg())
			}
			if err := x.port.PathfindTo(ctx, world.Goal{Pos: junction}, x.tun.Movement.ApproachTimeout()); err != nil {
				if aerr := x.navStopped(ctx, "branch_mine"); aerr != nil {
					return x.finish(ctx, op, aerr, msg())
				}
				return x.finish(ctx, op, world.Wrap(world.KindUnreachable, "branch_mine", err), msg())
			}
		}
		if cur, err := x.self(ctx); err == nil {
			pos = cur.Pos
		}
	}
	return x.finish(ctx, op, nil, msg())
}

type DigShelterRequest struct{}

// DigShelter drops straight down a few blocks, widens a small room at the
// bottom and seals the shaft above the agent's head.
func (x *Executor) DigShelter(ctx context.Context, _ DigShelterRequest) Outcome {
	op := x.begin(ctx, KindDigShelter, nil)
	self, err := x.self(ctx)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	block := x.buildingBlock(ctx)
	if block == "" {
		return x.finish(ctx, op, world.Errorf(world.KindNoItems, "dig_shelter", "no block to seal the entrance"), "")
	}
	top := self.Pos
	pos := self.Pos
	for i := 0; i < x.tun.Digging.ShelterDepth; i++ {
		if err := x.checkpoint(ctx, op); err != nil {
			return x.finish(ctx, op, err, fmt.Sprintf("dug %d deep", i))
		}
		below := pos.Down()
		if _, err := x.hazards.Clear(ctx, []world.Vec3{below, below.Down()}); err != nil {
			return x.finish(ctx, op, err, fmt.Sprintf("dug %d deep", i))
		}
		if _, err := x.digBlock(ctx, op, below); err != nil && world.KindOf(err) != world.KindNotFound {
			return x.finish(ctx, op, err, fmt.Sprintf("dug %d deep", i))
		}
		if err := x.clock.Sleep(ctx, x.tun.Mining.SettleDelay()); err != nil {
			return x.finish(ctx, op, world.Cause(ctx, "dig_shelter", err), "")
		}
		cur, err := x.self(ctx)
		if err != nil {
			return x.finish(ctx, op, err, "")
		}
		if cur.Pos.Y >= pos.Y {
			if cur.Pos, err = x.moveTo(ctx, below); err != nil {
				return x.finish(ctx, op, err, "")
			}
		}
		pos = cur.Pos
		op.count("depth", 1)
		op.progress++
	}

	// Room: the eight cells around feet and head.
	for _, d := range world.Cardinals {
		for _, c := range []world.Vec3{pos.Add(d.Vec()), pos.Add(d.Vec()).Add(d.Right().Vec())} {
			for _, cell := range []world.Vec3{c, c.Up()} {
				if err := x.checkpoint(ctx, op); err != nil {
					return x.finish(ctx, op, err, "room unfinished")
				}
				if _, err := x.hazards.Clear(ctx, []world.Vec3{cell}); err != nil {
					op.warn("room cell %s skipped: %s", cell, reasonText(err))
					continue
				}
				if _, err := x.digBlock(ctx, op, cell); err == nil {
					op.count("room_cells", 1)
				} else if k := world.KindOf(err); k != world.KindNotFound && k != world.KindHazardBlocked {
					return x.finish(ctx, op, err, "room unfinished")
				}
			}
		}
	}

	seal := pos.Up().Up()
	if seal.Y > top.Y+1 {
		seal = top.Up()
	}
	if _, err := x.placeAt(ctx, op, block, seal); err != nil {
		return x.finish(ctx, op, err, "shelter dug but not sealed")
	}
	op.count("sealed", 1)
	return x.finish(ctx, op, nil, fmt.Sprintf("shelter %d deep, sealed at %s", op.counts["depth"], seal))
}

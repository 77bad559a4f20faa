package executor

import (
	"context"
	"fmt"
	"math"

	"voxelhand.ai/internal/world"
)

type MineRequest struct {
	Material    string `json:"material"`
	Count       int    `json:"count"`
	MaxDistance int    `json:"max_distance,omitempty"`
}

// Mine collects Count blocks of Material. Per block:
// locate, approach, equip, dig, collect, then sweep the vein around it.
func (x *Executor) Mine(ctx context.Context, req MineRequest) Outcome {
	op := x.begin(ctx, KindMine, req)
	if req.Count <= 0 {
		return x.finish(ctx, op, world.Errorf(world.KindBadRequest, "mine", "count must be positive"), "")
	}
	names := x.cat.Variants(req.Material)
	radius := req.MaxDistance
	if radius <= 0 {
		radius = x.tun.Mining.SearchRadius
	}

	ch, err := x.policy.Check(ctx, req.Material)
	switch world.KindOf(err) {
	case "":
	case world.KindToolTier:
		op.warn("%s", reasonText(err))
		x.logf("mine tool tier warning id=%s %v", op.ID, err)
	default:
		return x.finish(ctx, op, err, "")
	}
	op.ToolHeld = ch.Tool
	sweep := x.cat.ClusterEligible(req.Material)

	mined := func() int { return op.counts["mined"] }
	for mined() < req.Count {
		if err := x.checkpoint(ctx, op); err != nil {
			return x.finish(ctx, op, err, x.minedMsg(op, req))
		}
		if op.Failed.Len() >= x.tun.Mining.FailedPositionCap {
			err := world.Errorf(world.KindUnreachable, "mine", "%d positions unreachable", op.Failed.Len())
			return x.finish(ctx, op, err, x.minedMsg(op, req))
		}

		var target world.Block
		fromCluster := false
		if len(op.Cluster) > 0 {
			pos := op.Cluster[0]
			op.Cluster = op.Cluster[1:]
			if op.Failed.Has(pos) {
				continue
			}
			b, err := x.port.BlockAt(ctx, pos)
			if err != nil {
				return x.finish(ctx, op, world.Wrap(world.KindPrimitive, "block_at", err), x.minedMsg(op, req))
			}
			if !contains(names, b.Name) {
				continue
			}
			target, fromCluster = b, true
		} else {
			b, err := x.locate(ctx, op, names, radius)
			if err != nil {
				return x.finish(ctx, op, err, x.minedMsg(op, req))
			}
			target = b
		}

		op.Attempts++
		err := x.mineOne(ctx, op, target, names)
		switch world.KindOf(err) {
		case "":
			op.count("mined", 1)
			op.progress = mined()
			if fromCluster {
				op.count("cluster_mined", 1)
			}
			if sweep && mined() < req.Count {
				if err := x.sweep(ctx, op, target.Pos, names); err != nil {
					return x.finish(ctx, op, err, x.minedMsg(op, req))
				}
			}
		case world.KindUnreachable:
			if op.Failed.Add(target.Pos) {
				x.logf("mine unreachable id=%s pos=%s failed=%d", op.ID, target.Pos, op.Failed.Len())
			}
		case world.KindNotFound:
			// Changed between scan and dig; the next search will not see it.
		default:
			return x.finish(ctx, op, err, x.minedMsg(op, req))
		}
	}
	return x.finish(ctx, op, nil, x.minedMsg(op, req))
}

func (x *Executor) minedMsg(op *Operation, req MineRequest) string {
	return fmt.Sprintf("mined %d/%d %s", op.counts["mined"], req.Count, req.Material)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// locate finds the nearest matching block that has not failed this
// operation.
func (x *Executor) locate(ctx context.Context, op *Operation, names []string, radius int) (world.Block, error) {
	self, err := x.self(ctx)
	if err != nil {
		return world.Block{}, err
	}
	found, err := x.port.FindBlocks(ctx, world.BlockQuery{
		Names:       names,
		Center:      self.Pos,
		MaxDistance: radius,
		Limit:       x.tun.Mining.SearchLimit + op.Failed.Len(),
	})
	if err != nil {
		return world.Block{}, world.Wrap(world.KindPrimitive, "find_blocks", err)
	}
	for _, b := range found {
		if !op.Failed.Has(b.Pos) {
			return b, nil
		}
	}
	return world.Block{}, world.Errorf(world.KindNotFound, "mine", "no %s within %d", names[0], radius)
}

func (x *Executor) mineOne(ctx context.Context, op *Operation, target world.Block, names []string) error {
	if err := x.approach(ctx, op, target.Pos); err != nil {
		return err
	}
	// Re-query: the world may have changed while we walked.
	b, err := x.port.BlockAt(ctx, target.Pos)
	if err != nil {
		return world.Wrap(world.KindPrimitive, "block_at", err)
	}
	if !b.Solid || !contains(names, b.Name) {
		return world.Errorf(world.KindNotFound, "mine", "%s changed to %s", target.Pos, b.Name)
	}
	if _, err := x.digBlock(ctx, op, target.Pos); err != nil {
		return err
	}
	x.collect(ctx, op, target.Pos)
	return nil
}

// approach brings target within reach. On failure it clears one
// obstructing block on the line of sight and retries once with a shorter
// timeout.
func (x *Executor) approach(ctx context.Context, op *Operation, target world.Vec3) error {
	self, err := x.self(ctx)
	if err != nil {
		return err
	}
	if x.withinReach(self, target) {
		return nil
	}
	goal := world.Goal{Pos: target, Range: math.Max(1, x.tun.Mining.ReachDistance-1)}
	err = x.port.PathfindTo(ctx, goal, x.tun.Movement.ApproachTimeout())
	if err == nil {
		return x.checkReach(ctx, target)
	}
	if aerr := x.navStopped(ctx, "approach"); aerr != nil {
		return aerr
	}
	x.logf("approach failed id=%s target=%s err=%v", op.ID, target, err)

	if obstacle, ok := x.obstruction(ctx, target); ok {
		if _, derr := x.digBlock(ctx, op, obstacle); derr == nil {
			op.count("obstructions_cleared", 1)
		}
	}
	if err := x.port.PathfindTo(ctx, goal, x.tun.Movement.RetryTimeout()); err != nil {
		if aerr := x.navStopped(ctx, "approach"); aerr != nil {
			return aerr
		}
		return world.Wrap(world.KindUnreachable, "approach", err)
	}
	return x.checkReach(ctx, target)
}

func (x *Executor) checkReach(ctx context.Context, target world.Vec3) error {
	self, err := x.self(ctx)
	if err != nil {
		return err
	}
	if !x.withinReach(self, target) {
		return world.Errorf(world.KindUnreachable, "approach", "stopped at %s, %s out of reach", self.Pos, target)
	}
	return nil
}

// obstruction returns the first breakable solid block on the line from the
// agent's eyes to target that is itself within reach.
func (x *Executor) obstruction(ctx context.Context, target world.Vec3) (world.Vec3, bool) {
	self, err := x.port.Self(ctx)
	if err != nil {
		return world.Vec3{}, false
	}
	for _, c := range lineCells(self.Pos.Up(), target) {
		if !x.withinReach(self, c) {
			break
		}
		b, err := x.port.BlockAt(ctx, c)
		if err != nil {
			return world.Vec3{}, false
		}
		if b.Solid && !x.cat.IsUnbreakable(b.Name) {
			return c, true
		}
	}
	return world.Vec3{}, false
}

// lineCells lists the cells strictly between a and b along the straight
// line, in order from a.
func lineCells(a, b world.Vec3) []world.Vec3 {
	d := b.Sub(a)
	n := max(abs(d.X), abs(d.Y), abs(d.Z)) * 2
	var out []world.Vec3
	var seen PositionSet
	seen.Add(a)
	seen.Add(b)
	for i := 1; i < n; i++ {
		t := float64(i) / float64(n)
		c := world.V(
			a.X+int(math.Round(float64(d.X)*t)),
			a.Y+int(math.Round(float64(d.Y)*t)),
			a.Z+int(math.Round(float64(d.Z)*t)),
		)
		if seen.Add(c) {
			out = append(out, c)
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// collect waits for drops to settle and walks over any that landed nearby.
func (x *Executor) collect(ctx context.Context, op *Operation, at world.Vec3) {
	if err := x.clock.Sleep(ctx, x.tun.Mining.SettleDelay()); err != nil {
		return
	}
	ents, err := x.port.Entities(ctx)
	if err != nil {
		return
	}
	for _, e := range ents {
		if !e.IsDrop() || e.Pos.Dist(at) > x.tun.Mining.CollectRadius {
			continue
		}
		if err := x.port.PathfindTo(ctx, world.Goal{Pos: e.Pos, Range: 1}, x.tun.Mining.CollectTimeout()); err != nil {
			// A pending abort is left for the next checkpoint.
			if ctx.Err() != nil || x.abort.Requested() {
				return
			}
			continue
		}
		op.count("drops_collected", 1)
	}
}

// sweep queues same-material neighbors of a just-mined block so the vein is
// finished before searching again.
func (x *Executor) sweep(ctx context.Context, op *Operation, at world.Vec3, names []string) error {
	op.count("cluster_sweeps", 1)
	found, err := x.port.FindBlocks(ctx, world.BlockQuery{
		Names:       names,
		Center:      at,
		MaxDistance: x.tun.Mining.ClusterRadius,
	})
	if err != nil {
		return world.Wrap(world.KindPrimitive, "find_blocks", err)
	}
	queued := PositionSet{}
	for _, p := range op.Cluster {
		queued.Add(p)
	}
	for _, b := range found {
		if op.Failed.Has(b.Pos) || !queued.Add(b.Pos) {
			continue
		}
		op.Cluster = append(op.Cluster, b.Pos)
	}
	return nil
}

package executor

import (
	"context"
	"fmt"

	"voxelhand.ai/internal/world"
)

const (
	phaseSwimUp   = "swim_up"
	phaseFindLand = "find_land"
	phasePillar   = "pillar"
)

type EscapeWaterRequest struct{}

// submerged is true while the agent's head is in water.
func (x *Executor) submerged(ctx context.Context) (bool, world.SelfState, error) {
	self, err := x.self(ctx)
	if err != nil {
		return false, self, err
	}
	head, err := x.port.BlockAt(ctx, self.Pos.Up())
	if err != nil {
		return false, self, world.Wrap(world.KindPrimitive, "block_at", err)
	}
	return head.IsWater(), self, nil
}

// EscapeWater gets the agent's head out of water in up to three phases,
// each only if the previous one did not do it: swim up while clearing the
// blocks overhead; once surfaced in open water, head for the nearest dry
// standing spot; as a last resort, pillar up by placing blocks underfoot.
func (x *Executor) EscapeWater(ctx context.Context, _ EscapeWaterRequest) Outcome {
	op := x.begin(ctx, KindEscapeWater, nil)
	under, _, err := x.submerged(ctx)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	if !under {
		return x.finish(ctx, op, nil, "not submerged")
	}

	op.phases = append(op.phases, phaseSwimUp)
	under, err = x.swimUp(ctx, op)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	if !under {
		op.progress++
		open, err := x.inOpenWater(ctx)
		if err != nil {
			return x.finish(ctx, op, err, "")
		}
		if !open {
			return x.finish(ctx, op, nil, "surfaced")
		}
		op.phases = append(op.phases, phaseFindLand)
		if err := x.findLand(ctx, op); err != nil {
			op.warn("surfaced but no land reached: %s", reasonText(err))
			return x.finish(ctx, op, nil, "surfaced in open water")
		}
		return x.finish(ctx, op, nil, "surfaced and reached land")
	}

	op.phases = append(op.phases, phasePillar)
	under, err = x.pillarUp(ctx, op)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	if under {
		return x.finish(ctx, op, world.Errorf(world.KindUnreachable, "escape_water", "still submerged"), "")
	}
	return x.finish(ctx, op, nil, fmt.Sprintf("pillared out with %d blocks", op.counts["pillar_blocks"]))
}

// swimUp holds jump and digs out solid blocks directly above the head,
// until the head is clear or the swim timeout runs out.
func (x *Executor) swimUp(ctx context.Context, op *Operation) (bool, error) {
	cfg := x.tun.Escape
	if err := x.port.Control(ctx, world.ControlJump, true); err != nil {
		return true, world.Wrap(world.KindPrimitive, "control", err)
	}
	defer func() {
		if err := x.port.Control(context.WithoutCancel(ctx), world.ControlJump, false); err != nil {
			x.logf("escape release jump err=%v", err)
		}
	}()

	deadline := x.clock.Now().Add(cfg.SwimTimeout())
	for {
		if err := x.checkpoint(ctx, op); err != nil {
			return true, err
		}
		under, self, err := x.submerged(ctx)
		if err != nil || !under {
			return under, err
		}
		if op.counts["cleared_above"] < cfg.ClearAbove {
			above := self.Pos.Up().Up()
			b, err := x.port.BlockAt(ctx, above)
			if err != nil {
				return true, world.Wrap(world.KindPrimitive, "block_at", err)
			}
			if b.Solid && !x.cat.IsUnbreakable(b.Name) {
				if _, err := x.digBlock(ctx, op, above); err == nil {
					op.count("cleared_above", 1)
				} else if k := world.KindOf(err); k == world.KindAborted {
					return true, err
				}
			}
		}
		if !x.clock.Now().Before(deadline) {
			return true, nil
		}
		if err := x.port.WaitTick(ctx); err != nil {
			return true, world.Cause(ctx, "escape_water", err)
		}
	}
}

// inOpenWater is true when the feet are in water with nothing solid beside
// them to climb onto.
func (x *Executor) inOpenWater(ctx context.Context) (bool, error) {
	self, err := x.self(ctx)
	if err != nil {
		return false, err
	}
	feet, err := x.port.BlockAt(ctx, self.Pos)
	if err != nil {
		return false, world.Wrap(world.KindPrimitive, "block_at", err)
	}
	if !feet.IsWater() {
		return false, nil
	}
	for _, d := range world.Cardinals {
		b, err := x.port.BlockAt(ctx, self.Pos.Add(d.Vec()))
		if err != nil {
			return false, world.Wrap(world.KindPrimitive, "block_at", err)
		}
		if b.Solid {
			return false, nil
		}
	}
	return true, nil
}

// findLand paths to the nearest solid-topped cell with two clear,
// non-liquid blocks above it.
func (x *Executor) findLand(ctx context.Context, op *Operation) error {
	cfg := x.tun.Escape
	self, err := x.self(ctx)
	if err != nil {
		return err
	}
	ground, err := x.port.FindBlocks(ctx, world.BlockQuery{
		AnySolid:    true,
		Center:      self.Pos,
		MaxDistance: cfg.SurfaceRadius,
		Limit:       64,
	})
	if err != nil {
		return world.Wrap(world.KindPrimitive, "find_blocks", err)
	}
	for _, g := range ground {
		stand := g.Pos.Up()
		if abs(stand.Y-self.Pos.Y) > cfg.SurfaceVertical {
			continue
		}
		feet, err := x.port.BlockAt(ctx, stand)
		if err != nil {
			return world.Wrap(world.KindPrimitive, "block_at", err)
		}
		head, err := x.port.BlockAt(ctx, stand.Up())
		if err != nil {
			return world.Wrap(world.KindPrimitive, "block_at", err)
		}
		if !feet.IsAir() || !head.IsAir() {
			continue
		}
		if err := x.port.PathfindTo(ctx, world.Goal{Pos: stand}, cfg.SwimTimeout()); err != nil {
			if aerr := x.navStopped(ctx, "escape_water"); aerr != nil {
				return aerr
			}
			continue
		}
		op.count("land_reached", 1)
		return nil
	}
	return world.Errorf(world.KindNotFound, "escape_water", "no dry land within %d", cfg.SurfaceRadius)
}

// pillarUp places blocks into the agent's feet cell while jumping, one per
// tick, until the head leaves the water.
func (x *Executor) pillarUp(ctx context.Context, op *Operation) (bool, error) {
	block := x.buildingBlock(ctx)
	if block == "" {
		return true, world.Errorf(world.KindNoItems, "escape_water", "no blocks to pillar with")
	}
	if err := x.holdItem(ctx, op, block); err != nil {
		return true, err
	}
	if err := x.port.Control(ctx, world.ControlJump, true); err != nil {
		return true, world.Wrap(world.KindPrimitive, "control", err)
	}
	defer func() {
		if err := x.port.Control(context.WithoutCancel(ctx), world.ControlJump, false); err != nil {
			x.logf("escape release jump err=%v", err)
		}
	}()

	for i := 0; i < x.tun.Escape.PillarMax; i++ {
		if err := x.checkpoint(ctx, op); err != nil {
			return true, err
		}
		under, self, err := x.submerged(ctx)
		if err != nil || !under {
			return under, err
		}
		feet := self.Pos
		ref, ok, err := x.findRefBelow(ctx, feet)
		if err != nil {
			return true, err
		}
		if !ok {
			return true, world.Errorf(world.KindNotFound, "escape_water", "nothing to pillar against at %s", feet)
		}
		if err := x.port.Place(ctx, ref, feet.Sub(ref)); err != nil {
			x.logf("escape pillar place err=%v", err)
		} else {
			op.count("pillar_blocks", 1)
			op.progress++
		}
		if err := x.port.WaitTick(ctx); err != nil {
			return true, world.Cause(ctx, "escape_water", err)
		}
	}
	under, _, err := x.submerged(ctx)
	return under, err
}

// findRefBelow looks for a solid neighbor of the feet cell, below first.
func (x *Executor) findRefBelow(ctx context.Context, feet world.Vec3) (world.Vec3, bool, error) {
	for _, off := range refOffsets[:5] {
		r := feet.Add(off)
		b, err := x.port.BlockAt(ctx, r)
		if err != nil {
			return world.Vec3{}, false, world.Wrap(world.KindPrimitive, "block_at", err)
		}
		if b.Solid {
			return r, true, nil
		}
	}
	return world.Vec3{}, false, nil
}

package executor

import (
	"context"
	"fmt"

	"voxelhand.ai/internal/world"
)

// refOffsets is the order in which neighbors are tried as the solid
// reference for a placement.
var refOffsets = []world.Vec3{
	world.FaceDown,
	world.North.Vec(),
	world.South.Vec(),
	world.East.Vec(),
	world.West.Vec(),
	world.FaceUp,
}

type PlaceRequest struct {
	Item   string      `json:"item"`
	Target *world.Vec3 `json:"target,omitempty"`
}

// Place puts one Item down. With no target it searches a fixed ring of
// candidate cells around the agent (ground level, head level, overhead)
// and, if none has a solid neighbor to place against, digs out an adjacent
// block to make room and tries again.
func (x *Executor) Place(ctx context.Context, req PlaceRequest) Outcome {
	op := x.begin(ctx, KindPlace, req)
	if req.Item == "" {
		return x.finish(ctx, op, world.Errorf(world.KindBadRequest, "place", "item is required"), "")
	}
	if req.Target != nil {
		pos, err := x.placeAt(ctx, op, req.Item, *req.Target)
		if err != nil {
			return x.finish(ctx, op, err, "")
		}
		return x.finish(ctx, op, nil, fmt.Sprintf("placed %s at %s", req.Item, pos))
	}
	pos, err := x.placeNearby(ctx, op, req.Item)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	return x.finish(ctx, op, nil, fmt.Sprintf("placed %s at %s", req.Item, pos))
}

func candidateCells(feet world.Vec3) []world.Vec3 {
	head := feet.Up()
	out := make([]world.Vec3, 0, 9)
	for _, d := range world.Cardinals {
		out = append(out, feet.Add(d.Vec()))
	}
	for _, d := range world.Cardinals {
		out = append(out, head.Add(d.Vec()))
	}
	return append(out, head.Up())
}

func (x *Executor) placeNearby(ctx context.Context, op *Operation, item string) (world.Vec3, error) {
	if err := x.holdItem(ctx, op, item); err != nil {
		return world.Vec3{}, err
	}
	pos, err := x.tryCandidates(ctx, op, item)
	if world.KindOf(err) != world.KindNotFound {
		return pos, err
	}

	// Every candidate is enclosed (typical right after digging a 1x1
	// shaft): carve a pocket and place into it.
	self, serr := x.self(ctx)
	if serr != nil {
		return world.Vec3{}, serr
	}
	for _, c := range candidateCells(self.Pos)[:8] {
		b, berr := x.port.BlockAt(ctx, c)
		if berr != nil {
			return world.Vec3{}, world.Wrap(world.KindPrimitive, "block_at", berr)
		}
		if !b.Solid || x.cat.IsUnbreakable(b.Name) {
			continue
		}
		if _, derr := x.digBlock(ctx, op, c); derr != nil {
			continue
		}
		op.count("pockets_dug", 1)
		if err := x.holdItem(ctx, op, item); err != nil {
			return world.Vec3{}, err
		}
		return x.tryCandidates(ctx, op, item)
	}
	return world.Vec3{}, world.Errorf(world.KindNotFound, "place", "no spot to place %s around %s", item, self.Pos)
}

func (x *Executor) tryCandidates(ctx context.Context, op *Operation, item string) (world.Vec3, error) {
	self, err := x.self(ctx)
	if err != nil {
		return world.Vec3{}, err
	}
	for _, c := range candidateCells(self.Pos) {
		b, err := x.port.BlockAt(ctx, c)
		if err != nil {
			return world.Vec3{}, world.Wrap(world.KindPrimitive, "block_at", err)
		}
		if b.Solid || b.IsLava() {
			continue
		}
		ref, ok, err := x.findRef(ctx, c, self.Pos)
		if err != nil {
			return world.Vec3{}, err
		}
		if !ok {
			continue
		}
		if err := x.port.Place(ctx, ref, c.Sub(ref)); err != nil {
			x.logf("place candidate=%s ref=%s err=%v", c, ref, err)
			continue
		}
		op.count("placed", 1)
		op.progress++
		return c, nil
	}
	return world.Vec3{}, world.Errorf(world.KindNotFound, "place", "no candidate cell with support around %s", self.Pos)
}

// findRef returns a solid neighbor of cell to place against, skipping the
// agent's own cells.
func (x *Executor) findRef(ctx context.Context, cell, feet world.Vec3) (world.Vec3, bool, error) {
	for _, off := range refOffsets {
		r := cell.Add(off)
		if r == feet || r == feet.Up() {
			continue
		}
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

func (x *Executor) holdItem(ctx context.Context, op *Operation, item string) error {
	inv, err := x.port.Inventory(ctx)
	if err != nil {
		return world.Wrap(world.KindPrimitive, "inventory", err)
	}
	if world.Count(inv, item) == 0 {
		return world.Errorf(world.KindNoItems, "place", "no %s in inventory", item)
	}
	if err := x.policy.Hold(ctx, item); err != nil {
		return err
	}
	op.ToolHeld = item
	return nil
}

// placeAt places item into a specific cell, approaching it first if needed.
// A cell that is already solid counts as done.
func (x *Executor) placeAt(ctx context.Context, op *Operation, item string, cell world.Vec3) (world.Vec3, error) {
	b, err := x.port.BlockAt(ctx, cell)
	if err != nil {
		return cell, world.Wrap(world.KindPrimitive, "block_at", err)
	}
	if b.Solid {
		op.count("already_solid", 1)
		return cell, nil
	}
	if err := x.approach(ctx, op, cell); err != nil {
		return cell, err
	}
	if err := x.holdItem(ctx, op, item); err != nil {
		return cell, err
	}
	self, err := x.self(ctx)
	if err != nil {
		return cell, err
	}
	ref, ok, err := x.findRef(ctx, cell, self.Pos)
	if err != nil {
		return cell, err
	}
	if !ok {
		return cell, world.Errorf(world.KindNotFound, "place", "nothing to place %s against at %s", item, cell)
	}
	if err := x.port.Place(ctx, ref, cell.Sub(ref)); err != nil {
		if ctx.Err() != nil {
			return cell, world.Wrap(world.KindAborted, "place", ctx.Err())
		}
		return cell, world.Wrap(world.KindPrimitive, "place", err)
	}
	op.count("placed", 1)
	op.progress++
	return cell, nil
}

// buildingBlock picks the first catalog building block the agent carries
// the most of.
func (x *Executor) buildingBlock(ctx context.Context) string {
	inv, err := x.port.Inventory(ctx)
	if err != nil {
		return ""
	}
	best, n := "", 0
	for _, b := range x.cat.BuildingBlocks {
		if c := world.Count(inv, b); c > n {
			best, n = b, c
		}
	}
	return best
}

type BuildShelterRequest struct {
	Material string `json:"material,omitempty"`
}

// shelterPlan returns the cells of a 5x5 footprint, 3-high shelter around
// origin (the agent's feet): walls bottom-up with a 1x2 door on the north
// face, then the roof from the outer ring inward so every roof block has a
// neighbor to be placed against.
func shelterPlan(origin world.Vec3) []world.Vec3 {
	var out []world.Vec3
	door := map[world.Vec3]bool{
		origin.Add(world.V(0, 0, -2)): true,
		origin.Add(world.V(0, 1, -2)): true,
	}
	for dy := 0; dy < 3; dy++ {
		for dx := -2; dx <= 2; dx++ {
			for dz := -2; dz <= 2; dz++ {
				if abs(dx) != 2 && abs(dz) != 2 {
					continue
				}
				c := origin.Add(world.V(dx, dy, dz))
				if !door[c] {
					out = append(out, c)
				}
			}
		}
	}
	for ring := 2; ring >= 0; ring-- {
		for dx := -ring; dx <= ring; dx++ {
			for dz := -ring; dz <= ring; dz++ {
				if max(abs(dx), abs(dz)) == ring {
					out = append(out, origin.Add(world.V(dx, 3, dz)))
				}
			}
		}
	}
	return out
}

// BuildShelter surrounds the agent with a walled, roofed 5x5 hut.
func (x *Executor) BuildShelter(ctx context.Context, req BuildShelterRequest) Outcome {
	op := x.begin(ctx, KindBuildShelter, req)
	block := req.Material
	if block == "" {
		block = x.buildingBlock(ctx)
	}
	inv, err := x.port.Inventory(ctx)
	if err != nil {
		return x.finish(ctx, op, world.Wrap(world.KindPrimitive, "inventory", err), "")
	}
	have := world.Count(inv, block)
	if block == "" || have < x.tun.Digging.ShelterMinBlocks {
		return x.finish(ctx, op, world.Errorf(world.KindNoItems, "build_shelter",
			"need %d building blocks, have %d %s", x.tun.Digging.ShelterMinBlocks, have, block), "")
	}
	self, err := x.self(ctx)
	if err != nil {
		return x.finish(ctx, op, err, "")
	}
	plan := shelterPlan(self.Pos)
	msg := func() string {
		return fmt.Sprintf("placed %d/%d %s", op.counts["placed"]+op.counts["already_solid"], len(plan), block)
	}
	for _, cell := range plan {
		if err := x.checkpoint(ctx, op); err != nil {
			return x.finish(ctx, op, err, msg())
		}
		_, err := x.placeAt(ctx, op, block, cell)
		switch world.KindOf(err) {
		case "":
		case world.KindNotFound, world.KindUnreachable, world.KindPrimitive:
			op.count("skipped", 1)
			x.logf("shelter skip id=%s cell=%s err=%v", op.ID, cell, err)
		default:
			return x.finish(ctx, op, err, msg())
		}
	}
	if op.counts["skipped"] > 0 {
		op.warn("%d cells could not be placed", op.counts["skipped"])
	}
	return x.finish(ctx, op, nil, msg())
}

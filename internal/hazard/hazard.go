// Package hazard looks for lava and water around the cells an operation is
// about to open, and pours water on lava when it can.
package hazard

import (
	"context"
	"log"
	"math"

	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/world"
)

const (
	KindLava  = "lava"
	KindWater = "water"
)

var (
	lavaNames  = []string{world.BlockLava, "flowing_lava"}
	waterNames = []string{world.BlockWater, "flowing_water"}
)

type Finding struct {
	Pos      world.Vec3 `json:"pos"`
	Kind     string     `json:"kind"`
	Distance float64    `json:"distance"`
}

// Report is recomputed before every dig step and never cached.
type Report struct {
	Center   world.Vec3 `json:"center"`
	Radius   int        `json:"radius"`
	Findings []Finding  `json:"findings,omitempty"`
}

func (r Report) filter(kind string) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (r Report) Lava() []Finding  { return r.filter(KindLava) }
func (r Report) Water() []Finding { return r.filter(KindWater) }

type Scanner struct {
	port   world.Port
	cat    *catalogs.Catalog
	radius int
	logger *log.Logger
}

func New(port world.Port, radius int, logger *log.Logger) *Scanner {
	if radius <= 0 {
		radius = 1
	}
	return &Scanner{port: port, cat: port.Catalog(), radius: radius, logger: logger}
}

func (s *Scanner) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Scan lists lava and water within radius of center.
func (s *Scanner) Scan(ctx context.Context, center world.Vec3, radius int) (Report, error) {
	rep := Report{Center: center, Radius: radius}
	names := append(append([]string(nil), lavaNames...), waterNames...)
	blocks, err := s.port.FindBlocks(ctx, world.BlockQuery{
		Names:       names,
		Center:      center,
		MaxDistance: radius,
	})
	if err != nil {
		return rep, world.Wrap(world.KindPrimitive, "scan", err)
	}
	for _, b := range blocks {
		kind := KindWater
		if b.IsLava() {
			kind = KindLava
		}
		rep.Findings = append(rep.Findings, Finding{Pos: b.Pos, Kind: kind, Distance: b.Pos.Dist(center)})
	}
	return rep, nil
}

// Around reports hazards within the scanner radius of any of cells, the
// blocks an upcoming step will open. One world query covers all of them.
func (s *Scanner) Around(ctx context.Context, cells []world.Vec3) (Report, error) {
	if len(cells) == 0 {
		return Report{}, nil
	}
	var sum world.Vec3
	for _, c := range cells {
		sum = sum.Add(c)
	}
	n := len(cells)
	center := world.V(sum.X/n, sum.Y/n, sum.Z/n)
	reach := 0.0
	for _, c := range cells {
		reach = math.Max(reach, c.Dist(center))
	}
	all, err := s.Scan(ctx, center, s.radius+int(math.Ceil(reach)))
	if err != nil {
		return all, err
	}
	rep := Report{Center: center, Radius: s.radius}
	for _, f := range all.Findings {
		for _, c := range cells {
			if d := f.Pos.Dist(c); d <= float64(s.radius) {
				f.Distance = d
				rep.Findings = append(rep.Findings, f)
				break
			}
		}
	}
	return rep, nil
}

// Clear returns nil when cells can be opened safely. Lava next to any of
// them is neutralized if possible; otherwise the result is a
// KindHazardBlocked error and the caller must change heading. Water is only
// logged.
func (s *Scanner) Clear(ctx context.Context, cells []world.Vec3) (Report, error) {
	rep, err := s.Around(ctx, cells)
	if err != nil {
		return rep, err
	}
	if water := rep.Water(); len(water) > 0 {
		s.logf("hazard water count=%d nearest=%s", len(water), water[0].Pos)
	}
	for _, f := range rep.Lava() {
		if ok := s.Neutralize(ctx, f.Pos); !ok {
			return rep, world.Errorf(world.KindHazardBlocked, "hazard", "lava at %s", f.Pos)
		}
	}
	return rep, nil
}

// Neutralize pours the water source onto lava at pos and then tries to
// scoop the water back up. It reports whether the lava is gone.
func (s *Scanner) Neutralize(ctx context.Context, pos world.Vec3) bool {
	inv, err := s.port.Inventory(ctx)
	if err != nil || world.Count(inv, s.cat.WaterSource) == 0 {
		return false
	}
	if err := s.port.Equip(ctx, s.cat.WaterSource, world.SlotHand); err != nil {
		s.logf("hazard neutralize equip err=%v", err)
		return false
	}
	if err := s.port.WaitTick(ctx); err != nil {
		return false
	}
	if err := s.port.UseOn(ctx, pos); err != nil {
		s.logf("hazard neutralize pos=%s err=%v", pos, err)
		return false
	}
	if err := s.port.WaitTick(ctx); err != nil {
		return false
	}
	b, err := s.port.BlockAt(ctx, pos)
	if err != nil || b.IsLava() {
		return false
	}
	s.logf("hazard neutralized pos=%s now=%s", pos, b.Name)
	s.recollect(ctx, pos)
	return true
}

func (s *Scanner) recollect(ctx context.Context, near world.Vec3) {
	inv, err := s.port.Inventory(ctx)
	if err != nil || world.Count(inv, s.cat.EmptyBucket) == 0 {
		return
	}
	found, err := s.port.FindBlocks(ctx, world.BlockQuery{Names: waterNames, Center: near, MaxDistance: 2, Limit: 1})
	if err != nil || len(found) == 0 {
		return
	}
	if err := s.port.Equip(ctx, s.cat.EmptyBucket, world.SlotHand); err != nil {
		return
	}
	if err := s.port.UseOn(ctx, found[0].Pos); err != nil {
		s.logf("hazard recollect pos=%s err=%v", found[0].Pos, err)
	}
}

// Package toolpolicy picks and keeps the right tool in hand.
package toolpolicy

import (
	"context"
	"fmt"
	"log"

	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/world"
)

// Choice is the outcome of matching a material against the inventory.
// Tool is empty when the material is dug bare-handed.
type Choice struct {
	Material string             `json:"material"`
	Class    catalogs.ToolClass `json:"class"`
	Required bool               `json:"required"`
	MinTier  int                `json:"min_tier,omitempty"`
	Tool     string             `json:"tool,omitempty"`
	Tier     int                `json:"tier,omitempty"`
}

// Select picks the highest-tier tool of the material's class present in
// inv. Equal tiers break on catalog rank, then on remaining durability.
func Select(cat *catalogs.Catalog, material string, inv []world.Item) Choice {
	class, required := cat.ClassFor(material)
	ch := Choice{
		Material: material,
		Class:    class,
		Required: required,
		MinTier:  cat.MinTierFor(material),
	}
	if class == catalogs.ToolNone {
		return ch
	}
	bestRank := -1
	var bestDur float64
	for _, it := range inv {
		if it.Count <= 0 {
			continue
		}
		c, tier, rank, ok := cat.ParseTool(it.Name)
		if !ok || c != class {
			continue
		}
		better := tier > ch.Tier ||
			(tier == ch.Tier && rank > bestRank) ||
			(tier == ch.Tier && rank == bestRank && it.Durability > bestDur)
		if ch.Tool == "" || better {
			ch.Tool, ch.Tier, bestRank, bestDur = it.Name, tier, rank, it.Durability
		}
	}
	return ch
}

// Verdict classifies a choice: nil when digging can proceed normally,
// KindToolMissing when it cannot proceed at all, KindToolTier when it can
// proceed but will yield no drops.
func (ch Choice) Verdict() error {
	if ch.Required && ch.Tool == "" {
		return world.Errorf(world.KindToolMissing, "tool", "%s needs a %s", ch.Material, ch.Class)
	}
	if ch.MinTier > 0 && ch.Tier < ch.MinTier {
		return world.Errorf(world.KindToolTier, "tool", "%s needs tier %d %s, best is %q",
			ch.Material, ch.MinTier, ch.Class, ch.Tool)
	}
	return nil
}

type Policy struct {
	port   world.Port
	cat    *catalogs.Catalog
	logger *log.Logger
}

func New(port world.Port, logger *log.Logger) *Policy {
	return &Policy{port: port, cat: port.Catalog(), logger: logger}
}

// Check is the preflight run once before an operation starts.
func (p *Policy) Check(ctx context.Context, material string) (Choice, error) {
	inv, err := p.port.Inventory(ctx)
	if err != nil {
		return Choice{}, world.Wrap(world.KindPrimitive, "inventory", err)
	}
	ch := Select(p.cat, material, inv)
	return ch, ch.Verdict()
}

// Ensure is run immediately before every dig. It re-reads the inventory and
// the held item (pathfinding may have swapped it), equips the chosen tool if
// it is not in hand, and waits one tick for the equip to land.
// Tier shortfalls are not returned here; Check reports them up front.
func (p *Policy) Ensure(ctx context.Context, material string) (Choice, error) {
	inv, err := p.port.Inventory(ctx)
	if err != nil {
		return Choice{}, world.Wrap(world.KindPrimitive, "inventory", err)
	}
	ch := Select(p.cat, material, inv)
	if err := ch.Verdict(); err != nil && world.KindOf(err) == world.KindToolMissing {
		return ch, err
	}
	if ch.Tool == "" {
		return ch, nil
	}
	if err := p.Hold(ctx, ch.Tool); err != nil {
		return ch, err
	}
	return ch, nil
}

// EquipWeapon puts the best weapon in hand and returns its name; an empty
// name means fighting bare-handed.
func (p *Policy) EquipWeapon(ctx context.Context) (string, float64, error) {
	inv, err := p.port.Inventory(ctx)
	if err != nil {
		return "", 0, world.Wrap(world.KindPrimitive, "inventory", err)
	}
	name, score := BestWeapon(p.cat, inv)
	if name == "" {
		return "", 0, nil
	}
	return name, score, p.Hold(ctx, name)
}

func BestWeapon(cat *catalogs.Catalog, inv []world.Item) (string, float64) {
	best, bestScore := "", 0.0
	for _, it := range inv {
		if it.Count <= 0 {
			continue
		}
		if s := cat.WeaponScore(it.Name); s > bestScore {
			best, bestScore = it.Name, s
		}
	}
	return best, bestScore
}

// Hold puts item in the main hand unless it is already there.
func (p *Policy) Hold(ctx context.Context, item string) error {
	held, err := world.HeldItem(ctx, p.port)
	if err != nil {
		return world.Wrap(world.KindPrimitive, "self", err)
	}
	if held == item {
		return nil
	}
	if err := p.port.Equip(ctx, item, world.SlotHand); err != nil {
		return world.Wrap(world.KindPrimitive, "equip", fmt.Errorf("%s: %w", item, err))
	}
	if err := p.port.WaitTick(ctx); err != nil {
		return world.Cause(ctx, "equip", err)
	}
	held, err = world.HeldItem(ctx, p.port)
	if err != nil {
		return world.Wrap(world.KindPrimitive, "self", err)
	}
	if held != item {
		return world.Errorf(world.KindPrimitive, "equip", "holding %q after equipping %q", held, item)
	}
	if p.logger != nil {
		p.logger.Printf("tool equip item=%s", item)
	}
	return nil
}

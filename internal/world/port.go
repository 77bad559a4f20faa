package world

import (
	"context"
	"time"

	"voxelhand.ai/internal/catalogs"
)

// Port is everything the action core consumes from the world. Every read is
// a fresh snapshot; callers never cache results across a mutating call.
//
// Implementations must be safe for concurrent use: the health-event owner
// reads entities while an operation runs, and StopNavigation arrives from
// the controller while PathfindTo is in flight.
type Port interface {
	Self(ctx context.Context) (SelfState, error)
	Inventory(ctx context.Context) ([]Item, error)
	Entities(ctx context.Context) ([]Entity, error)

	BlockAt(ctx context.Context, pos Vec3) (Block, error)
	// FindBlocks returns matching blocks ordered by distance from q.Center.
	FindBlocks(ctx context.Context, q BlockQuery) ([]Block, error)

	Dig(ctx context.Context, pos Vec3) error
	Place(ctx context.Context, ref Vec3, face Vec3) error
	// UseOn activates the held item against a block (pouring a bucket).
	UseOn(ctx context.Context, pos Vec3) error
	Equip(ctx context.Context, item string, slot string) error
	Consume(ctx context.Context, item string) error
	Attack(ctx context.Context, entityID string) error

	PathfindTo(ctx context.Context, goal Goal, timeout time.Duration) error
	StopNavigation()
	LookAt(ctx context.Context, pos Vec3) error
	Control(ctx context.Context, control string, on bool) error

	// WaitTick blocks until the world has advanced at least one tick.
	WaitTick(ctx context.Context) error
	HealthEvents() <-chan HealthEvent

	Catalog() *catalogs.Catalog
	Clock() Clock
}

type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HeldItem reads the main-hand item.
func HeldItem(ctx context.Context, p Port) (string, error) {
	s, err := p.Self(ctx)
	if err != nil {
		return "", err
	}
	return s.Held, nil
}

// Count sums the stacks of name in inv.
func Count(inv []Item, name string) int {
	n := 0
	for _, it := range inv {
		if it.Name == name {
			n += it.Count
		}
	}
	return n
}

package world

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestDirectionTurns(t *testing.T) {
	for _, d := range Cardinals {
		if d.Right().Left() != d {
			t.Fatalf("%s: right then left should return", d)
		}
		if d.Opposite().Opposite() != d {
			t.Fatalf("%s: opposite twice should return", d)
		}
		if sum := d.Vec().Add(d.Opposite().Vec()); sum != (Vec3{}) {
			t.Fatalf("%s: vec + opposite = %v", d, sum)
		}
		if d.Vec().Add(d.Right().Vec()).Manhattan(Vec3{}) != 2 {
			t.Fatalf("%s: right turn should be perpendicular", d)
		}
	}
	if North.Right() != East || West.Right() != North {
		t.Fatalf("unexpected clockwise order")
	}
}

func TestParseDirection(t *testing.T) {
	cases := map[string]Direction{"north": North, "E": East, " south ": South, "-x": West}
	for in, want := range cases {
		got, err := ParseDirection(in)
		if err != nil || got != want {
			t.Fatalf("ParseDirection(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseDirection("up"); err == nil {
		t.Fatalf("expected error for vertical direction")
	}
}

func TestDirectionTo(t *testing.T) {
	o := V(0, 64, 0)
	if got := DirectionTo(o, V(5, 64, 1)); got != East {
		t.Fatalf("got %s want east", got)
	}
	if got := DirectionTo(o, V(1, 64, -5)); got != North {
		t.Fatalf("got %s want north", got)
	}
}

func TestKindOf(t *testing.T) {
	base := Errorf(KindHazardBlocked, "tunnel", "lava at %s", V(1, 2, 3))
	wrapped := fmt.Errorf("step 4: %w", base)
	if got := KindOf(wrapped); got != KindHazardBlocked {
		t.Fatalf("KindOf(wrapped) = %s", got)
	}
	if got := KindOf(errors.New("socket closed")); got != KindPrimitive {
		t.Fatalf("KindOf(plain) = %s", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %s", got)
	}
	if !IsKnownKind(KindAborted) || IsKnownKind("E_WHATEVER") {
		t.Fatalf("IsKnownKind mismatch")
	}
}

func TestCause(t *testing.T) {
	tick := Errorf(KindPrimitive, "wait_tick", "no observation")
	if got := Cause(context.Background(), "equip", tick); got.Kind != KindPrimitive {
		t.Fatalf("world failure classified as %s", got.Kind)
	}
	if got := Cause(context.Background(), "combat", errors.New("inventory read failed")); got.Kind != KindPrimitive {
		t.Fatalf("plain failure classified as %s", got.Kind)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := Cause(ctx, "equip", tick); got.Kind != KindAborted {
		t.Fatalf("cancelled call classified as %s", got.Kind)
	}
	if !errors.Is(Cause(context.Background(), "equip", tick), tick) {
		t.Fatalf("cause should wrap the original error")
	}
}

package world

import (
	"fmt"
	"math"
	"strings"
)

type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func V(x, y, z int) Vec3 { return Vec3{X: x, Y: y, Z: z} }

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }
func (v Vec3) Scale(k int) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

func (v Vec3) Up() Vec3   { return Vec3{X: v.X, Y: v.Y + 1, Z: v.Z} }
func (v Vec3) Down() Vec3 { return Vec3{X: v.X, Y: v.Y - 1, Z: v.Z} }

func (v Vec3) Manhattan(o Vec3) int {
	return abs(v.X-o.X) + abs(v.Y-o.Y) + abs(v.Z-o.Z)
}

// Dist is the euclidean distance between block coordinates.
func (v Vec3) Dist(o Vec3) float64 {
	dx := float64(v.X - o.X)
	dy := float64(v.Y - o.Y)
	dz := float64(v.Z - o.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func (v Vec3) DistXZ(o Vec3) float64 {
	dx := float64(v.X - o.X)
	dz := float64(v.Z - o.Z)
	return math.Sqrt(dx*dx + dz*dz)
}

func (v Vec3) Array() [3]int { return [3]int{v.X, v.Y, v.Z} }

func FromArray(a [3]int) Vec3 { return Vec3{X: a[0], Y: a[1], Z: a[2]} }

func (v Vec3) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Direction is a horizontal cardinal heading. North is -Z, east is +X.
type Direction int

const (
	North Direction = iota
	East
	South
	West
)

var Cardinals = [4]Direction{North, East, South, West}

var (
	FaceUp   = Vec3{Y: 1}
	FaceDown = Vec3{Y: -1}
)

func (d Direction) Vec() Vec3 {
	switch d {
	case North:
		return Vec3{Z: -1}
	case East:
		return Vec3{X: 1}
	case South:
		return Vec3{Z: 1}
	default:
		return Vec3{X: -1}
	}
}

// Right is the clockwise neighbor heading.
func (d Direction) Right() Direction { return (d + 1) % 4 }
func (d Direction) Left() Direction  { return (d + 3) % 4 }
func (d Direction) Opposite() Direction {
	return (d + 2) % 4
}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case East:
		return "east"
	case South:
		return "south"
	case West:
		return "west"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "north", "n", "-z":
		return North, nil
	case "east", "e", "+x", "x":
		return East, nil
	case "south", "s", "+z", "z":
		return South, nil
	case "west", "w", "-x":
		return West, nil
	}
	return North, fmt.Errorf("unknown direction %q", s)
}

// DirectionTo returns the cardinal heading that best points from a to b.
func DirectionTo(a, b Vec3) Direction {
	dx := b.X - a.X
	dz := b.Z - a.Z
	if abs(dx) >= abs(dz) {
		if dx >= 0 {
			return East
		}
		return West
	}
	if dz >= 0 {
		return South
	}
	return North
}

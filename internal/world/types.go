package world

import "time"

const (
	BlockAir     = "air"
	BlockWater   = "water"
	BlockLava    = "lava"
	BlockBedrock = "bedrock"
)

// Block is a snapshot of one cell. It goes stale as soon as the world ticks.
type Block struct {
	Pos   Vec3   `json:"pos"`
	Name  string `json:"name"`
	Solid bool   `json:"solid"`
}

func IsAirName(name string) bool {
	switch name {
	case "", BlockAir, "cave_air", "void_air":
		return true
	}
	return false
}

func (b Block) IsAir() bool   { return IsAirName(b.Name) }
func (b Block) IsWater() bool { return b.Name == BlockWater || b.Name == "flowing_water" }
func (b Block) IsLava() bool  { return b.Name == BlockLava || b.Name == "flowing_lava" }

// Passable is true for cells the agent body can occupy.
func (b Block) Passable() bool { return !b.Solid && !b.IsLava() }

type Item struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Slot       int     `json:"slot"`
	Durability float64 `json:"durability,omitempty"`
}

type Entity struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Pos     Vec3   `json:"pos"`
	Hostile bool   `json:"hostile,omitempty"`
	Item    string `json:"item,omitempty"`
	Count   int    `json:"count,omitempty"`
}

const EntityItem = "item"

func (e Entity) IsDrop() bool { return e.Type == EntityItem }

type SelfState struct {
	Pos       Vec3     `json:"pos"`
	Health    float64  `json:"health"`
	Food      int      `json:"food"`
	Oxygen    int      `json:"oxygen,omitempty"`
	Held      string   `json:"held"`
	Armor     []string `json:"armor,omitempty"`
	TimeOfDay int      `json:"time_of_day"`
}

type HealthEvent struct {
	At     time.Time `json:"at"`
	Health float64   `json:"health"`
	Delta  float64   `json:"delta"`
}

// Goal is a navigation target: any cell within Range of Pos satisfies it.
// Range 0 means the exact cell.
type Goal struct {
	Pos   Vec3    `json:"pos"`
	Range float64 `json:"range"`
}

// BlockQuery matches blocks by name, or any solid block when AnySolid is
// set and Names is empty.
type BlockQuery struct {
	Names       []string
	AnySolid    bool
	Center      Vec3
	MaxDistance int
	Limit       int
}

// Hand slots for Equip.
const (
	SlotHand    = "hand"
	SlotOffHand = "off-hand"
)

// Movement control names for Control.
const (
	ControlForward = "forward"
	ControlJump    = "jump"
	ControlSneak   = "sneak"
)

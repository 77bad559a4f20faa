package protocol

// OBS (server -> client), once per world tick.
type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`
	TimeOfDay       int    `json:"time_of_day"` // 0..24000

	Self      SelfObs      `json:"self"`
	Inventory []ItemStack  `json:"inventory"`
	Equipment EquipmentObs `json:"equipment"`
	Entities  []EntityObs  `json:"entities"`
}

type SelfObs struct {
	Pos    [3]int  `json:"pos"`
	HP     float64 `json:"hp"`
	Food   int     `json:"food"`
	Oxygen int     `json:"oxygen,omitempty"`
}

type ItemStack struct {
	Item       string  `json:"item"`
	Count      int     `json:"count"`
	Slot       int     `json:"slot"`
	Durability float64 `json:"durability,omitempty"` // remaining fraction, 0 when not damageable
}

type EquipmentObs struct {
	MainHand string   `json:"main_hand"`
	OffHand  string   `json:"off_hand,omitempty"`
	Armor    []string `json:"armor"`
}

type EntityObs struct {
	ID      string `json:"id"`
	Type    string `json:"type"` // "zombie", "item", "player", ...
	Pos     [3]int `json:"pos"`
	Hostile bool   `json:"hostile,omitempty"`

	// Dropped-item payload (Type == "item").
	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`
}

// CALL ops.
const (
	OpBlockAt    = "BLOCK_AT"
	OpFindBlocks = "FIND_BLOCKS"
	OpDig        = "DIG"
	OpPlace      = "PLACE"
	OpUseOn      = "USE_ON"
	OpEquip      = "EQUIP"
	OpConsume    = "CONSUME"
	OpAttack     = "ATTACK"
	OpPathfind   = "PATHFIND"
	OpLook       = "LOOK"
	OpControl    = "CONTROL"
)

type BlockWire struct {
	Pos   [3]int `json:"pos"`
	Name  string `json:"name"`
	Solid bool   `json:"solid"`
}

type PosArgs struct {
	Pos [3]int `json:"pos"`
}

type FindBlocksArgs struct {
	Names       []string `json:"names,omitempty"`
	AnySolid    bool     `json:"any_solid,omitempty"`
	Center      [3]int   `json:"center"`
	MaxDistance int      `json:"max_distance"`
	Limit       int      `json:"limit"`
}

type PlaceArgs struct {
	Ref  [3]int `json:"ref"`
	Face [3]int `json:"face"`
}

type EquipArgs struct {
	Item string `json:"item"`
	Slot string `json:"slot"`
}

type ConsumeArgs struct {
	Item string `json:"item"`
}

type AttackArgs struct {
	EntityID string `json:"entity_id"`
}

type PathfindArgs struct {
	Target    [3]int  `json:"target"`
	Range     float64 `json:"range"`
	TimeoutMS int     `json:"timeout_ms"`
}

type ControlArgs struct {
	Control string `json:"control"`
	On      bool   `json:"on"`
}

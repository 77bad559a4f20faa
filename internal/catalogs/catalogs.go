package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

//go:embed default.json
var defaultJSON []byte

type ToolClass string

const (
	ToolNone    ToolClass = ""
	ToolPickaxe ToolClass = "pickaxe"
	ToolShovel  ToolClass = "shovel"
	ToolAxe     ToolClass = "axe"
	ToolSword   ToolClass = "sword"
)

type TierDef struct {
	Material string `json:"material"`
	Tier     int    `json:"tier"`
}

type ClassRule struct {
	Class    ToolClass `json:"class"`
	Required bool      `json:"required,omitempty"`
	Keywords []string  `json:"keywords"`
}

type MobDef struct {
	Danger               float64 `json:"danger"`
	FleeAlways           bool    `json:"flee_always,omitempty"`
	MeleeForbiddenRadius float64 `json:"melee_forbidden_radius,omitempty"`
}

// Catalog is the read-only lookup data the action core consults. One value
// is shared by all operations; nothing mutates it after Load.
type Catalog struct {
	ToolTiers         []TierDef          `json:"tool_tiers"` // highest first
	ToolClasses       []ClassRule        `json:"tool_classes"`
	MinTier           map[string]int     `json:"min_tier"`
	VariantPrefixes   []string           `json:"variant_prefixes"`
	Unbreakable       []string           `json:"unbreakable"`
	NoClusterKeywords []string           `json:"no_cluster_keywords"`
	Materials         []string           `json:"materials"`
	Mobs              map[string]MobDef  `json:"mobs"`
	Weapons           map[string]float64 `json:"weapons"`
	Armor             map[string]float64 `json:"armor"`
	Foods             map[string]int     `json:"foods"`
	BuildingBlocks    []string           `json:"building_blocks"`
	WaterSource       string             `json:"water_source"`
	EmptyBucket       string             `json:"empty_bucket"`

	Digest string `json:"-"`

	tierByMaterial map[string]int
	rankByMaterial map[string]int
	unbreakable    map[string]bool
	materialSet    map[string]bool
}

// Default returns the built-in tables.
func Default() *Catalog {
	c, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("catalogs: built-in default: %v", err))
	}
	return c
}

// Parse overlays raw (a JSON object with any subset of the catalog keys) on
// top of the built-in tables. Lists in raw replace the default list; map
// entries are merged key by key.
func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(defaultJSON, &c); err != nil {
		return nil, fmt.Errorf("default.json: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	canon, _ := json.Marshal(&c)
	c.Digest = sha256Hex(canon)
	return &c, nil
}

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (c *Catalog) index() error {
	if len(c.ToolTiers) == 0 {
		return fmt.Errorf("catalog: empty tool_tiers")
	}
	c.tierByMaterial = make(map[string]int, len(c.ToolTiers))
	c.rankByMaterial = make(map[string]int, len(c.ToolTiers))
	for i, t := range c.ToolTiers {
		if t.Material == "" || t.Tier <= 0 {
			return fmt.Errorf("catalog: bad tool tier %+v", t)
		}
		c.tierByMaterial[t.Material] = t.Tier
		c.rankByMaterial[t.Material] = len(c.ToolTiers) - i
	}
	for _, r := range c.ToolClasses {
		if r.Class == ToolNone || len(r.Keywords) == 0 {
			return fmt.Errorf("catalog: bad tool class rule %q", r.Class)
		}
	}
	c.unbreakable = map[string]bool{}
	for _, b := range c.Unbreakable {
		c.unbreakable[b] = true
	}
	c.materialSet = map[string]bool{}
	for _, m := range c.Materials {
		c.materialSet[m] = true
	}
	for m := range c.MinTier {
		c.materialSet[m] = true
	}
	return nil
}

// ClassFor classifies a material by keyword membership. Rules are checked
// in catalog order; the first matching rule wins.
func (c *Catalog) ClassFor(material string) (ToolClass, bool) {
	m := c.baseName(material)
	for _, r := range c.ToolClasses {
		for _, kw := range r.Keywords {
			if strings.Contains(m, kw) {
				return r.Class, r.Required
			}
		}
	}
	return ToolNone, false
}

// MinTierFor is the minimum tool tier that yields drops, 0 when any tool
// (or bare hands) will do.
func (c *Catalog) MinTierFor(material string) int {
	if t, ok := c.MinTier[material]; ok {
		return t
	}
	return c.MinTier[c.baseName(material)]
}

func (c *Catalog) TierName(tier int) string {
	for _, t := range c.ToolTiers {
		if t.Tier == tier {
			return t.Material
		}
	}
	return fmt.Sprintf("tier%d", tier)
}

// ParseTool splits "iron_pickaxe" into its class and tier. Rank orders tools
// of equal tier (wooden outranks golden).
func (c *Catalog) ParseTool(item string) (class ToolClass, tier int, rank int, ok bool) {
	i := strings.LastIndexByte(item, '_')
	if i <= 0 {
		return ToolNone, 0, 0, false
	}
	mat, cls := item[:i], ToolClass(item[i+1:])
	switch cls {
	case ToolPickaxe, ToolShovel, ToolAxe, ToolSword:
	default:
		return ToolNone, 0, 0, false
	}
	t, ok := c.tierByMaterial[mat]
	if !ok {
		return ToolNone, 0, 0, false
	}
	return cls, t, c.rankByMaterial[mat], true
}

// Variants returns material followed by its alternate forms, e.g.
// iron_ore and deepslate_iron_ore.
func (c *Catalog) Variants(material string) []string {
	base := c.baseName(material)
	out := []string{material}
	if base != material {
		out = append(out, base)
	}
	if strings.HasSuffix(base, "_ore") {
		for _, p := range c.VariantPrefixes {
			if v := p + base; v != material {
				out = append(out, v)
			}
		}
	}
	return out
}

func (c *Catalog) baseName(material string) string {
	for _, p := range c.VariantPrefixes {
		if strings.HasPrefix(material, p) && strings.HasSuffix(material, "_ore") {
			return strings.TrimPrefix(material, p)
		}
	}
	return material
}

func (c *Catalog) IsOre(name string) bool {
	return strings.HasSuffix(name, "_ore") || name == "ancient_debris"
}

// ClusterEligible reports whether a material forms veins worth sweeping.
// Trees are excluded.
func (c *Catalog) ClusterEligible(material string) bool {
	for _, kw := range c.NoClusterKeywords {
		if strings.Contains(material, kw) {
			return false
		}
	}
	return true
}

func (c *Catalog) IsUnbreakable(name string) bool { return c.unbreakable[name] }

func (c *Catalog) Mob(kind string) (MobDef, bool) {
	m, ok := c.Mobs[kind]
	return m, ok
}

// DeadliestMob is the mob type flagged flee-always with the highest danger.
func (c *Catalog) DeadliestMob() string {
	best, bestDanger := "", -1.0
	keys := make([]string, 0, len(c.Mobs))
	for k := range c.Mobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := c.Mobs[k]
		if m.FleeAlways && m.Danger > bestDanger {
			best, bestDanger = k, m.Danger
		}
	}
	return best
}

func (c *Catalog) WeaponScore(item string) float64 { return c.Weapons[item] }

func (c *Catalog) ArmorScore(worn []string) float64 {
	var s float64
	for _, a := range worn {
		s += c.Armor[a]
	}
	return s
}

func (c *Catalog) FoodValue(item string) int { return c.Foods[item] }
func (c *Catalog) IsFood(item string) bool   { return c.Foods[item] > 0 }

func (c *Catalog) IsBuildingBlock(item string) bool {
	for _, b := range c.BuildingBlocks {
		if b == item {
			return true
		}
	}
	return false
}

// IsKnownMaterial reports whether name is a catalog material or a variant
// of one.
func (c *Catalog) IsKnownMaterial(name string) bool {
	return c.materialSet[name] || c.materialSet[c.baseName(name)]
}

// KnownMaterials returns the sorted material vocabulary.
func (c *Catalog) KnownMaterials() []string {
	out := make([]string, 0, len(c.materialSet))
	for m := range c.materialSet {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

package worldtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/world"
)

// World is an in-memory voxel world implementing world.Port for tests:
// - cells missing from the map are air
// - time only moves through Clock().Sleep and WaitTick, one physics step per tick
// - pathfinding teleports the agent to the nearest standable cell that satisfies the goal
// - hooks (AfterPathfind, OnDig) let tests script side effects of the "server"
//
// It is not a physics engine; it models just enough (gravity, swimming up,
// walking forward, pillaring, item pickup) for the action loops to be
// exercised end to end.
type World struct {
	mu sync.Mutex

	blocks   map[world.Vec3]string
	self     world.SelfState
	inv      []world.Item
	entities []world.Entity
	entityHP map[string]float64
	cat      *catalogs.Catalog
	now      time.Time
	facing   world.Vec3
	controls map[string]bool
	walk     float64
	nextID   int
	health   chan world.HealthEvent

	Tick time.Duration

	// Unreachable goal positions; PathfindTo toward them fails.
	Unreachable map[world.Vec3]bool
	// PathfindFailures makes the next N PathfindTo calls fail.
	PathfindFailures int
	// BeforePathfind runs before every PathfindTo, outside the lock. A
	// non-nil result fails the call with that error.
	BeforePathfind func(w *World, goal world.Goal) error
	// AfterPathfind runs after every successful PathfindTo, outside the lock.
	AfterPathfind func(w *World)
	// OnDig runs after every successful Dig, outside the lock.
	OnDig func(w *World, pos world.Vec3)
	// ToolUses is the remaining number of digs before a tool breaks.
	ToolUses map[string]int
	// DropItems spawns an item entity where a block was dug.
	DropItems bool
	// NoSwim disables rising when jumping in water.
	NoSwim bool
	// Reach bounds Dig/Place/UseOn distance from the agent's feet.
	Reach float64

	calls  []string
	dug    []world.Vec3
	placed []world.Vec3
	paths  []world.Goal
	stops  int
}

func New(cat *catalogs.Catalog) *World {
	if cat == nil {
		cat = catalogs.Default()
	}
	return &World{
		blocks:      map[world.Vec3]string{},
		entityHP:    map[string]float64{},
		cat:         cat,
		now:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		controls:    map[string]bool{},
		health:      make(chan world.HealthEvent, 64),
		self:        world.SelfState{Health: 20, Food: 20},
		Tick:        50 * time.Millisecond,
		Unreachable: map[world.Vec3]bool{},
		ToolUses:    map[string]int{},
		Reach:       6,
	}
}

// ---- setup helpers ----

func (w *World) SetBlock(pos world.Vec3, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if world.IsAirName(name) {
		delete(w.blocks, pos)
		return
	}
	w.blocks[pos] = name
}

// FillBox sets every cell of the inclusive box [a,b] to name.
func (w *World) FillBox(a, b world.Vec3, name string) {
	for x := min(a.X, b.X); x <= max(a.X, b.X); x++ {
		for y := min(a.Y, b.Y); y <= max(a.Y, b.Y); y++ {
			for z := min(a.Z, b.Z); z <= max(a.Z, b.Z); z++ {
				w.SetBlock(world.V(x, y, z), name)
			}
		}
	}
}

func (w *World) SetAgent(pos world.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.self.Pos = pos
}

func (w *World) SetHeld(item string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.self.Held = item
}

func (w *World) SetHealth(hp float64, food int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.self.Health = hp
	w.self.Food = food
}

func (w *World) SetArmor(pieces ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.self.Armor = append([]string(nil), pieces...)
}

func (w *World) Give(item string, count int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.giveLocked(item, count)
}

func (w *World) giveLocked(item string, count int) {
	for i := range w.inv {
		if w.inv[i].Name == item {
			w.inv[i].Count += count
			return
		}
	}
	it := world.Item{Name: item, Count: count, Slot: len(w.inv)}
	if _, _, _, ok := w.cat.ParseTool(item); ok {
		it.Durability = 1
	}
	w.inv = append(w.inv, it)
}

func (w *World) takeLocked(item string, count int) bool {
	for i := range w.inv {
		if w.inv[i].Name != item {
			continue
		}
		if w.inv[i].Count < count {
			return false
		}
		w.inv[i].Count -= count
		if w.inv[i].Count == 0 {
			w.inv = append(w.inv[:i], w.inv[i+1:]...)
			if w.self.Held == item {
				w.self.Held = ""
			}
		}
		return true
	}
	return false
}

// Spawn adds an entity and returns its id.
func (w *World) Spawn(kind string, pos world.Vec3, hostile bool, hp float64) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := fmt.Sprintf("e%d", w.nextID)
	w.entities = append(w.entities, world.Entity{ID: id, Type: kind, Pos: pos, Hostile: hostile})
	w.entityHP[id] = hp
	return id
}

// Hurt applies damage and emits a health event stamped with the fake clock.
func (w *World) Hurt(damage float64) {
	w.mu.Lock()
	w.self.Health = math.Max(0, w.self.Health-damage)
	ev := world.HealthEvent{At: w.now, Health: w.self.Health, Delta: -damage}
	w.mu.Unlock()
	select {
	case w.health <- ev:
	default:
	}
}

// Advance moves the fake clock without running physics.
func (w *World) Advance(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = w.now.Add(d)
}

// ---- inspection helpers ----

func (w *World) Block(pos world.Vec3) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nameLocked(pos)
}

func (w *World) Agent() world.SelfState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.self
}

func (w *World) Count(item string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return world.Count(w.inv, item)
}

func (w *World) Calls() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.calls...)
}

// CallCount counts recorded calls starting with prefix ("dig", "equip:iron_pickaxe").
func (w *World) CallCount(prefix string) int {
	n := 0
	for _, c := range w.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (w *World) Dug() []world.Vec3 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]world.Vec3(nil), w.dug...)
}

func (w *World) Placed() []world.Vec3 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]world.Vec3(nil), w.placed...)
}

func (w *World) Paths() []world.Goal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]world.Goal(nil), w.paths...)
}

func (w *World) Stops() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stops
}

func (w *World) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

func (w *World) EntityAlive(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.entityHP[id]
	return ok
}

// ---- world.Port ----

var _ world.Port = (*World)(nil)

func (w *World) record(format string, args ...any) {
	w.calls = append(w.calls, fmt.Sprintf(format, args...))
}

func (w *World) nameLocked(pos world.Vec3) string {
	if n, ok := w.blocks[pos]; ok {
		return n
	}
	return world.BlockAir
}

func (w *World) solidName(name string) bool {
	if world.IsAirName(name) {
		return false
	}
	switch name {
	case world.BlockWater, world.BlockLava, "flowing_water", "flowing_lava", "torch":
		return false
	}
	return true
}

func (w *World) blockLocked(pos world.Vec3) world.Block {
	n := w.nameLocked(pos)
	return world.Block{Pos: pos, Name: n, Solid: w.solidName(n)}
}

func (w *World) Self(ctx context.Context) (world.SelfState, error) {
	if err := ctx.Err(); err != nil {
		return world.SelfState{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.self
	s.Armor = append([]string(nil), w.self.Armor...)
	return s, nil
}

func (w *World) Inventory(ctx context.Context) ([]world.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]world.Item(nil), w.inv...), nil
}

func (w *World) Entities(ctx context.Context) ([]world.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]world.Entity(nil), w.entities...), nil
}

func (w *World) BlockAt(ctx context.Context, pos world.Vec3) (world.Block, error) {
	if err := ctx.Err(); err != nil {
		return world.Block{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blockLocked(pos), nil
}

func (w *World) FindBlocks(ctx context.Context, q world.BlockQuery) ([]world.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	want := map[string]bool{}
	for _, n := range q.Names {
		want[n] = true
	}
	var out []world.Block
	for pos, name := range w.blocks {
		if len(want) > 0 && !want[name] {
			continue
		}
		if len(want) == 0 && (!q.AnySolid || !w.solidName(name)) {
			continue
		}
		if q.MaxDistance > 0 && pos.Dist(q.Center) > float64(q.MaxDistance) {
			continue
		}
		out = append(out, world.Block{Pos: pos, Name: name, Solid: w.solidName(name)})
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Pos.Dist(q.Center), out[j].Pos.Dist(q.Center)
		if di != dj {
			return di < dj
		}
		a, b := out[i].Pos, out[j].Pos
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (w *World) inReachLocked(pos world.Vec3) bool {
	return pos.Dist(w.self.Pos) <= w.Reach || pos.Dist(w.self.Pos.Up()) <= w.Reach
}

func (w *World) Dig(ctx context.Context, pos world.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.record("dig %s", pos)
	name := w.nameLocked(pos)
	switch {
	case !w.solidName(name):
		w.mu.Unlock()
		return fmt.Errorf("nothing to dig at %s (%s)", pos, name)
	case w.cat.IsUnbreakable(name):
		w.mu.Unlock()
		return fmt.Errorf("%s is unbreakable", name)
	case !w.inReachLocked(pos):
		w.mu.Unlock()
		return fmt.Errorf("%s out of reach from %s", pos, w.self.Pos)
	}
	delete(w.blocks, pos)
	w.dug = append(w.dug, pos)
	if held := w.self.Held; held != "" {
		if uses, ok := w.ToolUses[held]; ok {
			uses--
			w.ToolUses[held] = uses
			if uses <= 0 {
				delete(w.ToolUses, held)
				w.takeLocked(held, 1)
				w.self.Held = ""
				w.record("break %s", held)
			}
		}
	}
	if w.DropItems {
		w.nextID++
		id := fmt.Sprintf("e%d", w.nextID)
		w.entities = append(w.entities, world.Entity{ID: id, Type: world.EntityItem, Pos: pos, Item: name, Count: 1})
	}
	hook := w.OnDig
	w.mu.Unlock()
	if hook != nil {
		hook(w, pos)
	}
	return nil
}

func (w *World) Place(ctx context.Context, ref world.Vec3, face world.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	target := ref.Add(face)
	w.record("place %s", target)
	if !w.solidName(w.nameLocked(ref)) {
		return fmt.Errorf("reference %s is not solid", ref)
	}
	if w.solidName(w.nameLocked(target)) {
		return fmt.Errorf("target %s is occupied", target)
	}
	if target == w.self.Pos.Up() {
		return fmt.Errorf("target %s is inside the agent", target)
	}
	item := w.self.Held
	if item == "" || !w.takeLocked(item, 1) {
		return fmt.Errorf("nothing placeable in hand")
	}
	if target == w.self.Pos {
		if w.solidName(w.nameLocked(w.self.Pos.Up().Up())) {
			w.giveLocked(item, 1)
			return fmt.Errorf("no headroom to jump-place at %s", target)
		}
		w.self.Pos = w.self.Pos.Up()
	}
	w.blocks[target] = item
	w.placed = append(w.placed, target)
	return nil
}

func (w *World) UseOn(ctx context.Context, pos world.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("use %s", pos)
	if !w.inReachLocked(pos) {
		return fmt.Errorf("%s out of reach", pos)
	}
	b := w.blockLocked(pos)
	switch w.self.Held {
	case w.cat.WaterSource:
		switch {
		case b.IsLava():
			w.blocks[pos] = "obsidian"
			if above := pos.Up(); !w.solidName(w.nameLocked(above)) {
				w.blocks[above] = world.BlockWater
			}
		case !b.Solid:
			w.blocks[pos] = world.BlockWater
		default:
			return fmt.Errorf("cannot pour onto %s", b.Name)
		}
		w.takeLocked(w.cat.WaterSource, 1)
		w.giveLocked(w.cat.EmptyBucket, 1)
		w.self.Held = w.cat.EmptyBucket
		return nil
	case w.cat.EmptyBucket:
		if !b.IsWater() {
			return fmt.Errorf("no water at %s", pos)
		}
		delete(w.blocks, pos)
		w.takeLocked(w.cat.EmptyBucket, 1)
		w.giveLocked(w.cat.WaterSource, 1)
		w.self.Held = w.cat.WaterSource
		return nil
	}
	return fmt.Errorf("%q has no use on %s", w.self.Held, b.Name)
}

func (w *World) Equip(ctx context.Context, item string, slot string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("equip:%s", item)
	if world.Count(w.inv, item) <= 0 {
		return fmt.Errorf("no %s in inventory", item)
	}
	if slot == world.SlotHand {
		w.self.Held = item
	}
	return nil
}

func (w *World) Consume(ctx context.Context, item string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("consume:%s", item)
	if !w.cat.IsFood(item) || world.Count(w.inv, item) <= 0 {
		return fmt.Errorf("cannot eat %s", item)
	}
	w.self.Held = item
	w.takeLocked(item, 1)
	w.self.Food = min(20, w.self.Food+w.cat.FoodValue(item))
	w.self.Health = math.Min(20, w.self.Health+4)
	return nil
}

func (w *World) Attack(ctx context.Context, entityID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("attack:%s", entityID)
	for i, e := range w.entities {
		if e.ID != entityID {
			continue
		}
		if e.Pos.Dist(w.self.Pos) > 4 {
			return fmt.Errorf("%s out of melee range", entityID)
		}
		w.entityHP[e.ID] -= 1 + w.cat.WeaponScore(w.self.Held)
		if w.entityHP[e.ID] <= 0 {
			delete(w.entityHP, e.ID)
			w.entities = append(w.entities[:i], w.entities[i+1:]...)
		}
		return nil
	}
	return fmt.Errorf("no entity %s", entityID)
}

func (w *World) standableLocked(pos world.Vec3) bool {
	feet := w.blockLocked(pos)
	head := w.blockLocked(pos.Up())
	return feet.Passable() && head.Passable()
}

func (w *World) groundedLocked(pos world.Vec3) bool {
	below := w.blockLocked(pos.Down())
	return below.Solid || below.IsWater()
}

func (w *World) PathfindTo(ctx context.Context, goal world.Goal, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hook := w.BeforePathfind; hook != nil {
		if err := hook(w, goal); err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.record("path %s r=%.1f", goal.Pos, goal.Range)
	w.paths = append(w.paths, goal)
	w.now = w.now.Add(w.Tick)
	if w.PathfindFailures > 0 {
		w.PathfindFailures--
		w.mu.Unlock()
		return world.Errorf(world.KindUnreachable, "pathfind", "no path to %s", goal.Pos)
	}
	if w.Unreachable[goal.Pos] {
		w.mu.Unlock()
		return world.Errorf(world.KindUnreachable, "pathfind", "no path to %s", goal.Pos)
	}
	dest, ok := w.destinationLocked(goal)
	if !ok {
		w.mu.Unlock()
		return world.Errorf(world.KindUnreachable, "pathfind", "no standable cell near %s", goal.Pos)
	}
	w.self.Pos = dest
	w.pickupLocked()
	hook := w.AfterPathfind
	w.mu.Unlock()
	if hook != nil {
		hook(w)
	}
	return nil
}

func (w *World) destinationLocked(goal world.Goal) (world.Vec3, bool) {
	if goal.Range <= 0 {
		return goal.Pos, w.standableLocked(goal.Pos)
	}
	if w.self.Pos.Dist(goal.Pos) <= goal.Range && w.standableLocked(w.self.Pos) {
		return w.self.Pos, true
	}
	r := int(math.Ceil(goal.Range))
	var best world.Vec3
	found, bestGrounded := false, false
	bestDist := math.MaxFloat64
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				c := goal.Pos.Add(world.V(dx, dy, dz))
				if c.Dist(goal.Pos) > goal.Range || !w.standableLocked(c) {
					continue
				}
				g := w.groundedLocked(c)
				d := c.Dist(w.self.Pos)
				if !found || (g && !bestGrounded) || (g == bestGrounded && d < bestDist) {
					best, bestDist, bestGrounded, found = c, d, g, true
				}
			}
		}
	}
	return best, found
}

func (w *World) StopNavigation() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
}

func (w *World) LookAt(ctx context.Context, pos world.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.facing = world.DirectionTo(w.self.Pos, pos).Vec()
	return nil
}

func (w *World) Control(ctx context.Context, control string, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record("control:%s=%v", control, on)
	w.controls[control] = on
	if control == world.ControlForward && !on {
		w.walk = 0
	}
	return nil
}

func (w *World) WaitTick(ctx context.Context) error {
	return w.Clock().Sleep(ctx, w.Tick)
}

func (w *World) HealthEvents() <-chan world.HealthEvent { return w.health }

func (w *World) Catalog() *catalogs.Catalog { return w.cat }

func (w *World) Clock() world.Clock { return fakeClock{w: w} }

type fakeClock struct{ w *World }

func (c fakeClock) Now() time.Time { return c.w.Now() }

// Sleep advances fake time in tick-sized steps, running physics each step.
func (c fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w := c.w
	w.mu.Lock()
	defer w.mu.Unlock()
	for left := d; left > 0; left -= w.Tick {
		step := min(left, w.Tick)
		w.now = w.now.Add(step)
		w.physicsLocked()
	}
	return nil
}

func (w *World) physicsLocked() {
	pos := w.self.Pos
	inWater := w.blockLocked(pos).IsWater() || w.blockLocked(pos.Up()).IsWater()
	switch {
	case w.controls[world.ControlJump] && inWater && !w.NoSwim:
		if w.blockLocked(pos.Up().Up()).Passable() {
			w.self.Pos = pos.Up()
		}
	case !inWater && !w.blockLocked(pos.Down()).Solid && pos.Y > -64:
		w.self.Pos = pos.Down()
	}
	if w.controls[world.ControlForward] && w.facing != (world.Vec3{}) {
		w.walk += 0.2
		if w.walk >= 1 {
			w.walk = 0
			next := w.self.Pos.Add(w.facing)
			if w.standableLocked(next) {
				w.self.Pos = next
			}
		}
	}
	w.pickupLocked()
}

func (w *World) pickupLocked() {
	kept := w.entities[:0]
	for _, e := range w.entities {
		if e.IsDrop() && e.Pos.Dist(w.self.Pos) <= 1.5 {
			w.giveLocked(e.Item, max(1, e.Count))
			continue
		}
		kept = append(kept, e)
	}
	w.entities = kept
}

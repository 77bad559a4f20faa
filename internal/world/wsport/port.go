// Package wsport implements world.Port over the world server's websocket
// protocol: OBS snapshots answer reads, CALL/RESULT pairs carry primitives.
package wsport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/protocol"
	"voxelhand.ai/internal/world"
)

type Config struct {
	URL       string
	AgentName string
	Token     string
	// CallTimeout bounds every CALL except PATHFIND, which adds its own
	// navigation timeout on top.
	CallTimeout time.Duration
	// Catalog is used until the server sends its own.
	Catalog *catalogs.Catalog
	Logger  *log.Logger
}

type Port struct {
	cfg    Config
	logger *log.Logger
	clock  world.SystemClock

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	connected bool
	lastErr   string

	conn    *websocket.Conn
	writeMu sync.Mutex

	agentID     string
	resumeToken string
	welcome     protocol.WelcomeMsg

	catalog atomic.Pointer[catalogs.Catalog]

	obs     protocol.ObsMsg
	obsTick uint64
	// tickCh is closed and replaced on every OBS.
	tickCh chan struct{}

	seq     atomic.Uint64
	pending map[string]chan protocol.ResultMsg

	health chan world.HealthEvent
}

func New(cfg Config) *Port {
	if cfg.AgentName == "" {
		cfg.AgentName = "voxelhand"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	p := &Port{
		cfg:     cfg,
		logger:  cfg.Logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		tickCh:  make(chan struct{}),
		pending: map[string]chan protocol.ResultMsg{},
		health:  make(chan world.HealthEvent, 64),
	}
	if cfg.Catalog != nil {
		p.catalog.Store(cfg.Catalog)
	} else {
		p.catalog.Store(catalogs.Default())
	}
	return p
}

func (p *Port) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Start connects in the background and keeps reconnecting until Close.
func (p *Port) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

func (p *Port) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.disconnect()
		p.startOnce.Do(func() { close(p.done) })
		<-p.done
	})
}

func (p *Port) disconnect() {
	p.mu.Lock()
	c := p.conn
	p.conn = nil
	p.connected = false
	p.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

type Status struct {
	Connected     bool   `json:"connected"`
	AgentID       string `json:"agent_id,omitempty"`
	LastObsTick   uint64 `json:"last_obs_tick"`
	CatalogDigest string `json:"catalog_digest"`
	LastError     string `json:"last_error,omitempty"`
}

func (p *Port) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Status{
		Connected:     p.connected,
		AgentID:       p.agentID,
		LastObsTick:   p.obsTick,
		CatalogDigest: p.catalog.Load().Digest,
		LastError:     p.lastErr,
	}
}

func (p *Port) run() {
	defer close(p.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-p.stop:
			p.disconnect()
			return
		default:
		}

		err := p.connectAndReadLoop()
		p.failPending("connection lost")
		if err == nil {
			return
		}
		p.mu.Lock()
		p.connected = false
		p.lastErr = err.Error()
		p.mu.Unlock()
		p.logf("world ws disconnected err=%v retry_in=%s", err, backoff)
		select {
		case <-p.stop:
			p.disconnect()
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

func (p *Port) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(p.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       p.cfg.AgentName,
		Capabilities: protocol.HelloCapabilities{
			HealthEvents: true,
			MaxQueue:     64,
		},
	}
	p.mu.RLock()
	token := strings.TrimSpace(p.resumeToken)
	p.mu.RUnlock()
	if token == "" {
		token = strings.TrimSpace(p.cfg.Token)
	}
	if token != "" {
		hello.Auth = &protocol.HelloAuth{Token: token}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	p.mu.Lock()
	p.conn = conn
	p.lastErr = ""
	p.mu.Unlock()

	for {
		select {
		case <-p.stop:
			_ = conn.Close()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			select {
			case <-p.stop:
				return nil
			default:
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if base.ProtocolVersion != "" && !protocol.IsSupportedVersion(base.ProtocolVersion) {
			p.logf("world ws unsupported protocol_version=%s type=%s", base.ProtocolVersion, base.Type)
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			p.mu.Lock()
			p.welcome = w
			p.agentID = w.AgentID
			p.resumeToken = w.ResumeToken
			p.connected = true
			p.mu.Unlock()
			p.logf("world ws welcome agent_id=%s tick_rate=%d", w.AgentID, w.WorldParams.TickRateHz)

		case protocol.TypeCatalog:
			var c protocol.CatalogMsg
			if err := json.Unmarshal(msg, &c); err != nil {
				continue
			}
			cat, err := catalogs.Parse(c.Data)
			if err != nil {
				p.logf("world ws catalog name=%s rejected err=%v", c.Name, err)
				continue
			}
			p.catalog.Store(cat)
			p.logf("world ws catalog name=%s digest=%s", c.Name, cat.Digest)

		case protocol.TypeObs:
			var o protocol.ObsMsg
			if err := json.Unmarshal(msg, &o); err != nil {
				continue
			}
			p.mu.Lock()
			p.obs = o
			p.obsTick = o.Tick
			if o.AgentID != "" {
				p.agentID = o.AgentID
			}
			close(p.tickCh)
			p.tickCh = make(chan struct{})
			p.mu.Unlock()

		case protocol.TypeResult:
			var r protocol.ResultMsg
			if err := json.Unmarshal(msg, &r); err != nil {
				continue
			}
			p.mu.Lock()
			ch := p.pending[r.ID]
			delete(p.pending, r.ID)
			p.mu.Unlock()
			if ch != nil {
				ch <- r
			}

		case protocol.TypeEvent:
			var e protocol.EventMsg
			if err := json.Unmarshal(msg, &e); err != nil || e.Event != protocol.EventHealth {
				continue
			}
			select {
			case p.health <- world.HealthEvent{At: p.clock.Now(), Health: e.Health, Delta: e.Delta}:
			default:
				p.logf("world ws health event dropped tick=%d", e.Tick)
			}
		}
	}
}

func (p *Port) failPending(msg string) {
	p.mu.Lock()
	pending := p.pending
	p.pending = map[string]chan protocol.ResultMsg{}
	p.mu.Unlock()
	for id, ch := range pending {
		ch <- protocol.ResultMsg{ID: id, Code: protocol.ErrInternal, Message: msg}
	}
}

func (p *Port) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.mu.RLock()
	conn := p.conn
	p.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// call sends one primitive and waits for its RESULT. Navigation codes map
// to E_UNREACHABLE; every other rejection is E_PRIMITIVE.
func (p *Port) call(ctx context.Context, op string, args any, timeout time.Duration, out any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return world.Wrap(world.KindBadRequest, op, err)
	}
	id := fmt.Sprintf("c%d", p.seq.Add(1))
	ch := make(chan protocol.ResultMsg, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	if err := p.writeJSON(protocol.CallMsg{
		Type:            protocol.TypeCall,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Op:              op,
		Args:            raw,
	}); err != nil {
		return world.Wrap(world.KindPrimitive, op, err)
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return world.Errorf(world.KindPrimitive, op, "no result after %s", timeout)
	case r := <-ch:
		if !r.OK {
			kind := world.KindPrimitive
			if protocol.IsNavigationCode(r.Code) {
				kind = world.KindUnreachable
			}
			return world.Errorf(kind, op, "%s: %s", r.Code, r.Message)
		}
		if out != nil && len(r.Data) > 0 {
			if err := json.Unmarshal(r.Data, out); err != nil {
				return world.Wrap(world.KindPrimitive, op, fmt.Errorf("decode result: %w", err))
			}
		}
		return nil
	}
}

// latest returns the newest OBS, waiting briefly for the first one.
func (p *Port) latest(ctx context.Context) (protocol.ObsMsg, error) {
	p.mu.RLock()
	o, tick, ch := p.obs, p.obsTick, p.tickCh
	p.mu.RUnlock()
	if tick != 0 {
		return o, nil
	}
	t := time.NewTimer(2 * time.Second)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return protocol.ObsMsg{}, ctx.Err()
	case <-t.C:
		return protocol.ObsMsg{}, world.Errorf(world.KindPrimitive, "obs", "no observation yet")
	case <-ch:
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.obs, nil
}

func (p *Port) Self(ctx context.Context) (world.SelfState, error) {
	o, err := p.latest(ctx)
	if err != nil {
		return world.SelfState{}, err
	}
	return world.SelfState{
		Pos:       world.FromArray(o.Self.Pos),
		Health:    o.Self.HP,
		Food:      o.Self.Food,
		Oxygen:    o.Self.Oxygen,
		Held:      o.Equipment.MainHand,
		Armor:     append([]string(nil), o.Equipment.Armor...),
		TimeOfDay: o.TimeOfDay,
	}, nil
}

func (p *Port) Inventory(ctx context.Context) ([]world.Item, error) {
	o, err := p.latest(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]world.Item, 0, len(o.Inventory))
	for _, s := range o.Inventory {
		out = append(out, world.Item{Name: s.Item, Count: s.Count, Slot: s.Slot, Durability: s.Durability})
	}
	return out, nil
}

func (p *Port) Entities(ctx context.Context) ([]world.Entity, error) {
	o, err := p.latest(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]world.Entity, 0, len(o.Entities))
	for _, e := range o.Entities {
		out = append(out, world.Entity{
			ID:      e.ID,
			Type:    e.Type,
			Pos:     world.FromArray(e.Pos),
			Hostile: e.Hostile,
			Item:    e.Item,
			Count:   e.Count,
		})
	}
	return out, nil
}

func toBlock(b protocol.BlockWire) world.Block {
	return world.Block{Pos: world.FromArray(b.Pos), Name: b.Name, Solid: b.Solid}
}

func (p *Port) BlockAt(ctx context.Context, pos world.Vec3) (world.Block, error) {
	var b protocol.BlockWire
	if err := p.call(ctx, protocol.OpBlockAt, protocol.PosArgs{Pos: pos.Array()}, p.cfg.CallTimeout, &b); err != nil {
		return world.Block{}, err
	}
	return toBlock(b), nil
}

func (p *Port) FindBlocks(ctx context.Context, q world.BlockQuery) ([]world.Block, error) {
	var bs []protocol.BlockWire
	args := protocol.FindBlocksArgs{
		Names:       q.Names,
		AnySolid:    q.AnySolid,
		Center:      q.Center.Array(),
		MaxDistance: q.MaxDistance,
		Limit:       q.Limit,
	}
	if err := p.call(ctx, protocol.OpFindBlocks, args, p.cfg.CallTimeout, &bs); err != nil {
		return nil, err
	}
	out := make([]world.Block, 0, len(bs))
	for _, b := range bs {
		out = append(out, toBlock(b))
	}
	return out, nil
}

func (p *Port) Dig(ctx context.Context, pos world.Vec3) error {
	return p.call(ctx, protocol.OpDig, protocol.PosArgs{Pos: pos.Array()}, p.cfg.CallTimeout, nil)
}

func (p *Port) Place(ctx context.Context, ref world.Vec3, face world.Vec3) error {
	return p.call(ctx, protocol.OpPlace, protocol.PlaceArgs{Ref: ref.Array(), Face: face.Array()}, p.cfg.CallTimeout, nil)
}

func (p *Port) UseOn(ctx context.Context, pos world.Vec3) error {
	return p.call(ctx, protocol.OpUseOn, protocol.PosArgs{Pos: pos.Array()}, p.cfg.CallTimeout, nil)
}

func (p *Port) Equip(ctx context.Context, item string, slot string) error {
	return p.call(ctx, protocol.OpEquip, protocol.EquipArgs{Item: item, Slot: slot}, p.cfg.CallTimeout, nil)
}

func (p *Port) Consume(ctx context.Context, item string) error {
	return p.call(ctx, protocol.OpConsume, protocol.ConsumeArgs{Item: item}, p.cfg.CallTimeout, nil)
}

func (p *Port) Attack(ctx context.Context, entityID string) error {
	return p.call(ctx, protocol.OpAttack, protocol.AttackArgs{EntityID: entityID}, p.cfg.CallTimeout, nil)
}

func (p *Port) PathfindTo(ctx context.Context, goal world.Goal, timeout time.Duration) error {
	args := protocol.PathfindArgs{
		Target:    goal.Pos.Array(),
		Range:     goal.Range,
		TimeoutMS: int(timeout.Milliseconds()),
	}
	err := p.call(ctx, protocol.OpPathfind, args, timeout+p.cfg.CallTimeout, nil)
	if err != nil && ctx.Err() != nil {
		p.StopNavigation()
	}
	return err
}

// StopNavigation resets the server-side goal. It does not wait for a reply.
func (p *Port) StopNavigation() {
	if err := p.writeJSON(protocol.StopMsg{Type: protocol.TypeStop, ProtocolVersion: protocol.Version}); err != nil {
		p.logf("world ws stop err=%v", err)
	}
}

func (p *Port) LookAt(ctx context.Context, pos world.Vec3) error {
	return p.call(ctx, protocol.OpLook, protocol.PosArgs{Pos: pos.Array()}, p.cfg.CallTimeout, nil)
}

func (p *Port) Control(ctx context.Context, control string, on bool) error {
	return p.call(ctx, protocol.OpControl, protocol.ControlArgs{Control: control, On: on}, p.cfg.CallTimeout, nil)
}

// WaitTick returns once an OBS newer than the current one has arrived.
func (p *Port) WaitTick(ctx context.Context) error {
	p.mu.RLock()
	ch := p.tickCh
	p.mu.RUnlock()
	t := time.NewTimer(p.cfg.CallTimeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return world.Errorf(world.KindPrimitive, "wait_tick", "no observation for %s", p.cfg.CallTimeout)
	case <-ch:
		return nil
	}
}

func (p *Port) HealthEvents() <-chan world.HealthEvent { return p.health }

func (p *Port) Catalog() *catalogs.Catalog { return p.catalog.Load() }

func (p *Port) Clock() world.Clock { return p.clock }

var _ world.Port = (*Port)(nil)

package wsport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelhand.ai/internal/protocol"
	"voxelhand.ai/internal/world"
)

// fakeWorld is a minimal world server: it answers HELLO, streams OBS every
// few milliseconds and replies to CALLs from a table.
type fakeWorld struct {
	t *testing.T

	mu    sync.Mutex
	hello protocol.HelloMsg
	calls []protocol.CallMsg
	stops int

	// senders carries the serialized writer of the live connection.
	senders chan func(any)
}

func newFakeWorld(t *testing.T) (*fakeWorld, *httptest.Server) {
	t.Helper()
	fw := &fakeWorld{t: t, senders: make(chan func(any), 4)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fw.serve(conn)
	}))
	t.Cleanup(srv.Close)
	return fw, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func (fw *fakeWorld) serve(conn *websocket.Conn) {
	defer conn.Close()
	var writeMu sync.Mutex
	send := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(v)
	}

	var hello protocol.HelloMsg
	if err := conn.ReadJSON(&hello); err != nil {
		return
	}
	fw.mu.Lock()
	fw.hello = hello
	fw.mu.Unlock()
	fw.senders <- send

	send(protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, AgentID: "A1", ResumeToken: "resume_1"})
	send(protocol.CatalogMsg{Type: protocol.TypeCatalog, ProtocolVersion: protocol.Version, Name: "action_core", Digest: "d1", Data: json.RawMessage(`{"foods":{"golden_carrot":14}}`)})

	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := uint64(0)
		tk := time.NewTicker(10 * time.Millisecond)
		defer tk.Stop()
		for {
			select {
			case <-done:
				return
			case <-tk.C:
			}
			tick++
			send(protocol.ObsMsg{
				Type:            protocol.TypeObs,
				ProtocolVersion: protocol.Version,
				Tick:            tick,
				AgentID:         "A1",
				Self:            protocol.SelfObs{Pos: [3]int{1, 64, -2}, HP: 18, Food: 20},
				Inventory:       []protocol.ItemStack{{Item: "stone_pickaxe", Count: 1, Durability: 0.5}, {Item: "cobblestone", Count: 12, Slot: 1}},
				Equipment:       protocol.EquipmentObs{MainHand: "stone_pickaxe"},
				Entities:        []protocol.EntityObs{{ID: "e1", Type: "zombie", Pos: [3]int{4, 64, -2}, Hostile: true}},
			})
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, _ := protocol.DecodeBase(msg)
		switch base.Type {
		case protocol.TypeStop:
			fw.mu.Lock()
			fw.stops++
			fw.mu.Unlock()
		case protocol.TypeCall:
			var c protocol.CallMsg
			_ = json.Unmarshal(msg, &c)
			fw.mu.Lock()
			fw.calls = append(fw.calls, c)
			fw.mu.Unlock()
			send(fw.reply(c))
		}
	}
}

func (fw *fakeWorld) reply(c protocol.CallMsg) protocol.ResultMsg {
	r := protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, ID: c.ID, OK: true}
	switch c.Op {
	case protocol.OpBlockAt:
		var a protocol.PosArgs
		_ = json.Unmarshal(c.Args, &a)
		r.Data, _ = json.Marshal(protocol.BlockWire{Pos: a.Pos, Name: "iron_ore", Solid: true})
	case protocol.OpFindBlocks:
		r.Data, _ = json.Marshal([]protocol.BlockWire{{Pos: [3]int{2, 60, 0}, Name: "iron_ore", Solid: true}, {Pos: [3]int{3, 60, 0}, Name: "iron_ore", Solid: true}})
	case protocol.OpDig:
		r.OK, r.Code, r.Message = false, protocol.ErrStale, "block changed"
	case protocol.OpPathfind:
		r.OK, r.Code, r.Message = false, protocol.ErrNoPath, "no path"
	}
	return r
}

func (fw *fakeWorld) pushHealth(health, delta float64) {
	send := <-fw.senders
	fw.senders <- send
	send(protocol.EventMsg{Type: protocol.TypeEvent, ProtocolVersion: protocol.Version, Event: protocol.EventHealth, Tick: 1, Health: health, Delta: delta})
}

func startPort(t *testing.T) (*Port, *fakeWorld) {
	t.Helper()
	fw, srv := newFakeWorld(t)
	p := New(Config{URL: wsURL(srv), AgentName: "tester", CallTimeout: 2 * time.Second})
	p.Start()
	t.Cleanup(p.Close)

	deadline := time.Now().Add(3 * time.Second)
	for !p.Status().Connected || p.Status().LastObsTick == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("port never connected: %+v", p.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	return p, fw
}

func TestHandshakeAndObservation(t *testing.T) {
	p, fw := startPort(t)
	ctx := context.Background()

	fw.mu.Lock()
	hello := fw.hello
	fw.mu.Unlock()
	if hello.Type != protocol.TypeHello || hello.AgentName != "tester" || !hello.Capabilities.HealthEvents {
		t.Fatalf("hello = %+v", hello)
	}

	self, err := p.Self(ctx)
	if err != nil {
		t.Fatalf("Self: %v", err)
	}
	if self.Pos != world.V(1, 64, -2) || self.Health != 18 || self.Held != "stone_pickaxe" {
		t.Fatalf("self = %+v", self)
	}
	inv, err := p.Inventory(ctx)
	if err != nil || world.Count(inv, "cobblestone") != 12 {
		t.Fatalf("inventory = %+v err=%v", inv, err)
	}
	ents, err := p.Entities(ctx)
	if err != nil || len(ents) != 1 || !ents[0].Hostile || ents[0].Pos != world.V(4, 64, -2) {
		t.Fatalf("entities = %+v err=%v", ents, err)
	}
	if st := p.Status(); st.AgentID != "A1" {
		t.Fatalf("status = %+v", st)
	}
}

func TestCatalogFromServer(t *testing.T) {
	p, _ := startPort(t)
	deadline := time.Now().Add(2 * time.Second)
	for p.Catalog().FoodValue("golden_carrot") != 14 {
		if time.Now().After(deadline) {
			t.Fatalf("server catalog not applied")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !p.Catalog().IsFood("golden_carrot") {
		t.Fatalf("expected merged food table")
	}
}

func TestCallsAndErrorMapping(t *testing.T) {
	p, fw := startPort(t)
	ctx := context.Background()

	b, err := p.BlockAt(ctx, world.V(5, 60, 5))
	if err != nil {
		t.Fatalf("BlockAt: %v", err)
	}
	if b.Pos != world.V(5, 60, 5) || b.Name != "iron_ore" || !b.Solid {
		t.Fatalf("block = %+v", b)
	}

	bs, err := p.FindBlocks(ctx, world.BlockQuery{Names: []string{"iron_ore"}, Center: world.V(0, 60, 0), MaxDistance: 16, Limit: 8})
	if err != nil || len(bs) != 2 || bs[1].Pos != world.V(3, 60, 0) {
		t.Fatalf("find = %+v err=%v", bs, err)
	}

	if err := p.Dig(ctx, world.V(2, 60, 0)); world.KindOf(err) != world.KindPrimitive {
		t.Fatalf("dig err = %v", err)
	}
	if err := p.PathfindTo(ctx, world.Goal{Pos: world.V(9, 64, 9), Range: 1}, time.Second); world.KindOf(err) != world.KindUnreachable {
		t.Fatalf("pathfind err = %v", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.calls) != 4 {
		t.Fatalf("calls = %d", len(fw.calls))
	}
	var pf protocol.PathfindArgs
	_ = json.Unmarshal(fw.calls[3].Args, &pf)
	if fw.calls[3].Op != protocol.OpPathfind || pf.TimeoutMS != 1000 || pf.Target != [3]int{9, 64, 9} {
		t.Fatalf("pathfind call = %+v", fw.calls[3])
	}
}

func TestWaitTickAndStop(t *testing.T) {
	p, fw := startPort(t)
	ctx := context.Background()

	before := p.Status().LastObsTick
	if err := p.WaitTick(ctx); err != nil {
		t.Fatalf("WaitTick: %v", err)
	}
	if after := p.Status().LastObsTick; after <= before {
		t.Fatalf("tick did not advance: %d -> %d", before, after)
	}

	p.StopNavigation()
	deadline := time.Now().Add(2 * time.Second)
	for {
		fw.mu.Lock()
		n := fw.stops
		fw.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("STOP not received")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := p.WaitTick(cctx); world.KindOf(err) != world.KindAborted {
		t.Fatalf("cancelled WaitTick err = %v", err)
	}
}

func TestHealthEvents(t *testing.T) {
	p, fw := startPort(t)
	fw.pushHealth(15, -3)
	select {
	case ev := <-p.HealthEvents():
		if ev.Health != 15 || ev.Delta != -3 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no health event")
	}
}

func TestCallWithoutConnection(t *testing.T) {
	p := New(Config{URL: "ws://example.invalid"})
	defer p.Close()
	if err := p.Dig(context.Background(), world.V(0, 0, 0)); world.KindOf(err) != world.KindPrimitive {
		t.Fatalf("err = %v", err)
	}
}

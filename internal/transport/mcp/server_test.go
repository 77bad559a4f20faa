package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"voxelhand.ai/internal/agent"
	"voxelhand.ai/internal/executor"
	"voxelhand.ai/internal/persistence/outcomes"
	"voxelhand.ai/internal/world"
)

type stubCore struct {
	calls   []string
	mine    executor.MineRequest
	place   executor.PlaceRequest
	tunnel  executor.TunnelRequest
	aborted int
}

func (c *stubCore) done(kind executor.Kind) executor.Outcome {
	c.calls = append(c.calls, string(kind))
	return executor.Outcome{OperationID: "op1", Kind: kind, Success: true, Counts: map[string]int{}}
}

func (c *stubCore) Mine(_ context.Context, req executor.MineRequest) executor.Outcome {
	c.mine = req
	return c.done(executor.KindMine)
}
func (c *stubCore) DigDown(context.Context, executor.DigDownRequest) executor.Outcome {
	return c.done(executor.KindDigDown)
}
func (c *stubCore) Tunnel(_ context.Context, req executor.TunnelRequest) executor.Outcome {
	c.tunnel = req
	out := c.done(executor.KindTunnel)
	out.Success, out.Reason = false, world.KindHazardBlocked
	return out
}
func (c *stubCore) BranchMine(context.Context, executor.BranchMineRequest) executor.Outcome {
	return c.done(executor.KindBranchMine)
}
func (c *stubCore) Place(_ context.Context, req executor.PlaceRequest) executor.Outcome {
	c.place = req
	return c.done(executor.KindPlace)
}
func (c *stubCore) BuildShelter(context.Context, executor.BuildShelterRequest) executor.Outcome {
	return c.done(executor.KindBuildShelter)
}
func (c *stubCore) DigShelter(context.Context) executor.Outcome {
	return c.done(executor.KindDigShelter)
}
func (c *stubCore) EscapeWater(context.Context) executor.Outcome {
	return c.done(executor.KindEscapeWater)
}
func (c *stubCore) Attack(context.Context, executor.AttackRequest) executor.Outcome {
	return c.done(executor.KindAttack)
}
func (c *stubCore) Abort() { c.aborted++ }
func (c *stubCore) Status(context.Context) agent.Status {
	return agent.Status{Busy: true, Running: &agent.Running{Kind: executor.KindMine, BudgetMs: 60000}}
}

type stubHistory struct{ limit int }

func (h *stubHistory) Recent(_ context.Context, limit int) ([]outcomes.Operation, error) {
	h.limit = limit
	return []outcomes.Operation{{ID: "op0", Kind: "mine", Success: true}}, nil
}

func newTestServer(t *testing.T) (*Server, *stubCore, *stubHistory) {
	t.Helper()
	core, hist := &stubCore{}, &stubHistory{}
	s, err := NewServer(Config{Core: core, History: hist})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, core, hist
}

func call(t *testing.T, s *Server, name string, args map[string]any) (*mcpgo.CallToolResult, string) {
	t.Helper()
	h, ok := s.handlers[name]
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	res, err := h(context.Background(), mcpgo.CallToolRequest{
		Params: mcpgo.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("%s: empty result", name)
	}
	text, ok := mcpgo.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("%s: result is not text", name)
	}
	return res, text.Text
}

func decodeOutcome(t *testing.T, text string) executor.Outcome {
	t.Helper()
	var out executor.Outcome
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		t.Fatalf("decode outcome %q: %v", text, err)
	}
	return out
}

func TestEveryToolRegistered(t *testing.T) {
	s, _, _ := newTestServer(t)
	if len(s.handlers) != len(toolSchemas) {
		t.Fatalf("handlers=%d schemas=%d", len(s.handlers), len(toolSchemas))
	}
	for name := range toolSchemas {
		if _, ok := s.handlers[name]; !ok {
			t.Fatalf("no handler for %s", name)
		}
	}
}

func TestMineDispatches(t *testing.T) {
	s, core, _ := newTestServer(t)
	res, text := call(t, s, toolMine, map[string]any{"material": "iron_ore", "count": 3})
	if res.IsError {
		t.Fatalf("unexpected error result: %s", text)
	}
	if core.mine.Material != "iron_ore" || core.mine.Count != 3 {
		t.Fatalf("request = %+v", core.mine)
	}
	if out := decodeOutcome(t, text); !out.Success || out.Kind != executor.KindMine {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestInvalidArgumentsNeverReachCore(t *testing.T) {
	s, core, _ := newTestServer(t)
	cases := []struct {
		tool string
		args map[string]any
	}{
		{toolMine, map[string]any{"material": "iron_ore", "count": 0}},
		{toolMine, map[string]any{"material": "iron_ore"}},
		{toolMine, map[string]any{"material": "iron_ore", "count": 2, "speed": 9}},
		{toolMine, map[string]any{"material": "iron_ore", "count": 1.5}},
		{toolTunnel, map[string]any{"direction": "up", "length": 4}},
		{toolDigDown, map[string]any{"target_y": "deep"}},
		{toolPlace, map[string]any{"item": "dirt", "target": map[string]any{"x": 1, "y": 2}}},
		{toolDigShelter, map[string]any{"depth": 3}},
	}
	for _, tc := range cases {
		res, text := call(t, s, tc.tool, tc.args)
		if !res.IsError {
			t.Fatalf("%s %v: expected error result", tc.tool, tc.args)
		}
		if out := decodeOutcome(t, text); out.Reason != world.KindBadRequest || out.Success {
			t.Fatalf("%s %v: outcome = %+v", tc.tool, tc.args, out)
		}
	}
	if len(core.calls) != 0 {
		t.Fatalf("core was called: %v", core.calls)
	}
}

func TestPlaceTargetDecoded(t *testing.T) {
	s, core, _ := newTestServer(t)
	_, _ = call(t, s, toolPlace, map[string]any{"item": "torch", "target": map[string]any{"x": 1, "y": 64, "z": -3}})
	if core.place.Target == nil || *core.place.Target != world.V(1, 64, -3) {
		t.Fatalf("place = %+v", core.place)
	}
}

func TestFailedOutcomeIsErrorResult(t *testing.T) {
	s, core, _ := newTestServer(t)
	res, text := call(t, s, toolTunnel, map[string]any{"direction": "east", "length": 8})
	if !res.IsError {
		t.Fatalf("failed outcome should be flagged")
	}
	if core.tunnel.Direction != "east" || core.tunnel.Length != 8 {
		t.Fatalf("tunnel = %+v", core.tunnel)
	}
	if out := decodeOutcome(t, text); out.Reason != world.KindHazardBlocked {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestAbortAndStatus(t *testing.T) {
	s, core, hist := newTestServer(t)
	_, text := call(t, s, toolAbort, nil)
	if core.aborted != 1 {
		t.Fatalf("abort not forwarded")
	}
	var ab struct {
		OK      bool   `json:"ok"`
		Running string `json:"running"`
	}
	if err := json.Unmarshal([]byte(text), &ab); err != nil || !ab.OK || ab.Running != "mine" {
		t.Fatalf("abort result = %s (%v)", text, err)
	}

	_, text = call(t, s, toolStatus, map[string]any{"recent": 5})
	var st struct {
		Busy    bool                 `json:"busy"`
		Running *agent.Running       `json:"running"`
		Recent  []outcomes.Operation `json:"recent"`
	}
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Busy || st.Running == nil || st.Running.BudgetMs != 60000 {
		t.Fatalf("status = %s", text)
	}
	if hist.limit != 5 || len(st.Recent) != 1 {
		t.Fatalf("recent = %+v limit=%d", st.Recent, hist.limit)
	}
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	if res.StatusCode != 200 || string(b) != "ok" {
		t.Fatalf("healthz = %d %q", res.StatusCode, b)
	}
}

func TestNewServerNeedsCore(t *testing.T) {
	if _, err := NewServer(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

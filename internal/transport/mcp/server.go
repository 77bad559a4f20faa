// Package mcp serves the agent's intents as MCP tools over streamable HTTP.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"voxelhand.ai/internal/agent"
	"voxelhand.ai/internal/executor"
	"voxelhand.ai/internal/persistence/outcomes"
	"voxelhand.ai/internal/world"
)

const (
	toolMine         = "mine"
	toolDigDown      = "dig_down"
	toolTunnel       = "dig_tunnel"
	toolBranchMine   = "branch_mine"
	toolPlace        = "place_block"
	toolBuildShelter = "build_shelter"
	toolDigShelter   = "dig_shelter"
	toolEscapeWater  = "escape_water"
	toolAttack       = "attack"
	toolAbort        = "abort"
	toolStatus       = "status"
)

// Intents is the agent surface the tools drive.
type Intents interface {
	Mine(ctx context.Context, req executor.MineRequest) executor.Outcome
	DigDown(ctx context.Context, req executor.DigDownRequest) executor.Outcome
	Tunnel(ctx context.Context, req executor.TunnelRequest) executor.Outcome
	BranchMine(ctx context.Context, req executor.BranchMineRequest) executor.Outcome
	Place(ctx context.Context, req executor.PlaceRequest) executor.Outcome
	BuildShelter(ctx context.Context, req executor.BuildShelterRequest) executor.Outcome
	DigShelter(ctx context.Context) executor.Outcome
	EscapeWater(ctx context.Context) executor.Outcome
	Attack(ctx context.Context, req executor.AttackRequest) executor.Outcome
	Abort()
	Status(ctx context.Context) agent.Status
}

// History serves recent outcomes for the status tool.
type History interface {
	Recent(ctx context.Context, limit int) ([]outcomes.Operation, error)
}

type Config struct {
	Core       Intents
	History    History
	HMACSecret string
	Version    string
	Logger     *log.Logger
}

type Server struct {
	core       Intents
	history    History
	hmacSecret []byte
	replay     *replayGuard
	now        func() time.Time
	logger     *log.Logger

	mcp      *server.MCPServer
	handlers map[string]server.ToolHandlerFunc
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Core == nil {
		return nil, fmt.Errorf("nil core")
	}
	if _, err := schemas(); err != nil {
		return nil, err
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		core:     cfg.Core,
		history:  cfg.History,
		now:      time.Now,
		logger:   cfg.Logger,
		mcp:      server.NewMCPServer("voxelhand", version, server.WithToolCapabilities(false)),
		handlers: map[string]server.ToolHandlerFunc{},
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.hmacSecret = []byte(cfg.HMACSecret)
		s.replay = newReplayGuard(10 * time.Minute)
	}
	s.register()
	return s, nil
}

func (s *Server) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/mcp", s.authenticate(server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))))
	return mux
}

func (s *Server) add(name, description string, h server.ToolHandlerFunc) {
	tool := mcpgo.NewToolWithRawSchema(name, description, json.RawMessage(toolSchemas[name]))
	s.mcp.AddTool(tool, h)
	s.handlers[name] = h
}

func (s *Server) register() {
	s.add(toolMine, "Mine a number of blocks of one material, finishing each vein before searching again.",
		intent(s, toolMine, func(ctx context.Context, req executor.MineRequest) executor.Outcome {
			return s.core.Mine(ctx, req)
		}))
	s.add(toolDigDown, "Dig a staircase down to target_y, turning away from lava.",
		intent(s, toolDigDown, func(ctx context.Context, req executor.DigDownRequest) executor.Outcome {
			return s.core.DigDown(ctx, req)
		}))
	s.add(toolTunnel, "Dig a 1x2 tunnel of the given length in one direction.",
		intent(s, toolTunnel, func(ctx context.Context, req executor.TunnelRequest) executor.Outcome {
			return s.core.Tunnel(ctx, req)
		}))
	s.add(toolBranchMine, "Dig a main tunnel with side branches every interval blocks.",
		intent(s, toolBranchMine, func(ctx context.Context, req executor.BranchMineRequest) executor.Outcome {
			return s.core.BranchMine(ctx, req)
		}))
	s.add(toolPlace, "Place one block, at target or anywhere next to the agent.",
		intent(s, toolPlace, func(ctx context.Context, req executor.PlaceRequest) executor.Outcome {
			return s.core.Place(ctx, req)
		}))
	s.add(toolBuildShelter, "Build a walled and roofed 5x5 shelter around the agent.",
		intent(s, toolBuildShelter, func(ctx context.Context, req executor.BuildShelterRequest) executor.Outcome {
			return s.core.BuildShelter(ctx, req)
		}))
	s.add(toolDigShelter, "Dig down three blocks, hollow out a room and seal the entrance.",
		intent(s, toolDigShelter, func(ctx context.Context, _ struct{}) executor.Outcome {
			return s.core.DigShelter(ctx)
		}))
	s.add(toolEscapeWater, "Get the agent's head out of water: swim up, reach land, or pillar up.",
		intent(s, toolEscapeWater, func(ctx context.Context, _ struct{}) executor.Outcome {
			return s.core.EscapeWater(ctx)
		}))
	s.add(toolAttack, "Fight the nearest entity of a type, or the nearest hostile.",
		intent(s, toolAttack, func(ctx context.Context, req executor.AttackRequest) executor.Outcome {
			return s.core.Attack(ctx, req)
		}))
	s.add(toolAbort, "Stop the running operation at its next step.", s.handleAbort)
	s.add(toolStatus, "Current operation, combat state, threat assessment and recent outcomes.", s.handleStatus)
}

// intent adapts one typed intent into a tool handler: schema check, decode,
// run, and encode the Outcome. Invalid arguments never reach the core.
func intent[T any](s *Server, name string, run func(context.Context, T) executor.Outcome) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		args := req.GetArguments()
		if err := validateArgs(name, args); err != nil {
			return s.badRequest(name, err), nil
		}
		var in T
		if err := req.BindArguments(&in); err != nil {
			return s.badRequest(name, err), nil
		}
		s.logf("mcp intent tool=%s args=%v", name, args)
		return outcomeResult(run(ctx, in)), nil
	}
}

func (s *Server) badRequest(name string, err error) *mcpgo.CallToolResult {
	s.logf("mcp bad request tool=%s err=%v", name, err)
	out := executor.Outcome{
		Kind:    executor.Kind(name),
		Reason:  world.KindBadRequest,
		Message: err.Error(),
		Counts:  map[string]int{},
	}
	b, _ := json.Marshal(out)
	return mcpgo.NewToolResultError(string(b))
}

func outcomeResult(out executor.Outcome) *mcpgo.CallToolResult {
	b, err := json.Marshal(out)
	if err != nil {
		return mcpgo.NewToolResultError(fmt.Sprintf("encode outcome: %v", err))
	}
	res := mcpgo.NewToolResultText(string(b))
	res.IsError = !out.Success
	return res
}

func jsonResult(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

func (s *Server) handleAbort(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if err := validateArgs(toolAbort, req.GetArguments()); err != nil {
		return s.badRequest(toolAbort, err), nil
	}
	st := s.core.Status(ctx)
	s.core.Abort()
	var running executor.Kind
	if st.Running != nil {
		running = st.Running.Kind
	}
	return jsonResult(map[string]any{"ok": true, "running": running})
}

type statusResult struct {
	agent.Status
	Recent []outcomes.Operation `json:"recent,omitempty"`
}

func (s *Server) handleStatus(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := req.GetArguments()
	if err := validateArgs(toolStatus, args); err != nil {
		return s.badRequest(toolStatus, err), nil
	}
	var p struct {
		Recent int `json:"recent"`
	}
	if err := req.BindArguments(&p); err != nil {
		return s.badRequest(toolStatus, err), nil
	}
	out := statusResult{Status: s.core.Status(ctx)}
	if p.Recent > 0 && s.history != nil {
		recent, err := s.history.Recent(ctx, p.Recent)
		if err != nil {
			s.logf("mcp status recent err=%v", err)
		}
		out.Recent = recent
	}
	return jsonResult(out)
}

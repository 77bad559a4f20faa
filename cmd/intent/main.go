package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"voxelhand.ai/internal/agent"
	"voxelhand.ai/internal/executor"
	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world"
	"voxelhand.ai/internal/world/wsport"
)

// intent runs one intent against a world server and prints its Outcome.
//
//	intent -kind mine -material iron_ore -count 8
//	intent -kind dig_tunnel -direction east -length 20
func main() {
	var (
		url          = flag.String("url", "ws://localhost:8080/v1/ws", "world server websocket url")
		name         = flag.String("name", "intent", "agent name")
		token        = flag.String("token", "", "world auth token")
		tuningPath   = flag.String("tuning", "", "tuning yaml (optional)")
		kind         = flag.String("kind", "", "intent kind: mine|dig_down|dig_tunnel|branch_mine|place_block|build_shelter|dig_shelter|escape_water|attack|assess")
		material     = flag.String("material", "", "material for mine/build_shelter")
		count        = flag.Int("count", 1, "block count for mine")
		maxDistance  = flag.Int("max-distance", 0, "search radius for mine (0 = tuning default)")
		targetY      = flag.Int("target-y", 0, "target y for dig_down")
		direction    = flag.String("direction", "", "direction for dig_down/dig_tunnel/branch_mine")
		length       = flag.Int("length", 0, "length for dig_tunnel/branch_mine")
		interval     = flag.Int("interval", 0, "branch interval for branch_mine")
		branchLength = flag.Int("branch-length", 0, "branch length for branch_mine")
		item         = flag.String("item", "", "item for place_block")
		at           = flag.String("at", "", "target x,y,z for place_block (optional)")
		entity       = flag.String("entity", "", "entity type for attack (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[intent] ", log.LstdFlags|log.Lmicroseconds)

	tun := tuning.Defaults()
	if *tuningPath != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			logger.Fatalf("tuning: %v", err)
		}
		tun = t
	}

	port := wsport.New(wsport.Config{URL: *url, AgentName: *name, Token: *token, Logger: logger})
	port.Start()
	defer port.Close()

	deadline := time.Now().Add(10 * time.Second)
	for st := port.Status(); !st.Connected || st.LastObsTick == 0; st = port.Status() {
		if time.Now().After(deadline) {
			logger.Fatalf("world not ready: %+v", st)
		}
		time.Sleep(50 * time.Millisecond)
	}

	core := agent.New(agent.Deps{Port: port, Tuning: tun, Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	// First interrupt asks the operation to stop; the second one exits.
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Printf("interrupt: aborting")
		core.Abort()
		<-sig
		os.Exit(130)
	}()

	var out any
	switch strings.ToLower(strings.TrimSpace(*kind)) {
	case string(executor.KindMine):
		out = core.Mine(ctx, executor.MineRequest{Material: *material, Count: *count, MaxDistance: *maxDistance})
	case string(executor.KindDigDown):
		out = core.DigDown(ctx, executor.DigDownRequest{TargetY: *targetY, Direction: *direction})
	case string(executor.KindTunnel):
		out = core.Tunnel(ctx, executor.TunnelRequest{Direction: *direction, Length: *length})
	case string(executor.KindBranchMine):
		out = core.BranchMine(ctx, executor.BranchMineRequest{Direction: *direction, Length: *length, Interval: *interval, BranchLength: *branchLength})
	case string(executor.KindPlace):
		req := executor.PlaceRequest{Item: *item}
		if *at != "" {
			v, err := parseVec(*at)
			if err != nil {
				logger.Fatalf("bad -at: %v", err)
			}
			req.Target = &v
		}
		out = core.Place(ctx, req)
	case string(executor.KindBuildShelter):
		out = core.BuildShelter(ctx, executor.BuildShelterRequest{Material: *material})
	case string(executor.KindDigShelter):
		out = core.DigShelter(ctx)
	case string(executor.KindEscapeWater):
		out = core.EscapeWater(ctx)
	case string(executor.KindAttack):
		out = core.Attack(ctx, executor.AttackRequest{Entity: *entity})
	case "assess":
		a, err := core.Assess(ctx)
		if err != nil {
			logger.Fatalf("assess: %v", err)
		}
		out = a
	default:
		fmt.Fprintf(os.Stderr, "unknown -kind %q\n", *kind)
		flag.Usage()
		os.Exit(2)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	if o, ok := out.(executor.Outcome); ok && !o.Success {
		os.Exit(1)
	}
}

func parseVec(s string) (world.Vec3, error) {
	var v world.Vec3
	if _, err := fmt.Sscanf(strings.ReplaceAll(s, " ", ""), "%d,%d,%d", &v.X, &v.Y, &v.Z); err != nil {
		return world.Vec3{}, fmt.Errorf("want x,y,z: %w", err)
	}
	return v, nil
}

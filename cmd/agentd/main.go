package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"voxelhand.ai/internal/agent"
	"voxelhand.ai/internal/catalogs"
	"voxelhand.ai/internal/persistence/journal"
	"voxelhand.ai/internal/persistence/outcomes"
	"voxelhand.ai/internal/transport/mcp"
	"voxelhand.ai/internal/tuning"
	"voxelhand.ai/internal/world/wsport"
)

var version = "dev"

func main() {
	var (
		listen      = flag.String("listen", "127.0.0.1:8091", "http listen address for the MCP intent surface")
		worldWSURL  = flag.String("world-ws-url", "ws://127.0.0.1:8080/v1/ws", "world server websocket url")
		agentName   = flag.String("agent-name", "voxelhand", "agent name sent in HELLO")
		worldToken  = flag.String("world-token", "", "world auth token (or set VH_WORLD_TOKEN)")
		hmacSecret  = flag.String("hmac-secret", "", "hmac secret for MCP requests (or set VH_MCP_HMAC_SECRET)")
		tuningPath  = flag.String("tuning", "", "tuning yaml (optional; defaults apply)")
		catalogPath = flag.String("catalog", "", "catalog json overlay (optional; the world server may send its own)")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		noIndex     = flag.Bool("no-index", false, "disable the sqlite outcome index")
		noJournal   = flag.Bool("no-journal", false, "disable the zstd operation journal")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[agentd] ", log.LstdFlags|log.Lmicroseconds)

	if strings.TrimSpace(*hmacSecret) == "" {
		*hmacSecret = strings.TrimSpace(os.Getenv("VH_MCP_HMAC_SECRET"))
	}
	if strings.TrimSpace(*worldToken) == "" {
		*worldToken = strings.TrimSpace(os.Getenv("VH_WORLD_TOKEN"))
	}
	authMode, err := mcpAuthMode(*listen, *hmacSecret, os.Getenv)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	tun := tuning.Defaults()
	if *tuningPath != "" {
		t, err := tuning.Load(*tuningPath)
		if err != nil {
			logger.Fatalf("tuning: %v", err)
		}
		tun = t
	}
	var cat *catalogs.Catalog
	if *catalogPath != "" {
		c, err := catalogs.Load(*catalogPath)
		if err != nil {
			logger.Fatalf("catalog: %v", err)
		}
		cat = c
	}

	port := wsport.New(wsport.Config{
		URL:         *worldWSURL,
		AgentName:   *agentName,
		Token:       *worldToken,
		CallTimeout: 10 * time.Second,
		Catalog:     cat,
		Logger:      logger,
	})
	port.Start()
	defer port.Close()

	var (
		recorders []agent.Recorder
		history   mcp.History
	)
	if !*noIndex {
		idx, err := outcomes.OpenSQLite(filepath.Join(*dataDir, "index", "outcomes.sqlite"), logger)
		if err != nil {
			logger.Fatalf("outcome index: %v", err)
		}
		defer func() {
			st := idx.Stats()
			logger.Printf("outcome index closed drops_op=%d drops_combat=%d write_errors=%d",
				st.DropOperationTotal, st.DropEngagementTotal, st.WriteErrorTotal)
			_ = idx.Close()
		}()
		recorders = append(recorders, idx)
		history = idx
	}
	if !*noJournal {
		j := journal.New(*dataDir, logger)
		defer j.Close()
		recorders = append(recorders, j)
	}

	core := agent.New(agent.Deps{
		Port:      port,
		Tuning:    tun,
		Logger:    logger,
		Recorders: recorders,
	})

	srv, err := mcp.NewServer(mcp.Config{
		Core:       core,
		History:    history,
		HMACSecret: *hmacSecret,
		Version:    version,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("mcp: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go core.Run(ctx)

	httpSrv := &http.Server{
		Addr:              *listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		core.Abort()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Printf("listening on http://%s/mcp world_ws=%s auth_mode=%s data=%s", *listen, *worldWSURL, authMode, *dataDir)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("listen: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// mcpAuthMode reports how the intent surface is protected. A secret is
// mandatory when VH_MCP_REQUIRE_HMAC says so (staging and production
// default to requiring it) and whenever the listener is reachable off-host.
func mcpAuthMode(listen, secret string, getenv func(string) string) (string, error) {
	if secret != "" {
		return "hmac", nil
	}
	required := false
	switch strings.ToLower(strings.TrimSpace(getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		required = true
	}
	if b, err := strconv.ParseBool(strings.TrimSpace(getenv("VH_MCP_REQUIRE_HMAC"))); err == nil {
		required = b
	}
	if required {
		return "", fmt.Errorf("hmac secret required (set -hmac-secret or VH_MCP_HMAC_SECRET)")
	}
	if !loopbackOnly(listen) {
		return "", fmt.Errorf("refusing insecure MCP bind on %q without hmac secret", listen)
	}
	return "none(loopback-only)", nil
}

func loopbackOnly(listen string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(listen))
	if err != nil {
		host = strings.TrimSpace(listen)
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip, err := netip.ParseAddr(strings.Trim(host, "[]"))
	return err == nil && ip.IsLoopback()
}

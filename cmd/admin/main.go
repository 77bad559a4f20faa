package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"voxelhand.ai/internal/persistence/journal"
	"voxelhand.ai/internal/persistence/outcomes"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "recent":
			recentCmd(os.Args[2:])
			return
		case "kinds":
			kindsCmd(os.Args[2:])
			return
		case "combat":
			combatCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		}
	}
	recentCmd(os.Args[1:])
}

func openIndex(fs *flag.FlagSet, args []string) (*outcomes.Index, *int) {
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/outcomes.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "outcomes.sqlite")
	}
	idx, err := outcomes.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return idx, limit
}

func recentCmd(args []string) {
	fs := flag.NewFlagSet("recent", flag.ExitOnError)
	kind := fs.String("kind", "", "only this operation kind")
	failed := fs.Bool("failed", false, "only failed operations")
	idx, limit := openIndex(fs, args)
	defer idx.Close()

	// Filters apply client side over a wider window.
	ops, err := idx.Recent(context.Background(), *limit*4)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	n := 0
	for _, op := range ops {
		if *kind != "" && op.Kind != *kind {
			continue
		}
		if *failed && op.Success {
			continue
		}
		printJSON(op)
		n++
		if n >= *limit {
			break
		}
	}
}

func kindsCmd(args []string) {
	fs := flag.NewFlagSet("kinds", flag.ExitOnError)
	idx, _ := openIndex(fs, args)
	defer idx.Close()

	stats, err := idx.KindStats(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, s := range stats {
		rate := 0.0
		if s.Total > 0 {
			rate = float64(s.Succeeded) / float64(s.Total)
		}
		fmt.Printf("%-14s total=%-5d ok=%-5d rate=%.2f avg_ms=%.0f last_reason=%s\n",
			s.Kind, s.Total, s.Succeeded, rate, s.AvgDurationMs, s.LastReason)
	}
}

func combatCmd(args []string) {
	fs := flag.NewFlagSet("combat", flag.ExitOnError)
	idx, limit := openIndex(fs, args)
	defer idx.Close()

	es, err := idx.RecentEngagements(context.Background(), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, e := range es {
		printJSON(e)
	}
}

func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	typ := fs.String("type", "", "only entries of this type (operation|engagement)")
	_ = fs.Parse(args)

	files := fs.Args()
	if len(files) == 0 {
		dir := filepath.Join(*dataDir, "journal")
		ents, err := os.ReadDir(dir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
		for _, e := range ents {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl.zst") {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(files)
	}
	for _, f := range files {
		entries, err := journal.ReadFile(f)
		if err != nil {
			// The newest hour is still being written by a running agent.
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(f), err)
		}
		for _, e := range entries {
			if *typ != "" && e.Type != *typ {
				continue
			}
			printJSON(e)
		}
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

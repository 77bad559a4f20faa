// Package outcomes indexes finished operations and combat engagements in a
// local SQLite file for status queries and the admin tool.
package outcomes

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelhand.ai/internal/combat"
	"voxelhand.ai/internal/executor"
	"voxelhand.ai/internal/world"
)

type Index struct {
	db     *sql.DB
	logger *log.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropOperation  atomic.Uint64
	dropEngagement atomic.Uint64
	writeErrors    atomic.Uint64
}

type reqKind int

const (
	reqOperation reqKind = iota + 1
	reqEngagement
)

type req struct {
	kind reqKind

	op  executor.Outcome
	eng combat.Engagement
}

// Operation is one indexed Outcome.
type Operation struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Params     json.RawMessage `json:"params,omitempty"`
	Success    bool            `json:"success"`
	Reason     string          `json:"reason,omitempty"`
	Message    string          `json:"message"`
	Counts     map[string]int  `json:"counts,omitempty"`
	Position   world.Vec3      `json:"position"`
	DurationMs int64           `json:"duration_ms"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// KindStat aggregates outcomes of one operation kind.
type KindStat struct {
	Kind          string  `json:"kind"`
	Total         int     `json:"total"`
	Succeeded     int     `json:"succeeded"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	LastReason    string  `json:"last_reason,omitempty"`
}

type Stats struct {
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
	DropOperationTotal  uint64 `json:"drop_operation_total"`
	DropEngagementTotal uint64 `json:"drop_engagement_total"`
	WriteErrorTotal     uint64 `json:"write_error_total"`
}

func OpenSQLite(path string, logger *log.Logger) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer connection plus WAL readers for status queries.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Index{
		db:     db,
		logger: logger,
		ch:     make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

// OpenReader opens an existing index for queries only. No writer runs.
func OpenReader(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Index{db: db}
	s.closed.Store(true)
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS operations (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			success INTEGER NOT NULL,
			reason TEXT NOT NULL,
			message TEXT NOT NULL,
			params_json TEXT NOT NULL,
			counts_json TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			started_ms INTEGER NOT NULL,
			finished_ms INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_operations_started ON operations(started_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_operations_kind ON operations(kind, started_ms);`,
		`CREATE TABLE IF NOT EXISTS combat (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			target TEXT NOT NULL,
			target_id TEXT NOT NULL,
			recommendation TEXT NOT NULL,
			outcome TEXT NOT NULL,
			rounds INTEGER NOT NULL,
			hits INTEGER NOT NULL,
			ate INTEGER NOT NULL,
			start_health REAL NOT NULL,
			end_health REAL NOT NULL,
			started_ms INTEGER NOT NULL,
			finished_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_combat_started ON combat(started_ms);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Index) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Close drains pending writes and closes the database. It is safe to call
// more than once.
func (s *Index) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		if s.ch != nil {
			close(s.ch)
			s.wg.Wait()
		}
		err = s.db.Close()
	})
	return err
}

// RecordOperation queues an Outcome. It never blocks: when the writer falls
// behind the record is dropped and counted.
func (s *Index) RecordOperation(out executor.Outcome) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqOperation, op: out}:
	default:
		s.dropOperation.Add(1)
	}
}

func (s *Index) RecordEngagement(e combat.Engagement) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEngagement, eng: e}:
	default:
		s.dropEngagement.Add(1)
	}
}

func (s *Index) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
		DropOperationTotal:  s.dropOperation.Load(),
		DropEngagementTotal: s.dropEngagement.Load(),
		WriteErrorTotal:     s.writeErrors.Load(),
	}
}

func (s *Index) loop() {
	ctx := context.Background()

	insertOp, _ := s.db.Prepare(`INSERT OR REPLACE INTO operations(id,kind,success,reason,message,params_json,counts_json,x,y,z,started_ms,finished_ms,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertCombat, _ := s.db.Prepare(`INSERT INTO combat(target,target_id,recommendation,outcome,rounds,hits,ate,start_health,end_health,started_ms,finished_ms) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertOp != nil {
			_ = insertOp.Close()
		}
		if insertCombat != nil {
			_ = insertCombat.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
			s.logf("outcomes commit err=%v", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.writeErrors.Add(1)
		s.logf("outcomes write err=%v", err)
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	// Commit when idle too: operations are rare and status reads should see
	// them right away.
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqOperation:
			o := r.op
			if insertOp == nil {
				break
			}
			params, _ := json.Marshal(o.Params)
			counts, _ := json.Marshal(o.Counts)
			raw, _ := json.Marshal(o)
			if _, err := tx.Stmt(insertOp).Exec(
				o.OperationID,
				string(o.Kind),
				boolInt(o.Success),
				string(o.Reason),
				o.Message,
				string(params),
				string(counts),
				o.Position.X, o.Position.Y, o.Position.Z,
				o.StartedAt.UnixMilli(),
				o.FinishedAt.UnixMilli(),
				string(raw),
			); err != nil {
				rollback(err)
				continue
			}
			opCount++

		case reqEngagement:
			e := r.eng
			if insertCombat == nil {
				break
			}
			if _, err := tx.Stmt(insertCombat).Exec(
				e.Target,
				e.TargetID,
				string(e.Recommendation),
				e.Outcome,
				e.Rounds,
				e.Hits,
				e.Ate,
				e.StartHealth,
				e.EndHealth,
				e.StartedAt.UnixMilli(),
				e.FinishedAt.UnixMilli(),
			); err != nil {
				rollback(err)
				continue
			}
			opCount++
		}
		flushIfNeeded()
	}

	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

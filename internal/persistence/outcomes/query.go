package outcomes

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"voxelhand.ai/internal/combat"
)

// Recent returns the newest operations first.
func (s *Index) Recent(ctx context.Context, limit int) ([]Operation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,kind,success,reason,message,params_json,counts_json,x,y,z,started_ms,finished_ms
		FROM operations ORDER BY started_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		var (
			op                Operation
			success           int
			params, counts    string
			startedMs, doneMs int64
		)
		if err := rows.Scan(&op.ID, &op.Kind, &success, &op.Reason, &op.Message, &params, &counts,
			&op.Position.X, &op.Position.Y, &op.Position.Z, &startedMs, &doneMs); err != nil {
			return nil, err
		}
		op.Success = success != 0
		if params != "" && params != "null" {
			op.Params = json.RawMessage(params)
		}
		_ = json.Unmarshal([]byte(counts), &op.Counts)
		op.StartedAt = time.UnixMilli(startedMs).UTC()
		op.FinishedAt = time.UnixMilli(doneMs).UTC()
		op.DurationMs = doneMs - startedMs
		out = append(out, op)
	}
	return out, rows.Err()
}

// KindStats aggregates success rate and duration per operation kind.
func (s *Index) KindStats(ctx context.Context) ([]KindStat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT o.kind, COUNT(*), SUM(o.success), AVG(o.finished_ms - o.started_ms),
			(SELECT l.reason FROM operations l WHERE l.kind = o.kind ORDER BY l.started_ms DESC, l.rowid DESC LIMIT 1)
		FROM operations o GROUP BY o.kind ORDER BY o.kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KindStat
	for rows.Next() {
		var (
			ks     KindStat
			avg    sql.NullFloat64
			reason sql.NullString
		)
		if err := rows.Scan(&ks.Kind, &ks.Total, &ks.Succeeded, &avg, &reason); err != nil {
			return nil, err
		}
		ks.AvgDurationMs = avg.Float64
		ks.LastReason = reason.String
		out = append(out, ks)
	}
	return out, rows.Err()
}

// RecentEngagements returns the newest combat engagements first.
func (s *Index) RecentEngagements(ctx context.Context, limit int) ([]combat.Engagement, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT target,target_id,recommendation,outcome,rounds,hits,ate,start_health,end_health,started_ms,finished_ms
		FROM combat ORDER BY started_ms DESC, seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []combat.Engagement
	for rows.Next() {
		var (
			e                 combat.Engagement
			rec               string
			startedMs, doneMs int64
		)
		if err := rows.Scan(&e.Target, &e.TargetID, &rec, &e.Outcome, &e.Rounds, &e.Hits, &e.Ate,
			&e.StartHealth, &e.EndHealth, &startedMs, &doneMs); err != nil {
			return nil, err
		}
		e.Recommendation = combat.Recommendation(rec)
		e.StartedAt = time.UnixMilli(startedMs).UTC()
		e.FinishedAt = time.UnixMilli(doneMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

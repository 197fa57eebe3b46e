// Package crawljournal keeps a sqlite record of what each crawl run
// actually did, one row per session and per step, so abandoned steps
// can be found and re-run without grepping logs.
package crawljournal

import (
	"context"
	"database/sql"
	"time"
)

const (
	StepAdvanced  = "advanced"
	StepAbandoned = "abandoned"
)

type Journal struct {
	db *sql.DB
}

func NewJournal(db *sql.DB) Journal {
	return Journal{db: db}
}

func (j Journal) StartSession(ctx context.Context, label string, partitionKey int, sid string, startedAt time.Time) (int64, error) {
	res, err := j.db.ExecContext(
		ctx,
		`INSERT INTO sessions (label, partition_key, sid, started_at) VALUES (?, ?, ?, ?)`,
		label, partitionKey, sid, startedAt.Unix(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (j Journal) RecordStep(ctx context.Context, sessionID int64, stepIndex int, status string, attempts int, at time.Time) error {
	_, err := j.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO steps (session_id, step_index, status, attempts, at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, stepIndex, status, attempts, at.Unix(),
	)
	return err
}

func (j Journal) FinishSession(ctx context.Context, sessionID int64, recordsAdded int) error {
	_, err := j.db.ExecContext(
		ctx,
		`UPDATE sessions SET records_added = ? WHERE id = ?`,
		recordsAdded, sessionID,
	)
	return err
}

type SessionSummary struct {
	Label        string
	PartitionKey int
	Sid          string
	StartedAt    time.Time
	RecordsAdded int
	Advanced     int
	Abandoned    int
}

func (j Journal) SessionSummaries(ctx context.Context) ([]SessionSummary, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT
			s.label, s.partition_key, s.sid, s.started_at, s.records_added,
			COALESCE(SUM(CASE WHEN st.status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN st.status = ? THEN 1 ELSE 0 END), 0)
		FROM sessions s
		LEFT JOIN steps st ON st.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at, s.id`,
		StepAdvanced, StepAbandoned,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		var startedAt int64
		err := rows.Scan(
			&s.Label, &s.PartitionKey, &s.Sid, &startedAt, &s.RecordsAdded,
			&s.Advanced, &s.Abandoned,
		)
		if err != nil {
			return nil, err
		}
		s.StartedAt = time.Unix(startedAt, 0)
		out = append(out, s)
	}
	return out, rows.Err()
}

// AbandonedSteps lists the step indexes a session gave up on, for
// targeted re-runs.
func (j Journal) AbandonedSteps(ctx context.Context, sessionID int64) ([]int, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT step_index FROM steps WHERE session_id = ? AND status = ? ORDER BY step_index`,
		sessionID, StepAbandoned,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

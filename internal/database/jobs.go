package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/snarg/meetscribe/internal/transcribe"
)

const jobColumns = `id, model, audio, source, status, phase, progress,
	result, error, error_kind, submitted_at, started_at, finished_at`

// SaveJob upserts a job record. The transcript text is denormalized into its
// own column for full-text search.
func (db *DB) SaveJob(ctx context.Context, rec *transcribe.JobRecord) error {
	var result []byte
	var transcript string
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = b
		transcript = rec.Result.Text
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO transcription_jobs (`+jobColumns+`, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			phase = EXCLUDED.phase,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			error_kind = EXCLUDED.error_kind,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			transcript = EXCLUDED.transcript
	`,
		rec.ID, rec.ModelID, rec.AudioName, rec.Source, string(rec.Status), string(rec.Phase), rec.Progress,
		result, rec.Error, rec.ErrorKind, rec.SubmittedAt, rec.StartedAt, rec.FinishedAt,
		transcript,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", rec.ID, err)
	}
	return nil
}

// GetJob returns one job by id.
func (db *DB) GetJob(ctx context.Context, id string) (*transcribe.JobRecord, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM transcription_jobs WHERE id = $1`, id)
	rec, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, transcribe.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec, nil
}

// ListJobs returns the most recently submitted jobs.
func (db *DB) ListJobs(ctx context.Context, limit int) ([]transcribe.JobRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM transcription_jobs
		ORDER BY submitted_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// SearchJobs runs a full-text query over finished transcripts, best match
// first.
func (db *DB) SearchJobs(ctx context.Context, query string, limit int) ([]transcribe.JobRecord, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM transcription_jobs
		WHERE to_tsvector('simple', transcript) @@ websearch_to_tsquery('simple', $1)
		ORDER BY ts_rank(to_tsvector('simple', transcript), websearch_to_tsquery('simple', $1)) DESC,
			submitted_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

// PurgeJobsOlderThan deletes finished jobs submitted before the retention
// window.
func (db *DB) PurgeJobsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM transcription_jobs
		WHERE finished_at IS NOT NULL AND submitted_at < now() - make_interval(secs => $1)
	`, retention.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// JobCount is one row of a grouped job count.
type JobCount struct {
	Key   string
	Count int64
}

// CountJobs groups jobs by status, or by error kind for failed jobs when
// byErrorKind is set.
func (db *DB) CountJobs(ctx context.Context, byErrorKind bool) ([]JobCount, error) {
	q := `SELECT status, count(*) FROM transcription_jobs GROUP BY status ORDER BY count(*) DESC`
	if byErrorKind {
		q = `SELECT coalesce(nullif(error_kind, ''), 'unknown'), count(*) FROM transcription_jobs
			WHERE status = 'failed' GROUP BY 1 ORDER BY count(*) DESC`
	}
	rows, err := db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []JobCount
	for rows.Next() {
		var c JobCount
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func collectJobs(rows pgx.Rows) ([]transcribe.JobRecord, error) {
	out := []transcribe.JobRecord{}
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*transcribe.JobRecord, error) {
	var rec transcribe.JobRecord
	var status, phase string
	var result []byte
	err := row.Scan(
		&rec.ID, &rec.ModelID, &rec.AudioName, &rec.Source, &status, &phase, &rec.Progress,
		&result, &rec.Error, &rec.ErrorKind, &rec.SubmittedAt, &rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = transcribe.JobStatus(status)
	rec.Phase = transcribe.Phase(phase)
	if len(result) > 0 {
		var r transcribe.Result
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("decode result for %s: %w", rec.ID, err)
		}
		rec.Result = &r
	}
	return &rec, nil
}

var _ transcribe.ResultStore = (*DB)(nil)

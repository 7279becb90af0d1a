package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	// import db drivers
	_ "github.com/lib/pq"
	"github.com/volleyhq/rally/internal/core"
)

// Store defines the interface for all database operations.
type Store interface {
	// CreateRally inserts a new in-flight rally and returns its id.
	CreateRally(ctx context.Context, rally *core.Rally) (int64, error)

	// FinishRally records the terminal outcome of a rally.
	FinishRally(ctx context.Context, id int64, outcome string, rounds int, summary string) error

	// AppendEvent adds one transcript entry to a rally.
	AppendEvent(ctx context.Context, rec *core.RallyEventRecord) error

	// ListRalliesForPR returns all rallies run for a pull request, newest
	// first.
	ListRalliesForPR(ctx context.Context, repoFullName string, prNumber int) ([]core.Rally, error)

	// ListEvents returns a rally's transcript in stream order.
	ListEvents(ctx context.Context, rallyID int64) ([]core.RallyEventRecord, error)
}

type postgresStore struct {
	db *sqlx.DB
}

// NewStore creates a new Store
func NewStore(db *sqlx.DB) Store {
	return &postgresStore{db: db}
}

// CreateRally inserts a new rally record into the database.
func (s *postgresStore) CreateRally(ctx context.Context, rally *core.Rally) (int64, error) {
	query := `
		INSERT INTO rallies (repo_full_name, pr_number, head_sha, reviewer, reviewee, outcome, rounds, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, 'running', 0, '', $6)
		RETURNING id`

	createdAt := rally.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err := s.db.QueryRowContext(ctx, query,
		rally.RepoFullName, rally.PRNumber, rally.HeadSHA, rally.Reviewer, rally.Reviewee, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create rally for %s#%d: %w", rally.RepoFullName, rally.PRNumber, err)
	}
	return id, nil
}

// FinishRally stamps a rally with its outcome and closing summary.
func (s *postgresStore) FinishRally(ctx context.Context, id int64, outcome string, rounds int, summary string) error {
	query := `UPDATE rallies SET outcome = $2, rounds = $3, summary = $4, finished_at = $5 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id, outcome, rounds, summary, time.Now())
	if err != nil {
		return fmt.Errorf("failed to finish rally %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no rally with id %d", id)
	}
	return nil
}

// AppendEvent inserts a single transcript entry for a rally.
func (s *postgresStore) AppendEvent(ctx context.Context, rec *core.RallyEventRecord) error {
	query := `
		INSERT INTO rally_events (rally_id, seq, kind, round, agent, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.RallyID, rec.Seq, rec.Kind, rec.Round, rec.Agent, rec.Payload, createdAt)
	return err
}

// ListRalliesForPR retrieves every rally recorded for a pull request.
func (s *postgresStore) ListRalliesForPR(ctx context.Context, repoFullName string, prNumber int) ([]core.Rally, error) {
	query := `
		SELECT id, repo_full_name, pr_number, head_sha, reviewer, reviewee, outcome, rounds, summary, created_at, finished_at
		FROM rallies
		WHERE repo_full_name = $1 AND pr_number = $2
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, repoFullName, prNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to list rallies for PR %s#%d: %w", repoFullName, prNumber, err)
	}
	defer rows.Close()

	var rallies []core.Rally
	for rows.Next() {
		var r core.Rally
		var finishedAt sql.NullTime
		err := rows.Scan(&r.ID, &r.RepoFullName, &r.PRNumber, &r.HeadSHA, &r.Reviewer, &r.Reviewee,
			&r.Outcome, &r.Rounds, &r.Summary, &r.CreatedAt, &finishedAt)
		if err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			r.FinishedAt = finishedAt.Time
		}
		rallies = append(rallies, r)
	}
	return rallies, rows.Err()
}

// ListEvents retrieves a rally's transcript ordered by sequence number.
func (s *postgresStore) ListEvents(ctx context.Context, rallyID int64) ([]core.RallyEventRecord, error) {
	query := `
		SELECT id, rally_id, seq, kind, round, agent, payload, created_at
		FROM rally_events
		WHERE rally_id = $1
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, rallyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no transcript found for rally %d", rallyID)
		}
		return nil, fmt.Errorf("failed to list events for rally %d: %w", rallyID, err)
	}
	defer rows.Close()

	var events []core.RallyEventRecord
	for rows.Next() {
		var e core.RallyEventRecord
		err := rows.Scan(&e.ID, &e.RallyID, &e.Seq, &e.Kind, &e.Round, &e.Agent, &e.Payload, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

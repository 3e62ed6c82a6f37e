package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fitroom/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TryOnRepository handles database operations for try-on sessions and their
// append-only result rows.
type TryOnRepository struct {
	db *pgxpool.Pool
}

// NewTryOnRepository creates a new TryOnRepository.
func NewTryOnRepository(db *pgxpool.Pool) *TryOnRepository {
	return &TryOnRepository{db: db}
}

// CreateSession persists the grouping row for one submitted job.
func (r *TryOnRepository) CreateSession(ctx context.Context, s *domain.TryOnSession) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	query := `
		INSERT INTO tryon_sessions (id, store_id, category, model_url, dress_url, variants, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	_, err := r.db.Exec(ctx, query, s.ID, s.StoreID, s.Category, s.ModelURL, s.DressURL, s.Variants)
	if err != nil {
		return fmt.Errorf("failed to create try-on session: %w", err)
	}
	return nil
}

// FindSessionByID returns a session by id, or (nil, nil).
func (r *TryOnRepository) FindSessionByID(ctx context.Context, id string) (*domain.TryOnSession, error) {
	query := `
		SELECT id, store_id, category, model_url, dress_url, variants, created_at
		FROM tryon_sessions WHERE id = $1
	`
	var s domain.TryOnSession
	err := r.db.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.StoreID, &s.Category, &s.ModelURL, &s.DressURL, &s.Variants, &s.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan try-on session: %w", err)
	}
	return &s, nil
}

// CreateResult inserts the pending result row for one expected output variant.
// Created strictly after the credit reservation, so a crash between the two
// never leaves a charge without an auditable row ahead of it.
func (r *TryOnRepository) CreateResult(ctx context.Context, res *domain.TryOnResult) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	if res.Status == "" {
		res.Status = domain.ResultCreated
	}
	query := `
		INSERT INTO tryon_results (id, store_id, session_id, task_id, result_id, status, file_url, error_msg, refunded, cost, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, FALSE, $7, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query, res.ID, res.StoreID, res.SessionID, res.TaskID, res.ResultID, res.Status, res.Cost)
	if err != nil {
		return fmt.Errorf("failed to create try-on result: %w", err)
	}
	return nil
}

// MarkResultRunning records the vendor task id and moves the row to RUNNING.
// Terminal rows are never touched.
func (r *TryOnRepository) MarkResultRunning(ctx context.Context, id, taskID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE tryon_results SET status = $2, task_id = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('SUCCESS', 'FAILED')
	`, id, domain.ResultRunning, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark result running: %w", err)
	}
	return nil
}

// MarkResultSuccess finalizes a row with the durable asset URL. The file_url
// guard makes duplicate processing of the same terminal event a no-op; the
// returned bool reports whether this call won.
func (r *TryOnRepository) MarkResultSuccess(ctx context.Context, id, resultID, fileURL string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE tryon_results SET status = $2, result_id = $3, file_url = $4, updated_at = NOW()
		WHERE id = $1 AND file_url IS NULL AND status NOT IN ('SUCCESS', 'FAILED')
	`, id, domain.ResultSuccess, resultID, fileURL)
	if err != nil {
		return false, fmt.Errorf("failed to mark result success: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkResultFailed records the terminal failure. Rows already terminal are left
// alone; the returned bool reports whether the transition happened.
func (r *TryOnRepository) MarkResultFailed(ctx context.Context, id, errorMsg string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE tryon_results SET status = $2, error_msg = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('SUCCESS', 'FAILED')
	`, id, domain.ResultFailed, errorMsg)
	if err != nil {
		return false, fmt.Errorf("failed to mark result failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RefundResult returns the row's recorded cost to the owning store, at most
// once. The refunded flag is checked and flipped inside one transaction with
// the row locked, so invoking this from the failure handler, the sweep, and a
// replayed reconciliation all net to a single balance change. Returns whether
// a refund was applied.
func (r *TryOnRepository) RefundResult(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin refund transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var storeID string
	var refunded bool
	var cost int
	err = tx.QueryRow(ctx,
		`SELECT store_id, refunded, cost FROM tryon_results WHERE id = $1 FOR UPDATE`,
		id,
	).Scan(&storeID, &refunded, &cost)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, fmt.Errorf("refund: result row %s not found", id)
		}
		return false, fmt.Errorf("failed to lock result row: %w", err)
	}

	if refunded || cost == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE tryon_results SET refunded = TRUE, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to flip refunded flag: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE stores SET credits = credits + $2, updated_at = NOW() WHERE id = $1`,
		storeID, cost,
	)
	if err != nil {
		return false, fmt.Errorf("failed to return credits: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit refund transaction: %w", err)
	}
	return true, nil
}

// ListResultsBySession returns all result rows of a session, newest first.
func (r *TryOnRepository) ListResultsBySession(ctx context.Context, sessionID string) ([]*domain.TryOnResult, error) {
	query := `
		SELECT id, store_id, session_id, task_id, result_id, status, file_url, error_msg, refunded, cost, created_at, updated_at
		FROM tryon_results WHERE session_id = $1 ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*domain.TryOnResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	if results == nil {
		results = []*domain.TryOnResult{}
	}
	return results, nil
}

// FindLatestSuccess returns the newest SUCCESS row of a session, or (nil, nil).
func (r *TryOnRepository) FindLatestSuccess(ctx context.Context, sessionID string) (*domain.TryOnResult, error) {
	query := `
		SELECT id, store_id, session_id, task_id, result_id, status, file_url, error_msg, refunded, cost, created_at, updated_at
		FROM tryon_results
		WHERE session_id = $1 AND status = 'SUCCESS'
		ORDER BY created_at DESC LIMIT 1
	`
	res, err := scanResult(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// ListStaleNonTerminal returns non-terminal rows last updated before cutoff.
// Fed to the reconciliation sweep to time out jobs orphaned by a restart.
func (r *TryOnRepository) ListStaleNonTerminal(ctx context.Context, cutoff time.Time, limit int) ([]*domain.TryOnResult, error) {
	query := `
		SELECT id, store_id, session_id, task_id, result_id, status, file_url, error_msg, refunded, cost, created_at, updated_at
		FROM tryon_results
		WHERE status NOT IN ('SUCCESS', 'FAILED') AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale results: %w", err)
	}
	defer rows.Close()

	var results []*domain.TryOnResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func scanResult(row pgx.Row) (*domain.TryOnResult, error) {
	var res domain.TryOnResult
	err := row.Scan(
		&res.ID, &res.StoreID, &res.SessionID, &res.TaskID, &res.ResultID,
		&res.Status, &res.FileURL, &res.ErrorMsg, &res.Refunded, &res.Cost,
		&res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan try-on result: %w", err)
	}
	return &res, nil
}

package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"provisioner/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{
		pool: pool,
	}, nil
}

// Migrate creates the tables if they do not exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	slog.Info("✅ Database schema ready")
	return nil
}

const workflowColumns = `
	id, idempotency_key, fingerprint, organizer, request,
	completed_step, status, asset_id, app_id, app_address,
	failed_step, last_error, created_at, updated_at`

// CreateWorkflow inserts a new workflow; the idempotency key must be unused
func (r *PostgresRepository) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	requestJSON, err := json.Marshal(wf.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	query := `INSERT INTO workflows (` + workflowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.pool.Exec(ctx, query,
		wf.ID,
		wf.IdempotencyKey,
		wf.Fingerprint,
		wf.Organizer,
		requestJSON,
		int16(wf.Completed),
		string(wf.Status),
		int64(wf.Artifacts.AssetID),
		int64(wf.Artifacts.AppID),
		wf.Artifacts.AppAddress,
		int16(wf.FailedStep),
		wf.LastError,
		wf.CreatedAt,
		wf.UpdatedAt,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	return nil
}

// SaveWorkflow persists the cursor of an existing workflow
func (r *PostgresRepository) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	query := `
		UPDATE workflows SET
			completed_step = $2, status = $3, asset_id = $4, app_id = $5,
			app_address = $6, failed_step = $7, last_error = $8, updated_at = $9
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		wf.ID,
		int16(wf.Completed),
		string(wf.Status),
		int64(wf.Artifacts.AssetID),
		int64(wf.Artifacts.AppID),
		wf.Artifacts.AppAddress,
		int16(wf.FailedStep),
		wf.LastError,
		wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// GetWorkflow retrieves a workflow by id
func (r *PostgresRepository) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`
	return r.getWorkflow(ctx, query, id)
}

// GetWorkflowByKey retrieves a workflow by idempotency key
func (r *PostgresRepository) GetWorkflowByKey(ctx context.Context, idempotencyKey string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE idempotency_key = $1`
	return r.getWorkflow(ctx, query, idempotencyKey)
}

func (r *PostgresRepository) getWorkflow(ctx context.Context, query string, arg string) (*models.Workflow, error) {
	wf, err := scanWorkflow(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return wf, nil
}

// ListWorkflows lists workflows, most recently updated first
func (r *PostgresRepository) ListWorkflows(ctx context.Context, filter WorkflowFilter, limit, offset int) ([]*models.Workflow, error) {
	where, args := filter.sql()
	args = append(args, limit, offset)

	query := `SELECT ` + workflowColumns + ` FROM workflows` + where +
		` ORDER BY updated_at DESC, id LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// CountWorkflows counts workflows matching filter
func (r *PostgresRepository) CountWorkflows(ctx context.Context, filter WorkflowFilter) (int, error) {
	where, args := filter.sql()

	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM workflows`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count workflows: %w", err)
	}
	return count, nil
}

// SaveWorkflowEvent appends an entry to a workflow's progress log
func (r *PostgresRepository) SaveWorkflowEvent(ctx context.Context, event *models.WorkflowEvent) error {
	query := `
		INSERT INTO workflow_events (workflow_id, kind, step, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.pool.QueryRow(ctx, query,
		event.WorkflowID,
		string(event.Kind),
		int16(event.Step),
		event.Message,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to save workflow event: %w", err)
	}

	return nil
}

// ListWorkflowEvents lists a workflow's progress log in insertion order
func (r *PostgresRepository) ListWorkflowEvents(ctx context.Context, workflowID string, limit, offset int) ([]models.WorkflowEvent, error) {
	query := `
		SELECT id, workflow_id, kind, step, message, created_at
		FROM workflow_events
		WHERE workflow_id = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, workflowID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow events: %w", err)
	}
	defer rows.Close()

	var events []models.WorkflowEvent
	for rows.Next() {
		var event models.WorkflowEvent
		var kind string
		var step int16

		if err := rows.Scan(&event.ID, &event.WorkflowID, &kind, &step, &event.Message, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow event: %w", err)
		}
		event.Kind = models.EventKind(kind)
		event.Step = models.Step(step)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow events: %w", err)
	}

	return events, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var requestJSON []byte
	var completed, failed int16
	var status string
	var assetID, appID int64

	err := row.Scan(
		&wf.ID,
		&wf.IdempotencyKey,
		&wf.Fingerprint,
		&wf.Organizer,
		&requestJSON,
		&completed,
		&status,
		&assetID,
		&appID,
		&wf.Artifacts.AppAddress,
		&failed,
		&wf.LastError,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(requestJSON, &wf.Request); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	wf.Completed = models.Step(completed)
	wf.FailedStep = models.Step(failed)
	wf.Status = models.WorkflowStatus(status)
	wf.Artifacts.AssetID = uint64(assetID)
	wf.Artifacts.AppID = uint64(appID)

	return &wf, nil
}

func (f WorkflowFilter) sql() (string, []any) {
	var clauses []string
	var args []any

	if f.Organizer != "" {
		args = append(args, f.Organizer)
		clauses = append(clauses, "organizer = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, "status = $"+strconv.Itoa(len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

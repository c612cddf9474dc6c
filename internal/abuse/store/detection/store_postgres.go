package detection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"warden/internal/abuse/models"
	"warden/internal/sentinel"
	"warden/pkg/platform/pagination"
)

// PostgresStore persists detections in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed detection store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const detectionColumns = `id, event_id, identifiers, operation, score, tier, triggered_rules,
	policy_version, status, reviewer, notes, occurred_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, d *models.Detection) error {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return fmt.Errorf("create detection: %w", sentinel.ErrInvalidInput)
	}
	identifiers, err := json.Marshal(d.Identifiers)
	if err != nil {
		return fmt.Errorf("marshal identifiers: %w", err)
	}
	rules, err := json.Marshal(d.TriggeredRules)
	if err != nil {
		return fmt.Errorf("marshal triggered rules: %w", err)
	}
	query := `
		INSERT INTO detections (id, event_id, identifiers, identifier_keys, operation, score, tier,
			triggered_rules, policy_version, status, reviewer, notes, occurred_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, query,
		id,
		d.EventID,
		identifiers,
		d.Identifiers.Strings(),
		string(d.Operation),
		d.Score,
		string(d.Tier),
		rules,
		d.PolicyVersion,
		string(d.Status),
		d.Reviewer,
		d.Notes,
		d.OccurredAt,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create detection: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Detection, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, sentinel.ErrNotFound
	}
	query := `SELECT ` + detectionColumns + ` FROM detections WHERE id = $1`
	d, err := scanDetection(s.db.QueryRowContext(ctx, query, parsed))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find detection by id: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) FindByEventID(ctx context.Context, eventID string) (*models.Detection, error) {
	query := `SELECT ` + detectionColumns + ` FROM detections WHERE event_id = $1`
	d, err := scanDetection(s.db.QueryRowContext(ctx, query, eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find detection by event id: %w", err)
	}
	return d, nil
}

// UpdateStatus moves an open detection to u.Status in a single conditional
// UPDATE, so concurrent reviewers race on the row lock and only one wins.
func (s *PostgresStore) UpdateStatus(ctx context.Context, u models.StatusUpdate) (*models.Detection, error) {
	id, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, sentinel.ErrNotFound
	}
	query := `
		UPDATE detections
		SET status = $2, reviewer = $3, notes = $4, updated_at = $5
		WHERE id = $1 AND status = 'open'
		RETURNING ` + detectionColumns
	d, err := scanDetection(s.db.QueryRowContext(ctx, query, id, string(u.Status), u.Reviewer, u.Notes, u.At))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update detection status: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM detections WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check detection exists: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, sentinel.ErrInvalidState
}

// List returns up to limit detections matching filter that sort after cursor,
// newest first.
func (s *PostgresStore) List(ctx context.Context, filter models.DetectionFilter, cursor *pagination.Cursor, limit int) ([]*models.Detection, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.Tier != "" {
		where = append(where, "tier = "+arg(string(filter.Tier)))
	}
	if filter.Operation != "" {
		where = append(where, "operation = "+arg(string(filter.Operation)))
	}
	if filter.Identifier != nil {
		where = append(where, "identifier_keys @> ARRAY["+arg(filter.Identifier.String())+"]::text[]")
	}
	if filter.MinScore != nil {
		where = append(where, "score >= "+arg(*filter.MinScore))
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_at > "+arg(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at < "+arg(*filter.CreatedBefore))
	}
	if cursor != nil {
		cursorID, err := uuid.Parse(cursor.ID)
		if err != nil {
			return nil, fmt.Errorf("list detections: %w", sentinel.ErrInvalidInput)
		}
		where = append(where, "(created_at, id) < ("+arg(cursor.CreatedAt)+", "+arg(cursorID)+")")
	}

	query := `SELECT ` + detectionColumns + ` FROM detections`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT " + arg(limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	detections := make([]*models.Detection, 0)
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return detections, nil
}

type detectionRow interface {
	Scan(dest ...any) error
}

func scanDetection(row detectionRow) (*models.Detection, error) {
	var (
		d           models.Detection
		id          uuid.UUID
		identifiers []byte
		rules       []byte
		operation   string
		tier        string
		status      string
	)
	if err := row.Scan(&id, &d.EventID, &identifiers, &operation, &d.Score, &tier, &rules,
		&d.PolicyVersion, &status, &d.Reviewer, &d.Notes, &d.OccurredAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(identifiers, &d.Identifiers); err != nil {
		return nil, fmt.Errorf("unmarshal identifiers: %w", err)
	}
	if err := json.Unmarshal(rules, &d.TriggeredRules); err != nil {
		return nil, fmt.Errorf("unmarshal triggered rules: %w", err)
	}
	d.ID = id.String()
	d.Operation = models.Operation(operation)
	d.Tier = models.Tier(tier)
	d.Status = models.DetectionStatus(status)
	d.OccurredAt = d.OccurredAt.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return &d, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

package conversations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/dbx"
	"github.com/dmitrijs2005/chatkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// invalidTextRepresentation is raised when an id is not a valid UUID.
const invalidTextRepresentation = "22P02"

const selectColumns = `id, user_id, title, file_url, blob_bucket, blob_key, created_at, updated_at`

// PostgresRepository implements conversation metadata storage over a
// dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the record. The caller supplies the id because the blob key
// is derived from it and the blob is written first.
func (r *PostgresRepository) Create(ctx context.Context, c *models.Conversation) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations (id, user_id, title, file_url, blob_bucket, blob_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.Title, c.FileURL, c.Blob.Bucket, c.Blob.Key, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return c, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `SELECT ` + selectColumns + ` FROM conversations WHERE id=$1`

	c, err := scanConversation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
			return nil, common.ErrConversationNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// ListByUser returns the user's conversations, most recently updated first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	query := `SELECT ` + selectColumns + ` FROM conversations
		WHERE user_id=$1
		ORDER BY updated_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select conversations: %w", err)
	}
	defer rows.Close()

	var result []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateFileURL stores a freshly minted presigned URL. Concurrent refreshes
// are last-writer-wins.
func (r *PostgresRepository) UpdateFileURL(ctx context.Context, id string, fileURL string, updatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET file_url=$2, updated_at=$3 WHERE id=$1`, id, fileURL, updatedAt)
	if err != nil {
		if isMalformedID(err) {
			return common.ErrConversationNotFound
		}
		return fmt.Errorf("failed to update file url: %w", err)
	}
	return expectOneRow(res)
}

// Touch bumps updated_at after an append.
func (r *PostgresRepository) Touch(ctx context.Context, id string, updatedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET updated_at=$2 WHERE id=$1`, id, updatedAt)
	if err != nil {
		if isMalformedID(err) {
			return common.ErrConversationNotFound
		}
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) UpdateTitle(ctx context.Context, id string, title string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET title=$2 WHERE id=$1`, id, title)
	if err != nil {
		if isMalformedID(err) {
			return common.ErrConversationNotFound
		}
		return fmt.Errorf("failed to update title: %w", err)
	}
	return expectOneRow(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, id)
	if err != nil {
		if isMalformedID(err) {
			return common.ErrConversationNotFound
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return expectOneRow(res)
}

// DeleteByUser removes every conversation owned by userID and reports how
// many rows went away.
func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id=$1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	c := &models.Conversation{}
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.FileURL, &c.Blob.Bucket, &c.Blob.Key, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

// isMalformedID reports whether Postgres rejected an id that cannot be a
// UUID. No row can match such an id.
func isMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrConversationNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/scoper/internal/brief"
	"github.com/hpungsan/scoper/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.ScoperError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

const briefColumns = `id, user_raw, user_norm, conversation_id, title,
	brief_text, brief_chars, tokens_estimate,
	scope_json, turns_json, missing_sections_json, created_at, deleted_at`

const summaryColumns = `id, user_raw, user_norm, conversation_id, title,
	brief_chars, tokens_estimate, missing_sections_json, created_at, deleted_at`

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert stores a new brief.
func Insert(ctx context.Context, db Execer, b *brief.Brief) error {
	scopeJSON, err := json.Marshal(b.Scope)
	if err != nil {
		return errors.NewInternal(err)
	}
	turnsJSON, err := marshalList(b.Turns)
	if err != nil {
		return errors.NewInternal(err)
	}
	missingJSON, err := marshalList(b.MissingSections)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO briefs (` + briefColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var deletedAt sql.NullInt64
	if b.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: *b.DeletedAt, Valid: true}
	}

	_, err = db.ExecContext(ctx, query,
		b.ID, b.UserRaw, b.UserNorm, b.ConversationID, toNullString(b.Title),
		b.BriefText, b.BriefChars, b.TokensEstimate,
		string(scopeJSON), turnsJSON, missingJSON, b.CreatedAt, deletedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}

	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetByID retrieves a brief by its ULID.
// If includeDeleted is false, soft-deleted briefs are excluded.
func GetByID(ctx context.Context, db *sql.DB, id string, includeDeleted bool) (*brief.Brief, error) {
	query := `SELECT ` + briefColumns + ` FROM briefs WHERE id = ?`
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}

	b, err := scanBrief(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return b, nil
}

// GetByConversation retrieves the active brief archived for a conversation.
func GetByConversation(ctx context.Context, db *sql.DB, conversationID string) (*brief.Brief, error) {
	query := `SELECT ` + briefColumns + ` FROM briefs WHERE conversation_id = ? AND deleted_at IS NULL`

	b, err := scanBrief(db.QueryRowContext(ctx, query, conversationID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(conversationID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return b, nil
}

// ListFilters narrows List queries. Nil fields are ignored.
type ListFilters struct {
	UserNorm *string
}

// List returns brief summaries, newest first, plus the total matching count.
// Ties on created_at are broken by id DESC so pagination is stable.
func List(ctx context.Context, db *sql.DB, filters ListFilters, limit, offset int, includeDeleted bool) ([]brief.Summary, int, error) {
	var where []string
	var args []any
	if filters.UserNorm != nil {
		where = append(where, "user_norm = ?")
		args = append(args, *filters.UserNorm)
	}
	if !includeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM briefs"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + summaryColumns + ` FROM briefs` + whereClause +
		` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var items []brief.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	return items, total, nil
}

// SoftDelete marks a brief as deleted by setting deleted_at.
func SoftDelete(ctx context.Context, db *sql.DB, id string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE briefs
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, time.Now().Unix(), id)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound(id)
	}
	return nil
}

// PurgeDeleted permanently removes soft-deleted briefs.
// userNorm restricts the purge to one user; olderThanDays keeps recently deleted rows.
func PurgeDeleted(ctx context.Context, db *sql.DB, userNorm *string, olderThanDays *int) (int, error) {
	query := "DELETE FROM briefs WHERE deleted_at IS NOT NULL"
	var args []any

	if userNorm != nil {
		query += " AND user_norm = ?"
		args = append(args, *userNorm)
	}
	if olderThanDays != nil {
		cutoff := time.Now().Add(-time.Duration(*olderThanDays) * 24 * time.Hour).Unix()
		query += " AND deleted_at < ?"
		args = append(args, cutoff)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return int(n), nil
}

// StreamForExport returns rows for every brief matching the filter, oldest first.
// The caller must close the rows and scan them with ScanBriefFromRows.
func StreamForExport(ctx context.Context, db *sql.DB, userNorm *string, includeDeleted bool) (*sql.Rows, error) {
	query := `SELECT ` + briefColumns + ` FROM briefs WHERE 1=1`
	var args []any

	if userNorm != nil {
		query += " AND user_norm = ?"
		args = append(args, *userNorm)
	}
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanBrief scans a single row into a Brief.
func scanBrief(row scanner) (*brief.Brief, error) {
	var (
		b           brief.Brief
		title       sql.NullString
		scopeJSON   sql.NullString
		turnsJSON   sql.NullString
		missingJSON sql.NullString
		deletedAt   sql.NullInt64
	)

	err := row.Scan(
		&b.ID, &b.UserRaw, &b.UserNorm, &b.ConversationID, &title,
		&b.BriefText, &b.BriefChars, &b.TokensEstimate,
		&scopeJSON, &turnsJSON, &missingJSON, &b.CreatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Title = fromNullString(title)
	if deletedAt.Valid {
		b.DeletedAt = &deletedAt.Int64
	}
	if scopeJSON.Valid && scopeJSON.String != "" {
		if err := json.Unmarshal([]byte(scopeJSON.String), &b.Scope); err != nil {
			return nil, err
		}
	}
	if b.Turns, err = unmarshalList(turnsJSON); err != nil {
		return nil, err
	}
	if b.MissingSections, err = unmarshalList(missingJSON); err != nil {
		return nil, err
	}

	return &b, nil
}

// ScanBriefFromRows scans the current row of a StreamForExport result.
func ScanBriefFromRows(rows *sql.Rows) (*brief.Brief, error) {
	return scanBrief(rows)
}

func scanSummary(row scanner) (*brief.Summary, error) {
	var (
		s           brief.Summary
		title       sql.NullString
		missingJSON sql.NullString
		deletedAt   sql.NullInt64
	)

	err := row.Scan(
		&s.ID, &s.User, &s.UserNorm, &s.ConversationID, &title,
		&s.BriefChars, &s.TokensEstimate, &missingJSON, &s.CreatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	s.Title = fromNullString(title)
	if deletedAt.Valid {
		s.DeletedAt = &deletedAt.Int64
	}
	if s.MissingSections, err = unmarshalList(missingJSON); err != nil {
		return nil, err
	}
	return &s, nil
}

// marshalList stores empty lists as NULL.
func marshalList(items []string) (sql.NullString, error) {
	if len(items) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalList(ns sql.NullString) ([]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(ns.String), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

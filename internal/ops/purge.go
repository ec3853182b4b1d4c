package ops

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hpungsan/scoper/internal/db"
	"github.com/hpungsan/scoper/internal/errors"
)

// PurgeInput contains parameters for the Purge operation.
type PurgeInput struct {
	User          *string // optional filter by user
	OlderThanDays *int    // optional, only purge if deleted_at < (now - N days)
}

// PurgeOutput contains the result of the Purge operation.
type PurgeOutput struct {
	Purged  int    `json:"purged"`
	Message string `json:"message"`
}

// Purge permanently deletes soft-deleted briefs.
func Purge(ctx context.Context, database *sql.DB, input PurgeInput) (*PurgeOutput, error) {
	if input.OlderThanDays != nil && *input.OlderThanDays < 0 {
		return nil, errors.NewInvalidRequest("older_than_days must be non-negative")
	}

	count, err := db.PurgeDeleted(ctx, database, normalizeUser(input.User), input.OlderThanDays)
	if err != nil {
		return nil, err
	}

	return &PurgeOutput{
		Purged:  count,
		Message: formatPurgeMessage(count, input.User, input.OlderThanDays),
	}, nil
}

// formatPurgeMessage creates a human-readable message for the purge result.
func formatPurgeMessage(count int, user *string, olderThanDays *int) string {
	if count == 0 {
		return "No deleted briefs to purge"
	}

	word := "brief"
	if count > 1 {
		word = "briefs"
	}
	msg := fmt.Sprintf("Permanently deleted %d %s", count, word)

	if user != nil {
		msg += fmt.Sprintf(" for user %q", *user)
	}
	if olderThanDays != nil {
		msg += fmt.Sprintf(" (deleted more than %d days ago)", *olderThanDays)
	}
	return msg
}

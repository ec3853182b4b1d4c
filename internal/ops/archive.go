package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/scoper/internal/brief"
	"github.com/hpungsan/scoper/internal/db"
	"github.com/hpungsan/scoper/internal/errors"
)

// ArchiveOutput contains the result of the Archive operation.
type ArchiveOutput struct {
	ID              string   `json:"id"`
	MissingSections []string `json:"missing_sections,omitempty"`
	// Existing is true when the conversation was already archived and the
	// stored brief was returned instead.
	Existing bool `json:"existing,omitempty"`
}

// Archive stores a finalized brief. A conversation is archived at most once:
// archiving it again returns the brief already stored.
func Archive(ctx context.Context, database *sql.DB, b *brief.Brief) (*ArchiveOutput, error) {
	if b == nil || b.BriefText == "" {
		return nil, errors.NewInvalidRequest("brief_text is required")
	}
	if b.UserNorm == "" {
		return nil, errors.NewInvalidRequest("user must not be empty")
	}
	if b.ConversationID == "" {
		return nil, errors.NewInvalidRequest("conversation_id is required")
	}
	if b.ID == "" {
		id, err := NewID()
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		b.ID = id
	}

	err := db.Insert(ctx, database, b)
	if err == db.ErrUniqueConstraint {
		existing, getErr := db.GetByConversation(ctx, database, b.ConversationID)
		if getErr != nil {
			return nil, getErr
		}
		return &ArchiveOutput{ID: existing.ID, MissingSections: existing.MissingSections, Existing: true}, nil
	}
	if err != nil {
		return nil, err
	}

	return &ArchiveOutput{ID: b.ID, MissingSections: b.MissingSections}, nil
}

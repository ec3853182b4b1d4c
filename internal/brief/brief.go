// Package brief models finalized project briefs: the archived output of an
// approved conversation that is handed to the analysis pipeline.
package brief

import (
	"slices"
	"time"

	"github.com/hpungsan/scoper/internal/conversation"
)

// Brief is one finalized, archived project brief.
type Brief struct {
	// ID is a ULID that uniquely identifies this brief
	ID string `json:"id"`

	// UserRaw is the user id as the conversation carried it
	UserRaw string `json:"user"`

	// UserNorm is the normalized user id used for lookups
	UserNorm string `json:"user_norm"`

	// ConversationID identifies the conversation lifetime the brief came from
	ConversationID string `json:"conversation_id"`

	// Title is the brief's objective line, if one could be found
	Title *string `json:"title,omitempty"`

	// BriefText is the synthesized brief
	BriefText string `json:"brief_text"`

	// BriefChars is the character count (runes, not bytes)
	BriefChars int `json:"brief_chars"`

	// TokensEstimate is the estimated token count of BriefText
	TokensEstimate int `json:"tokens_estimate"`

	// Scope is the structured scope gathered during the conversation
	Scope conversation.Scope `json:"scope"`

	// Turns is every user message of the conversation, in order
	Turns []string `json:"turns"`

	// MissingSections lists canonical brief sections the text lacks
	MissingSections []string `json:"missing_sections,omitempty"`

	// CreatedAt is the Unix timestamp when the brief was archived
	CreatedAt int64 `json:"created_at"`

	// DeletedAt is the Unix timestamp for soft delete (nullable)
	DeletedAt *int64 `json:"deleted_at,omitempty"`
}

// NewInput holds the parts of a brief produced by finalization.
type NewInput struct {
	ID             string
	UserID         string
	ConversationID string
	Text           string
	Scope          conversation.Scope
	Turns          []string
	Now            time.Time
}

// New builds a Brief with derived fields (normalized user, counts, title, lint) filled in.
func New(in NewInput) *Brief {
	b := &Brief{
		ID:             in.ID,
		UserRaw:        in.UserID,
		UserNorm:       Normalize(in.UserID),
		ConversationID: in.ConversationID,
		BriefText:      in.Text,
		Scope:          in.Scope,
		Turns:          slices.Clone(in.Turns),
		CreatedAt:      in.Now.Unix(),
	}
	b.Recompute()
	return b
}

// Recompute refreshes every field derived from BriefText.
func (b *Brief) Recompute() {
	b.UserNorm = Normalize(b.UserRaw)
	b.BriefChars = CountChars(b.BriefText)
	b.TokensEstimate = EstimateTokens(b.BriefText)
	b.MissingSections = Lint(LintInput{Text: b.BriefText}).MissingSections
	b.Title = nil
	if sec := FindSection(ParseSections(b.BriefText), "Objective"); sec != nil {
		if title := firstLine(sec.Content); title != "" {
			b.Title = &title
		}
	}
}

// Summary is a brief without its text, scope or turns. Used by list operations.
type Summary struct {
	ID              string   `json:"id"`
	User            string   `json:"user"`
	UserNorm        string   `json:"user_norm"`
	ConversationID  string   `json:"conversation_id"`
	Title           *string  `json:"title,omitempty"`
	BriefChars      int      `json:"brief_chars"`
	TokensEstimate  int      `json:"tokens_estimate"`
	MissingSections []string `json:"missing_sections,omitempty"`
	CreatedAt       int64    `json:"created_at"`
	DeletedAt       *int64   `json:"deleted_at,omitempty"`
}

// ToSummary strips the heavy fields.
func (b *Brief) ToSummary() Summary {
	return Summary{
		ID:              b.ID,
		User:            b.UserRaw,
		UserNorm:        b.UserNorm,
		ConversationID:  b.ConversationID,
		Title:           b.Title,
		BriefChars:      b.BriefChars,
		TokensEstimate:  b.TokensEstimate,
		MissingSections: b.MissingSections,
		CreatedAt:       b.CreatedAt,
		DeletedAt:       b.DeletedAt,
	}
}

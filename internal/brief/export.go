package brief

import "github.com/hpungsan/scoper/internal/conversation"

// ExportSchemaVersion is written in the header line of every export.
const ExportSchemaVersion = "1"

// ExportRecord is one line of a JSONL brief export.
type ExportRecord struct {
	// Header detection field - true only for header line
	ScoperExport bool `json:"_scoper_export,omitempty"`

	// Header fields (only present in header line)
	SchemaVersion string `json:"schema_version,omitempty"`
	ExportedAt    int64  `json:"exported_at,omitempty"`

	// Brief fields
	ID             string             `json:"id,omitempty"`
	UserRaw        string             `json:"user,omitempty"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Title          *string            `json:"title,omitempty"`
	BriefText      string             `json:"brief_text,omitempty"`
	BriefChars     int                `json:"brief_chars,omitempty"`
	TokensEstimate int                `json:"tokens_estimate,omitempty"`
	Scope          conversation.Scope `json:"scope,omitzero"`
	Turns          []string           `json:"turns,omitempty"`
	CreatedAt      int64              `json:"created_at,omitempty"`
	DeletedAt      *int64             `json:"deleted_at,omitempty"`
}

// ToExportRecord converts a Brief for export.
func (b *Brief) ToExportRecord() *ExportRecord {
	return &ExportRecord{
		ID:             b.ID,
		UserRaw:        b.UserRaw,
		ConversationID: b.ConversationID,
		Title:          b.Title,
		BriefText:      b.BriefText,
		BriefChars:     b.BriefChars,
		TokensEstimate: b.TokensEstimate,
		Scope:          b.Scope,
		Turns:          b.Turns,
		CreatedAt:      b.CreatedAt,
		DeletedAt:      b.DeletedAt,
	}
}

// ToBrief converts an ExportRecord back, recomputing derived fields.
func (r *ExportRecord) ToBrief() *Brief {
	b := &Brief{
		ID:             r.ID,
		UserRaw:        r.UserRaw,
		ConversationID: r.ConversationID,
		BriefText:      r.BriefText,
		Scope:          r.Scope,
		Turns:          r.Turns,
		CreatedAt:      r.CreatedAt,
		DeletedAt:      r.DeletedAt,
	}
	b.Recompute()
	return b
}

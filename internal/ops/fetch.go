package ops

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/scoper/internal/brief"
	"github.com/hpungsan/scoper/internal/db"
	"github.com/hpungsan/scoper/internal/errors"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	ID             string
	Section        string // optional: return only this section of the brief
	IncludeDeleted bool
	IncludeText    *bool // default: true (nil means default)
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	brief.Brief // embedded (copy, not pointer)

	// Section is set when a single section was requested
	Section *SectionOutput `json:"section,omitempty"`
}

// SectionOutput is one extracted brief section.
type SectionOutput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Fetch retrieves a brief by ID.
func Fetch(ctx context.Context, database *sql.DB, input FetchInput) (*FetchOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	b, err := db.GetByID(ctx, database, id, input.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{Brief: *b}

	if section := strings.TrimSpace(input.Section); section != "" {
		sections := brief.ParseSections(b.BriefText)
		sec := brief.FindSection(sections, section)
		if sec == nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf(
				"section %q not found; available: %s", section, strings.Join(brief.SectionNames(sections), ", ")))
		}
		name := sec.Canonical
		if name == "" {
			name = sec.HeaderName
		}
		output.Section = &SectionOutput{Name: name, Content: sec.Content}
		output.BriefText = ""
	}

	if input.IncludeText != nil && !*input.IncludeText {
		output.BriefText = ""
	}

	return output, nil
}

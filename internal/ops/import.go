package ops

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hpungsan/scoper/internal/brief"
	"github.com/hpungsan/scoper/internal/config"
	"github.com/hpungsan/scoper/internal/db"
	"github.com/hpungsan/scoper/internal/errors"
)

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError ImportMode = "error" // fail on any collision, import nothing
	ImportModeSkip  ImportMode = "skip"  // keep the stored brief, skip the line
)

// maxImportLine bounds a single JSONL line.
const maxImportLine = 4 * 1024 * 1024

// ImportInput contains parameters for the Import operation.
type ImportInput struct {
	Path string     // required
	Mode ImportMode // default: error
}

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes one rejected line.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type importRecord struct {
	line  int
	brief *brief.Brief
}

// Import restores briefs from a file written by Export. Derived fields are
// recomputed from the brief text. All inserts run in one transaction.
func Import(ctx context.Context, database *sql.DB, cfg *config.Config, input ImportInput) (*ImportOutput, error) {
	if input.Mode == "" {
		input.Mode = ImportModeError
	}
	if input.Mode != ImportModeError && input.Mode != ImportModeSkip {
		return nil, errors.NewInvalidRequest("mode must be one of: error, skip")
	}
	if err := ValidatePath(input.Path, PathCheckRead, cfg); err != nil {
		return nil, err
	}

	file, err := openNoFollow(input.Path, os.O_RDONLY, 0)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	records, parseErrors, err := parseExport(file)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}

	output := &ImportOutput{Errors: parseErrors}
	if input.Mode == ImportModeError && len(parseErrors) > 0 {
		return output, nil
	}

	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		err := db.Insert(ctx, tx, rec.brief)
		switch {
		case err == nil:
			output.Imported++
		case err == db.ErrUniqueConstraint && input.Mode == ImportModeSkip:
			output.Skipped++
		case err == db.ErrUniqueConstraint:
			output.Errors = append(output.Errors, ImportError{
				Line:    rec.line,
				ID:      rec.brief.ID,
				Code:    "COLLISION",
				Message: "a brief with this id or conversation already exists",
			})
			return &ImportOutput{Errors: output.Errors}, nil
		default:
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if output.Errors == nil {
		output.Errors = []ImportError{}
	}
	return output, nil
}

// parseExport reads every line, skipping the header.
func parseExport(r io.Reader) ([]importRecord, []ImportError, error) {
	var records []importRecord
	var parseErrors []ImportError

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxImportLine)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec brief.ExportRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{Line: lineNum, Code: "PARSE_ERROR", Message: fmt.Sprintf("invalid JSON: %v", err)})
			continue
		}
		if rec.ScoperExport {
			if rec.SchemaVersion != brief.ExportSchemaVersion {
				return nil, nil, errors.NewInvalidRequest(fmt.Sprintf("unsupported export schema version %q", rec.SchemaVersion))
			}
			continue
		}

		var missing string
		switch {
		case rec.ID == "":
			missing = "id"
		case rec.UserRaw == "":
			missing = "user"
		case rec.ConversationID == "":
			missing = "conversation_id"
		case rec.BriefText == "":
			missing = "brief_text"
		}
		if missing != "" {
			parseErrors = append(parseErrors, ImportError{Line: lineNum, ID: rec.ID, Code: "INVALID_RECORD", Message: "missing " + missing + " field"})
			continue
		}

		records = append(records, importRecord{line: lineNum, brief: rec.ToBrief()})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return records, parseErrors, nil
}

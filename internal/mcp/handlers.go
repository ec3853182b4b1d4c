package mcp

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/scoper/internal/config"
	"github.com/hpungsan/scoper/internal/conversation"
	"github.com/hpungsan/scoper/internal/dispatch"
	"github.com/hpungsan/scoper/internal/engine"
	"github.com/hpungsan/scoper/internal/errors"
	"github.com/hpungsan/scoper/internal/logging"
	"github.com/hpungsan/scoper/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	db         *sql.DB
	cfg        *config.Config
	logger     *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, cfg *config.Config) *Handlers {
	return &Handlers{
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		db:         deps.DB,
		cfg:        cfg,
		logger:     logging.OrNop(deps.Logger),
	}
}

// Request types for each tool

// SendRequest represents the arguments for conversation_send.
type SendRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// UserRequest is shared by the tools that take only a user id.
type UserRequest struct {
	UserID string `json:"user_id"`
}

// ConversationListRequest represents the arguments for conversation_list.
type ConversationListRequest struct {
	State string `json:"state,omitempty"`
}

// ConversationListOutput is the conversation_list result.
type ConversationListOutput struct {
	Items []*conversation.Record `json:"items"`
	Count int                    `json:"count"`
}

// FetchRequest represents the arguments for brief_fetch.
type FetchRequest struct {
	ID             string `json:"id"`
	Section        string `json:"section,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
	IncludeText    *bool  `json:"include_text,omitempty"`
}

// BriefListRequest represents the arguments for brief_list.
type BriefListRequest struct {
	UserID         *string `json:"user_id,omitempty"`
	Limit          int     `json:"limit,omitempty"`
	Offset         int     `json:"offset,omitempty"`
	IncludeDeleted bool    `json:"include_deleted,omitempty"`
}

// DeleteRequest represents the arguments for brief_delete.
type DeleteRequest struct {
	ID string `json:"id"`
}

// PurgeRequest represents the arguments for brief_purge.
type PurgeRequest struct {
	UserID        *string `json:"user_id,omitempty"`
	OlderThanDays *int    `json:"older_than_days,omitempty"`
}

// ExportRequest represents the arguments for brief_export.
type ExportRequest struct {
	Path           string  `json:"path,omitempty"`
	UserID         *string `json:"user_id,omitempty"`
	IncludeDeleted bool    `json:"include_deleted,omitempty"`
}

// ImportRequest represents the arguments for brief_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// HandleSend handles the conversation_send tool call.
// A user with no conversation, or one still in INITIAL_INQUIRY, goes through Start.
func (h *Handlers) HandleSend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SendRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	send := h.engine.Continue
	if rec, err := h.engine.Status(input.UserID); err != nil || rec.State == conversation.StateInitialInquiry {
		send = h.engine.Start
	}

	reply, err := send(ctx, input.UserID, input.Message)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(reply)
}

// HandleStatus handles the conversation_status tool call.
func (h *Handlers) HandleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.UserID == "" {
		return errorResult(errors.NewInvalidRequest("user_id is required")), nil
	}

	rec, err := h.engine.Status(input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(rec)
}

// HandleConversationList handles the conversation_list tool call.
func (h *Handlers) HandleConversationList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ConversationListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	var want conversation.State
	if input.State != "" {
		want, err = conversation.ParseState(input.State)
		if err != nil {
			return errorResult(errors.NewInvalidRequest(err.Error())), nil
		}
	}

	items := make([]*conversation.Record, 0)
	for _, rec := range h.engine.List() {
		if want == "" || rec.State == want {
			items = append(items, rec)
		}
	}

	return successResult(ConversationListOutput{Items: items, Count: len(items)})
}

// HandleFinalize handles the conversation_finalize tool call.
func (h *Handlers) HandleFinalize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.UserID == "" {
		return errorResult(errors.NewInvalidRequest("user_id is required")), nil
	}

	result, err := h.engine.FinalScope(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExecute handles the conversation_execute tool call.
func (h *Handlers) HandleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.dispatcher.Execute(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleReset handles the conversation_reset tool call.
func (h *Handlers) HandleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[UserRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.UserID == "" {
		return errorResult(errors.NewInvalidRequest("user_id is required")), nil
	}

	result, err := h.engine.Reset(ctx, input.UserID)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the brief_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Fetch(ctx, h.db, ops.FetchInput{
		ID:             input.ID,
		Section:        input.Section,
		IncludeDeleted: input.IncludeDeleted,
		IncludeText:    input.IncludeText,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleBriefList handles the brief_list tool call.
func (h *Handlers) HandleBriefList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[BriefListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.List(ctx, h.db, ops.ListInput{
		User:           input.UserID,
		Limit:          input.Limit,
		Offset:         input.Offset,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDelete handles the brief_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Delete(ctx, h.db, ops.DeleteInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePurge handles the brief_purge tool call.
func (h *Handlers) HandlePurge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PurgeRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Purge(ctx, h.db, ops.PurgeInput{
		User:          input.UserID,
		OlderThanDays: input.OlderThanDays,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleExport handles the brief_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Export(ctx, h.db, h.cfg, ops.ExportInput{
		Path:           input.Path,
		User:           input.UserID,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleImport handles the brief_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Import(ctx, h.db, h.cfg, ops.ImportInput{
		Path: input.Path,
		Mode: ops.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if se, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":    se.Code,
			"message": se.Message,
			"status":  se.Status,
		}
		// File paths and SQL errors hide behind INTERNAL
		if se.Code != errors.ErrInternal && se.Details != nil {
			errorObj["details"] = se.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    string(errors.ErrInternal),
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

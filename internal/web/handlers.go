package web

import (
	"database/sql"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hpungsan/scoper/internal/config"
	"github.com/hpungsan/scoper/internal/conversation"
	"github.com/hpungsan/scoper/internal/dispatch"
	"github.com/hpungsan/scoper/internal/engine"
	"github.com/hpungsan/scoper/internal/errors"
	"github.com/hpungsan/scoper/internal/ops"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	db         *sql.DB
	cfg        *config.Config
	renderer   *Renderer
}

// HandleConversations handles GET /conversations: active conversations, optionally by state.
func (h *Handlers) HandleConversations(w http.ResponseWriter, r *http.Request) {
	if user := strings.TrimSpace(r.URL.Query().Get("user")); user != "" {
		http.Redirect(w, r, "/conversations/"+url.PathEscape(user), http.StatusFound)
		return
	}

	state := r.URL.Query().Get("state")
	var want conversation.State
	if state != "" {
		parsed, err := conversation.ParseState(state)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest(err.Error()))
			return
		}
		want = parsed
	}

	items := make([]*conversation.Record, 0)
	for _, rec := range h.engine.List() {
		if want == "" || rec.State == want {
			items = append(items, rec)
		}
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
		return
	}

	h.renderer.renderPage(w, r, "conversations", ConversationsPageData{
		PageData: h.renderer.page("Conversations", "conversations"),
		Items:    items,
		State:    state,
		States:   conversation.AllStates(),
	})
}

// HandleConversation handles GET /conversations/{user}: one user's conversation.
// A user without a conversation gets an empty page to start one from.
func (h *Handlers) HandleConversation(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if strings.TrimSpace(userID) == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("user is required"))
		return
	}

	rec, err := h.engine.Status(userID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		if rec == nil {
			h.renderer.renderError(w, r, err)
			return
		}
		renderJSON(w, http.StatusOK, rec)
		return
	}

	h.renderConversation(w, r, userID, rec, nil)
}

// HandleMessage handles POST /conversations/{user}/messages: send one message.
func (h *Handlers) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	send := h.engine.Continue
	if rec, err := h.engine.Status(userID); err != nil || rec.State == conversation.StateInitialInquiry {
		send = h.engine.Start
	}

	reply, err := send(r.Context(), userID, r.FormValue("message"))
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, reply)
		return
	}

	rec, _ := h.engine.Status(userID)
	h.renderConversation(w, r, userID, rec, reply)
}

func (h *Handlers) renderConversation(w http.ResponseWriter, r *http.Request, userID string, rec *conversation.Record, reply *engine.Reply) {
	h.renderer.renderPage(w, r, "conversation", ConversationPageData{
		PageData:     h.renderer.page(userID, "conversations"),
		UserID:       userID,
		Conversation: rec,
		Reply:        reply,
		Ready:        rec != nil && rec.State == conversation.StateReadyToExecute,
	})
}

// HandleExecute handles POST /conversations/{user}/execute: hand the approved
// conversation to the pipeline and show the archived brief.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")

	result, err := h.dispatcher.Execute(r.Context(), userID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	target := "/briefs/" + url.PathEscape(result.BriefID)
	if !result.Archived {
		target = "/conversations"
	}
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// HandleReset handles POST /conversations/{user}/reset: discard the conversation.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if strings.TrimSpace(userID) == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("user is required"))
		return
	}

	result, err := h.engine.Reset(r.Context(), userID)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", "/conversations")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/conversations", http.StatusSeeOther)
}

// HandleBriefs handles GET /briefs: archived briefs, newest first.
func (h *Handlers) HandleBriefs(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	input := ops.ListInput{
		User:           ptrString(user),
		Limit:          parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:         parseIntParam(r, "offset", 0),
		IncludeDeleted: parseBoolParam(r, "include_deleted"),
	}

	result, err := ops.List(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "briefs", BriefsPageData{
		PageData:   h.renderer.page("Briefs", "briefs"),
		Items:      result.Items,
		Pagination: result.Pagination,
		User:       user,
		Deleted:    input.IncludeDeleted,
	})
}

// HandleBrief handles GET /briefs/{id}: one archived brief, rendered as markdown.
func (h *Handlers) HandleBrief(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("brief ID is required"))
		return
	}

	includeText := true
	b, err := ops.Fetch(r.Context(), h.db, ops.FetchInput{
		ID:             id,
		Section:        r.URL.Query().Get("section"),
		IncludeDeleted: parseBoolParam(r, "include_deleted"),
		IncludeText:    &includeText,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, b)
		return
	}

	text := b.BriefText
	if b.Section != nil {
		text = "## " + b.Section.Name + "\n\n" + b.Section.Content
	}

	name := displayName(b.Title, b.ID)
	h.renderer.renderPage(w, r, "brief", BriefPageData{
		PageData:     h.renderer.page(name, "briefs"),
		Brief:        b,
		RenderedHTML: renderMarkdown(text),
		DisplayName:  name,
	})
}

// HandleDeleteBrief handles DELETE /briefs/{id}: soft-delete a brief.
func (h *Handlers) HandleDeleteBrief(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("brief ID is required"))
		return
	}

	result, err := ops.Delete(r.Context(), h.db, ops.DeleteInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if isHTMX(r) {
		w.Header().Set("HX-Redirect", "/briefs")
		w.WriteHeader(http.StatusOK)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, "/briefs", http.StatusFound)
}

// HandlePurge handles POST /briefs/purge: permanently delete soft-deleted briefs.
func (h *Handlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	if r.FormValue("confirm") != "true" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}

	input := ops.PurgeInput{
		User: ptrString(r.FormValue("user")),
	}

	if days := r.FormValue("older_than_days"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("older_than_days must be an integer"))
			return
		}
		input.OlderThanDays = &d
	}

	result, err := ops.Purge(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="purge-result">` + template.HTMLEscapeString(result.Message) + `</div>`))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, "/briefs?include_deleted=true", http.StatusFound)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// ptrString returns a pointer to s if non-empty, nil otherwise.
func ptrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// displayName returns the brief title if present, or a truncated ID.
func displayName(title *string, id string) string {
	if title != nil && *title != "" {
		return *title
	}
	if len(id) > 10 {
		return id[:10] + "..."
	}
	return id
}

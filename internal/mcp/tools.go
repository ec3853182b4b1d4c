package mcp

import "github.com/mark3labs/mcp-go/mcp"

var sendToolDef = mcp.NewTool("conversation_send",
	mcp.WithDescription("Send a user message to the scoping conversation. Starts a conversation when the user has none. "+
		"Returns the reply text and the resulting state. retry=true means the language model was unavailable and nothing changed."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Stable user identifier")),
	mcp.WithString("message", mcp.Required(), mcp.Description("The user's message")),
)

var statusToolDef = mcp.NewTool("conversation_status",
	mcp.WithDescription("Get the user's conversation: state, turns, pending clarifications and the scope gathered so far."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Stable user identifier")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var conversationListToolDef = mcp.NewTool("conversation_list",
	mcp.WithDescription("List active conversations, most recently updated first."),
	mcp.WithString("state", mcp.Description("Only conversations in this state"),
		mcp.Enum("INITIAL_INQUIRY", "CLARIFYING_QUESTIONS", "PROPOSAL_REVIEW", "SCOPE_REFINEMENT", "READY_TO_EXECUTE")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var finalizeToolDef = mcp.NewTool("conversation_finalize",
	mcp.WithDescription("Synthesize the project brief for an approved conversation without dispatching it. "+
		"Fails with NOT_READY unless the state is READY_TO_EXECUTE."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Stable user identifier")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var executeToolDef = mcp.NewTool("conversation_execute",
	mcp.WithDescription("Hand an approved conversation to the research pipeline: synthesize the brief, start the pipeline, "+
		"archive the brief and reset the conversation. Fails with NOT_READY unless the state is READY_TO_EXECUTE."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Stable user identifier")),
	mcp.WithDestructiveHintAnnotation(true),
)

var resetToolDef = mcp.NewTool("conversation_reset",
	mcp.WithDescription("Discard the user's conversation. Resetting an unknown user is a no-op."),
	mcp.WithString("user_id", mcp.Required(), mcp.Description("Stable user identifier")),
	mcp.WithDestructiveHintAnnotation(true),
)

var fetchToolDef = mcp.NewTool("brief_fetch",
	mcp.WithDescription("Fetch an archived brief by id, optionally a single section of it."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Brief id")),
	mcp.WithString("section", mcp.Description("Return only this section, e.g. Objective or Deliverables")),
	mcp.WithBoolean("include_deleted", mcp.Description("Also match soft-deleted briefs")),
	mcp.WithBoolean("include_text", mcp.Description("Include brief_text (default true)")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var briefListToolDef = mcp.NewTool("brief_list",
	mcp.WithDescription("List archived briefs, newest first. Summaries only, no brief text."),
	mcp.WithString("user_id", mcp.Description("Only briefs for this user")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Items to skip")),
	mcp.WithBoolean("include_deleted", mcp.Description("Include soft-deleted briefs")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var deleteToolDef = mcp.NewTool("brief_delete",
	mcp.WithDescription("Soft-delete an archived brief."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Brief id")),
	mcp.WithDestructiveHintAnnotation(true),
)

var purgeToolDef = mcp.NewTool("brief_purge",
	mcp.WithDescription("Permanently remove soft-deleted briefs."),
	mcp.WithString("user_id", mcp.Description("Only purge briefs for this user")),
	mcp.WithNumber("older_than_days", mcp.Description("Only purge briefs deleted more than this many days ago")),
	mcp.WithDestructiveHintAnnotation(true),
)

var exportToolDef = mcp.NewTool("brief_export",
	mcp.WithDescription("Export archived briefs to a JSONL file."),
	mcp.WithString("path", mcp.Description("Output .jsonl path (default ~/.scoper/exports/<user>-<timestamp>.jsonl)")),
	mcp.WithString("user_id", mcp.Description("Only export briefs for this user")),
	mcp.WithBoolean("include_deleted", mcp.Description("Include soft-deleted briefs")),
)

var importToolDef = mcp.NewTool("brief_import",
	mcp.WithDescription("Import briefs from a JSONL export file."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Input .jsonl path")),
	mcp.WithString("mode", mcp.Description("Collision handling (default error)"), mcp.Enum("error", "skip")),
)

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/scoper/internal/conversation"
	"github.com/hpungsan/scoper/internal/engine"
	"github.com/hpungsan/scoper/internal/errors"
	"github.com/hpungsan/scoper/internal/ops"
	"github.com/hpungsan/scoper/internal/web"
)

// newCLIApp creates the CLI application with all commands.
// svc may be nil when only help or version output is needed.
func newCLIApp(svc *services) *cli.App {
	app := &cli.App{
		Name:    "scoper",
		Usage:   "Conversational scoping for research requests",
		Version: Version,
		Commands: []*cli.Command{
			chatCmd(svc),
			uiCmd(svc),
			mcpCmd(svc),
			briefsCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// chatCmd creates the interactive chat command.
func chatCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Scope a request interactively (one message per line; /help for commands)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Value: "local", Usage: "User id for the conversation"},
		},
		Action: func(c *cli.Context) error {
			if err := svc.conversations(c.Context); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return runChat(c, svc, c.String("user"))
		},
	}
}

const chatHelp = `Commands:
  /status    show the conversation state
  /finalize  preview the project brief (approved conversations only)
  /execute   hand the approved brief to the research pipeline
  /reset     discard the conversation
  /quit      leave`

// runChat reads one message per line until EOF or /quit.
func runChat(c *cli.Context, svc *services, userID string) error {
	out := c.App.Writer
	prompt := c.App.ErrWriter
	scanner := bufio.NewScanner(c.App.Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprintf(prompt, "Scoping as %q. Describe your research request. /help for commands.\n> ", userID)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(prompt, "> ")
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(c, svc, userID, line, out)
			if err != nil {
				fmt.Fprintln(out, formatError(err))
			}
			if quit {
				return nil
			}
			fmt.Fprint(prompt, "> ")
			continue
		}

		send := svc.engine.Continue
		if rec, err := svc.engine.Status(userID); err != nil || rec.State == conversation.StateInitialInquiry {
			send = svc.engine.Start
		}
		reply, err := send(c.Context, userID, line)
		if err != nil {
			if errors.Is(err, errors.ErrCancelled) {
				return nil
			}
			fmt.Fprintln(out, formatError(err))
			fmt.Fprint(prompt, "> ")
			continue
		}

		printReply(out, reply)
		fmt.Fprint(prompt, "> ")
	}
	return scanner.Err()
}

func printReply(w io.Writer, reply *engine.Reply) {
	fmt.Fprintln(w, reply.Text)
	if reply.Retry {
		return
	}
	fmt.Fprintf(w, "[%s]\n", reply.State)
	if reply.Ready {
		fmt.Fprintln(w, "Type /execute to start the analysis.")
	}
}

// chatCommand runs a slash command. quit reports whether the session should end.
func chatCommand(c *cli.Context, svc *services, userID, line string, out io.Writer) (quit bool, err error) {
	switch strings.Fields(line)[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, chatHelp)
	case "/status":
		rec, err := svc.engine.Status(userID)
		if err != nil {
			return false, err
		}
		return false, writeJSON(out, rec)
	case "/finalize":
		final, err := svc.engine.FinalScope(c.Context, userID)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(out, final.Text)
	case "/execute":
		result, err := svc.dispatcher.Execute(c.Context, userID)
		if err != nil {
			return false, err
		}
		return false, writeJSON(out, result)
	case "/reset":
		result, err := svc.engine.Reset(c.Context, userID)
		if err != nil {
			return false, err
		}
		if result.Reset {
			fmt.Fprintln(out, "Conversation discarded.")
		} else {
			fmt.Fprintln(out, "No conversation to discard.")
		}
	default:
		return false, errors.NewInvalidRequest(fmt.Sprintf("unknown command %s (try /help)", line))
	}
	return false, nil
}

// uiCmd creates the web UI command.
func uiCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Serve the web UI (conversations, briefs and /metrics)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8420, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			if err := svc.conversations(c.Context); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			srv, err := web.NewServer(web.Deps{
				Engine:     svc.engine,
				Dispatcher: svc.dispatcher,
				DB:         svc.db,
				Metrics:    svc.metrics,
				Logger:     svc.logger,
			}, svc.cfg, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return web.Run(c.Context, srv, svc.logger)
		},
	}
}

// mcpCmd runs the MCP stdio server explicitly.
func mcpCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP over stdio (the default when input is piped)",
		Action: func(c *cli.Context) error {
			return serveMCP(c.Context, svc)
		},
	}
}

// briefsCmd groups the archive commands.
func briefsCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "briefs",
		Usage: "Manage archived project briefs",
		Subcommands: []*cli.Command{
			listCmd(svc),
			fetchCmd(svc),
			deleteCmd(svc),
			purgeCmd(svc),
			exportCmd(svc),
			importCmd(svc),
		},
	}
}

// listCmd creates the list command.
func listCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List archived briefs, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Filter by user"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum results"},
			&cli.IntFlag{Name: "offset", Usage: "Skip first N results"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted briefs"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ListInput{
				Limit:          c.Int("limit"),
				Offset:         c.Int("offset"),
				IncludeDeleted: c.Bool("include-deleted"),
			}
			if user := c.String("user"); user != "" {
				input.User = &user
			}

			output, err := ops.List(c.Context, svc.db, input)
			if err != nil {
				return outputError(err)
			}

			return writeJSON(c.App.Writer, output)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a brief by ID",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "section", Aliases: []string{"s"}, Usage: "Return only this section"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted briefs"},
			&cli.BoolFlag{Name: "no-text", Usage: "Exclude brief_text from output"},
		},
		Action: func(c *cli.Context) error {
			input := ops.FetchInput{
				ID:             c.Args().First(),
				Section:        c.String("section"),
				IncludeDeleted: c.Bool("include-deleted"),
			}
			if c.Bool("no-text") {
				includeText := false
				input.IncludeText = &includeText
			}

			output, err := ops.Fetch(c.Context, svc.db, input)
			if err != nil {
				return outputError(err)
			}

			return writeJSON(c.App.Writer, output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Soft-delete a brief",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.Delete(c.Context, svc.db, ops.DeleteInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}

			return writeJSON(c.App.Writer, output)
		},
	}
}

// purgeCmd creates the purge command.
func purgeCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Permanently delete soft-deleted briefs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Filter by user"},
			&cli.StringFlag{Name: "older-than", Usage: "Only purge if deleted more than N days ago (e.g., 7d)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.PurgeInput{}

			if user := c.String("user"); user != "" {
				input.User = &user
			}
			if olderThan := c.String("older-than"); olderThan != "" {
				days, err := parseDuration(olderThan)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				input.OlderThanDays = &days
			}

			output, err := ops.Purge(c.Context, svc.db, input)
			if err != nil {
				return outputError(err)
			}

			return writeJSON(c.App.Writer, output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export briefs to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.scoper/exports/<user>-<timestamp>.jsonl)"},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Usage: "Filter by user"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted briefs"},
		},
		Action: func(c *cli.Context) error {
			input := ops.ExportInput{
				Path:           c.String("path"),
				IncludeDeleted: c.Bool("include-deleted"),
			}
			if user := c.String("user"); user != "" {
				input.User = &user
			}

			output, err := ops.Export(c.Context, svc.db, svc.cfg, input)
			if err != nil {
				return outputError(err)
			}

			return writeJSON(c.App.Writer, output)
		},
	}
}

// importCmd creates the import command.
func importCmd(svc *services) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import briefs from a JSONL export",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|skip"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, svc.db, svc.cfg, ops.ImportInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}

			return writeJSON(c.App.Writer, output)
		},
	}
}

// Helper functions

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatError renders err as "[CODE] message".
func formatError(err error) string {
	if se, ok := errors.As(err); ok {
		return fmt.Sprintf("[%s] %s", se.Code, se.Message)
	}
	return err.Error()
}

// outputError formats error for CLI.
func outputError(err error) error {
	return cli.Exit(formatError(err), 1)
}

// parseDuration parses "7d" format to days.
func parseDuration(s string) (int, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return days, nil
	}
	return 0, fmt.Errorf("duration must end with 'd' (days), e.g., 7d")
}

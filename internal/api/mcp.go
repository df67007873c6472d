package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/groupmind/internal/bot"
	"github.com/kalambet/groupmind/internal/knowledge"
	"github.com/kalambet/groupmind/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store     *storage.Store
	Knowledge *knowledge.Service
}

const exportURIPrefix = "group://"

// NewMCPServer creates an MCP server with the groupmind tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"groupmind",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("groupmind: per-group knowledge base of a Telegram chat assistant."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("teach",
			mcp.WithDescription("Teach the assistant an answer for a question in one group. Re-teaching a question replaces its answer."),
			mcp.WithString("group_id", mcp.Description("Telegram chat id of the group"), mcp.Required()),
			mcp.WithString("question", mcp.Description("Question as members would ask it"), mcp.Required()),
			mcp.WithString("answer", mcp.Description("Answer the assistant should give"), mcp.Required()),
		),
		mcpTeach(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Look up the knowledge entry the assistant would use for a question."),
			mcp.WithString("group_id", mcp.Description("Telegram chat id of the group"), mcp.Required()),
			mcp.WithString("query", mcp.Description("Question to look up"), mcp.Required()),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("forget",
			mcp.WithDescription("Delete every knowledge entry of a group whose question or answer contains a keyword."),
			mcp.WithString("group_id", mcp.Description("Telegram chat id of the group"), mcp.Required()),
			mcp.WithString("keyword", mcp.Description("Case-insensitive keyword"), mcp.Required()),
		),
		mcpForget(deps),
	)

	s.AddResourceTemplate(
		mcp.NewResourceTemplate(
			exportURIPrefix+"{id}/export",
			"Group Export",
			mcp.WithTemplateDescription("Group configuration, knowledge and answer statistics as JSON"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		mcpResourceExport(deps),
	)

	return s
}

// mcpGroup resolves the group_id argument to an existing group.
func mcpGroup(deps MCPDeps, req mcp.CallToolRequest) (int64, *mcp.CallToolResult) {
	raw, err := req.RequireString("group_id")
	if err != nil {
		return 0, mcpError("group_id is required")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, mcpError(fmt.Sprintf("invalid group_id %q", raw))
	}
	if _, err := deps.Store.GetGroup(id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, mcpError(fmt.Sprintf("group %d not found", id))
		}
		return 0, mcpError(fmt.Sprintf("failed to get group: %v", err))
	}
	return id, nil
}

func mcpTeach(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := mcpGroup(deps, req)
		if errResult != nil {
			return errResult, nil
		}
		question := req.GetString("question", "")
		answer := req.GetString("answer", "")

		entry, err := deps.Knowledge.Teach(ctx, id, question, answer, storage.SourceManual)
		if errors.Is(err, knowledge.ErrEmpty) {
			return mcpError("question and answer are required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to teach: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored knowledge entry %d", entry.ID)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := mcpGroup(deps, req)
		if errResult != nil {
			return errResult, nil
		}
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}

		entry, err := deps.Knowledge.Retrieve(ctx, id, query)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}
		if entry == nil {
			return mcpText("null"), nil
		}

		b, err := json.Marshal(struct {
			storage.KnowledgeEntry
			Trusted bool `json:"trusted"`
		}{*entry, knowledge.Trusted(*entry)})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal entry: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpForget(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, errResult := mcpGroup(deps, req)
		if errResult != nil {
			return errResult, nil
		}
		keyword := req.GetString("keyword", "")
		n, err := deps.Knowledge.Forget(ctx, id, keyword)
		if errors.Is(err, knowledge.ErrEmpty) {
			return mcpError("keyword is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to forget: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted %d entries", n)), nil
	}
}

// exportGroupID extracts the id from group://{id}/export.
func exportGroupID(uri string) (int64, error) {
	rest, ok := strings.CutPrefix(uri, exportURIPrefix)
	if !ok {
		return 0, fmt.Errorf("unexpected resource uri %q", uri)
	}
	rest, ok = strings.CutSuffix(rest, "/export")
	if !ok {
		return 0, fmt.Errorf("unexpected resource uri %q", uri)
	}
	return strconv.ParseInt(rest, 10, 64)
}

func mcpResourceExport(deps MCPDeps) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id, err := exportGroupID(req.Params.URI)
		if err != nil {
			return nil, err
		}
		export, err := bot.BuildExport(ctx, deps.Store, deps.Knowledge, id)
		if err != nil {
			return nil, fmt.Errorf("failed to build export: %w", err)
		}
		b, err := json.Marshal(export)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal export: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

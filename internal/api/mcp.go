package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/inxource/inxight/internal/insight"
	"github.com/inxource/inxight/internal/storage"
)

const resourcePrefix = "insights://"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Reports   storage.Reports
	Scheduler Scheduler
	Version   string
}

// NewMCPServer creates an MCP server exposing report reads and the
// generation trigger.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"inxight",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("inxight: weekly and monthly business insight reports for the InXource admin dashboard."),
		server.WithRecovery(),
	)

	cadenceArg := mcp.WithString("cadence",
		mcp.Description("Report cadence"),
		mcp.Enum(string(insight.Weekly), string(insight.Monthly)),
		mcp.Required(),
	)

	s.AddTool(
		mcp.NewTool("latest_insights",
			mcp.WithDescription("Return the most recent insight report for a cadence."),
			cadenceArg,
		),
		mcpLatest(deps),
	)

	s.AddTool(
		mcp.NewTool("insight_history",
			mcp.WithDescription("List recent insight reports for a cadence, newest first."),
			cadenceArg,
			mcp.WithNumber("limit", mcp.Description("Maximum number of reports (default 5)")),
		),
		mcpHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("insight_status",
			mcp.WithDescription("Report whether a cadence is due for regeneration."),
			cadenceArg,
		),
		mcpStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_insights",
			mcp.WithDescription("Generate a new insight report if the cadence is due. Fresh reports are never regenerated."),
			cadenceArg,
		),
		mcpGenerate(deps),
	)

	for _, c := range insight.Cadences {
		s.AddResource(
			mcp.NewResource(
				resourcePrefix+string(c),
				fmt.Sprintf("Latest %s insights", c),
				mcp.WithResourceDescription(fmt.Sprintf("Most recent %s insight report as JSON", c)),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceLatest(deps),
		)
	}

	return s
}

func requireCadence(req mcp.CallToolRequest) (insight.Cadence, *mcp.CallToolResult) {
	raw, err := req.RequireString("cadence")
	if err != nil {
		return "", mcpError("cadence is required")
	}
	c, err := insight.ParseCadence(raw)
	if err != nil {
		return "", mcpError(err.Error())
	}
	return c, nil
}

func mcpLatest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		c, errResult := requireCadence(req)
		if errResult != nil {
			return errResult, nil
		}

		rep, err := deps.Reports.LatestReport(ctx, string(c))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpText(fmt.Sprintf("No %s report has been generated yet.", c)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read latest report: %v", err)), nil
		}
		return mcpJSON(newReportView(rep))
	}
}

func mcpHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		c, errResult := requireCadence(req)
		if errResult != nil {
			return errResult, nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 || limit > maxHistoryLimit {
			limit = 5
		}

		reports, err := deps.Reports.ListReports(ctx, string(c), limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list reports: %v", err)), nil
		}
		if len(reports) == 0 {
			return mcpText(fmt.Sprintf("No %s reports found.", c)), nil
		}

		var sb strings.Builder
		for i, rep := range reports {
			fmt.Fprintf(&sb, "%d. %s  %s\n", i+1, rep.CreatedAt, rep.ID)
		}
		return mcpText(sb.String()), nil
	}
}

func mcpStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		c, errResult := requireCadence(req)
		if errResult != nil {
			return errResult, nil
		}

		st, err := deps.Scheduler.Status(ctx, c)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read status: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpGenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		c, errResult := requireCadence(req)
		if errResult != nil {
			return errResult, nil
		}

		res := deps.Scheduler.MaybeGenerate(ctx, c)
		if !res.Success {
			return mcpError(res.Message), nil
		}
		return mcpText(res.Message), nil
	}
}

func mcpResourceLatest(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		c, err := insight.ParseCadence(strings.TrimPrefix(req.Params.URI, resourcePrefix))
		if err != nil {
			return nil, err
		}

		body := []byte("null")
		rep, err := deps.Reports.LatestReport(ctx, string(c))
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to read latest report: %w", err)
		default:
			if body, err = json.Marshal(newReportView(rep)); err != nil {
				return nil, fmt.Errorf("failed to marshal report: %w", err)
			}
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(body),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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

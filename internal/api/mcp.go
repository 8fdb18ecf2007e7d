package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/datamill/internal/report"
	"github.com/kalambet/datamill/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Reporter *report.Reporter
}

// NewMCPServer creates an MCP server with all datamill tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"datamill",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("datamill — document ingestion, quality checks, and analytics over a local corpus."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Search extracted document text and return matching documents."),
			mcp.WithString("query", mcp.Description("Substring to search for"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("quality_overview",
			mcp.WithDescription("Return quality check counts grouped by check type and status."),
		),
		mcpQualityOverview(deps),
	)

	s.AddTool(
		mcp.NewTool("pipeline_stats",
			mcp.WithDescription("Return the analytics dashboard: processing stats, file type distribution, and corpus insights."),
		),
		mcpPipelineStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"datamill://files/recent",
			"Recent Files",
			mcp.WithResourceDescription("Last 10 ingested files as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentFiles(deps),
	)

	return s
}

func mcpSearchDocuments(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		docs, err := deps.Store.SearchDocuments(query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		if len(docs) == 0 {
			return mcpText("[]"), nil
		}

		type docResult struct {
			ID        string `json:"id"`
			FileID    string `json:"file_id"`
			Snippet   string `json:"snippet"`
			WordCount int    `json:"word_count"`
		}

		results := make([]docResult, len(docs))
		for i, d := range docs {
			snippet := d.ExtractedText
			if utf8.RuneCountInString(snippet) > 200 {
				runes := []rune(snippet)
				snippet = string(runes[:200]) + "..."
			}
			results[i] = docResult{
				ID:        d.ID,
				FileID:    d.FileID,
				Snippet:   snippet,
				WordCount: d.WordCount,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpQualityOverview(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		overview, err := deps.Store.QualityOverview()
		if err != nil {
			return mcpError(fmt.Sprintf("quality overview failed: %v", err)), nil
		}

		grouped := make(map[string]map[string]int)
		for _, qc := range overview {
			if grouped[qc.CheckType] == nil {
				grouped[qc.CheckType] = make(map[string]int)
			}
			grouped[qc.CheckType][qc.Status] = qc.Count
		}

		b, err := json.Marshal(grouped)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal overview: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpPipelineStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dash, err := deps.Reporter.Generate(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("dashboard failed: %v", err)), nil
		}

		b, err := json.Marshal(dash)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal dashboard: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceRecentFiles(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		files, err := deps.Store.ListFiles(10)
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}

		type fileSummary struct {
			ID         string `json:"id"`
			Filename   string `json:"filename"`
			FileType   string `json:"file_type"`
			UploadedAt string `json:"uploaded_at"`
			Processed  bool   `json:"processed"`
		}

		summaries := make([]fileSummary, len(files))
		for i, f := range files {
			summaries[i] = fileSummary{
				ID:         f.ID,
				Filename:   f.Filename,
				FileType:   f.FileType,
				UploadedAt: f.UploadedAt.Format(time.RFC3339),
				Processed:  f.Processed,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal files: %w", err)
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

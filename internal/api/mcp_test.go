package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/datamill/internal/report"
	"github.com/kalambet/datamill/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:    store,
		Reporter: report.NewReporter(store),
	}, store
}

func seedDocument(t *testing.T, store *storage.Store, text string) {
	t.Helper()
	fileID := uuid.New().String()
	now := time.Now().UTC()
	if err := store.SaveFile(storage.File{ID: fileID, Filename: "f.txt", FileType: "text", UploadedAt: now}); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	doc := storage.Document{
		ID:            uuid.New().String(),
		FileID:        fileID,
		ContentType:   "text",
		ExtractedText: text,
		WordCount:     len(strings.Fields(text)),
		ProcessedAt:   now,
	}
	if err := store.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_SearchDocuments(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store, "the pipeline processed every record")
	seedDocument(t, store, "unrelated content")

	handler := mcpSearchDocuments(deps)
	result, err := handler(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{
		"query": "pipeline",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var docs []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d results, want 1", len(docs))
	}
	if snippet, _ := docs[0]["snippet"].(string); !strings.Contains(snippet, "pipeline") {
		t.Errorf("snippet = %q, want match", snippet)
	}
}

func TestMCPTool_SearchDocumentsMissingQuery(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpSearchDocuments(deps)
	result, err := handler(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for missing query")
	}
}

func TestMCPTool_SearchDocumentsTruncatesSnippets(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store, "needle "+strings.Repeat("word ", 200))

	handler := mcpSearchDocuments(deps)
	result, err := handler(context.Background(), makeCallToolRequest("search_documents", map[string]interface{}{
		"query": "needle",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var docs []map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &docs); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	snippet, _ := docs[0]["snippet"].(string)
	if !strings.HasSuffix(snippet, "...") {
		t.Errorf("snippet not truncated: %q", snippet)
	}
}

func TestMCPTool_QualityOverviewEmpty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)

	handler := mcpQualityOverview(deps)
	result, err := handler(context.Background(), makeCallToolRequest("quality_overview", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "{}" {
		t.Errorf("overview = %s, want {}", got)
	}
}

func TestMCPTool_PipelineStats(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store, "some text")

	handler := mcpPipelineStats(deps)
	result, err := handler(context.Background(), makeCallToolRequest("pipeline_stats", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("tool error: %s", toolText(t, result))
	}

	var dash map[string]any
	if err := json.Unmarshal([]byte(toolText(t, result)), &dash); err != nil {
		t.Fatalf("decoding dashboard: %v", err)
	}
	stats, ok := dash["processing_stats"].(map[string]any)
	if !ok || stats["total_files"] != float64(1) {
		t.Errorf("processing_stats = %v, want total_files 1", dash["processing_stats"])
	}
}

func TestMCPResource_RecentFiles(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	seedDocument(t, store, "hello")

	handler := mcpResourceRecentFiles(deps)
	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "datamill://files/recent"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}

	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var files []map[string]any
	if err := json.Unmarshal([]byte(text.Text), &files); err != nil {
		t.Fatalf("decoding files: %v", err)
	}
	if len(files) != 1 || files[0]["filename"] != "f.txt" {
		t.Errorf("files = %v", files)
	}
}

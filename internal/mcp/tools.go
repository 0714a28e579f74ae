package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/hybridsearch/internal/app"
	"github.com/dshills/hybridsearch/internal/fetcher"
	"github.com/dshills/hybridsearch/internal/indexer"
	"github.com/dshills/hybridsearch/internal/searcher"
	"github.com/dshills/hybridsearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeFetchDisabled      = -32005 // Content fetching is turned off
	ErrorCodeNetwork            = -32006 // Upstream service unreachable after retries
)

// maxReportedErrors caps the per-file errors included in index responses
const maxReportedErrors = 5

// handleHybridSearch handles the hybrid_search tool invocation
func (s *Server) handleHybridSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	searchMode := getStringDefault(args, "search_mode", string(searcher.SearchModeHybrid))
	switch searcher.SearchMode(searchMode) {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   searchMode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	resp, err := s.container.Engine().Search(ctx, searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		Mode:     searcher.SearchMode(searchMode),
		UseCache: getBoolDefault(args, "use_cache", true),
	})
	if err != nil {
		return nil, toMCPError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":           r.Rank,
			"path":           r.Document.Path,
			"title":          r.Document.Title,
			"chunk_id":       r.ChunkID,
			"start_line":     r.StartLine,
			"end_line":       r.EndLine,
			"vector_score":   r.VectorScore,
			"keyword_score":  r.KeywordScore,
			"combined_score": r.CombinedScore,
			"method":         string(r.Method),
			"content":        r.Content,
		})
	}

	response := map[string]interface{}{
		"query":         query,
		"search_mode":   string(resp.SearchMode),
		"total_results": resp.TotalResults,
		"results":       results,
		"duration_ms":   resp.Duration.Milliseconds(),
		"cache_hit":     resp.CacheHit,
	}
	if resp.Degraded {
		response["degraded"] = true
		response["message"] = "Query embedding failed; results use keyword scores only."
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListResources handles the list_resources tool invocation
func (s *Server) handleListResources(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	kind := getStringDefault(args, "kind", searcher.ResourceDocuments)

	resources, err := s.container.Engine().ListResources(kind)
	if err != nil {
		return nil, toMCPError("failed to list resources", err)
	}

	response := map[string]interface{}{
		"kind":      kind,
		"count":     len(resources),
		"resources": resources,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleQueryRelevantDocuments handles the query_relevant_documents tool invocation
func (s *Server) handleQueryRelevantDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	resources, err := getStringSlice(args, "resources")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid resources", map[string]interface{}{
			"param":  "resources",
			"reason": err.Error(),
		})
	}

	docs, err := s.container.Engine().QueryRelevantDocuments(ctx, query, resources)
	if err != nil {
		return nil, toMCPError("query failed", err)
	}

	documents := make([]map[string]interface{}, 0, len(docs))
	for _, doc := range docs {
		documents = append(documents, map[string]interface{}{
			"id":     doc.ID,
			"path":   doc.Path,
			"title":  doc.Title,
			"chunks": len(doc.Chunks),
		})
	}

	response := map[string]interface{}{
		"query":     query,
		"count":     len(documents),
		"documents": documents,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatistics handles the get_statistics tool invocation
func (s *Server) handleGetStatistics(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.container.Engine().GetStatistics()

	response := map[string]interface{}{
		"index": map[string]interface{}{
			"total_files":         stats.TotalFiles,
			"total_chunks":        stats.TotalChunks,
			"vector_store_count":  stats.VectorStoreCount,
			"keyword_index_count": stats.KeywordIndexCount,
			"last_indexed_at":     formatTime(stats.LastIndexedAt),
		},
		"capabilities": map[string]interface{}{
			"vector_enabled":  stats.VectorEnabled,
			"keyword_enabled": stats.KeywordEnabled,
			"fetch_enabled":   stats.FetchEnabled,
		},
		"weights": map[string]interface{}{
			"vector":  stats.VectorWeight,
			"keyword": stats.KeywordWeight,
		},
	}

	stored, err := s.container.Storage().Stats(ctx)
	if err != nil {
		return nil, toMCPError("failed to get storage statistics", err)
	}
	response["storage"] = map[string]interface{}{
		"documents":      stored.Documents,
		"chunks":         stored.Chunks,
		"embeddings":     stored.Embeddings,
		"size_mb":        fmt.Sprintf("%.2f", float64(stored.SizeBytes)/(1024*1024)),
		"schema_version": stored.SchemaVersion,
		"build_mode":     stored.BuildMode,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexWorkspace handles the index_workspace tool invocation
func (s *Server) handleIndexWorkspace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	force := getBoolDefault(args, "force_reindex", false)

	result, err := s.container.Reindex(ctx, force)
	if err != nil {
		return nil, toMCPError("indexing failed", err)
	}

	return mcp.NewToolResultText(formatJSON(indexResponse(result))), nil
}

func indexResponse(result *indexer.Result) map[string]interface{} {
	stats := result.Stats
	response := map[string]interface{}{
		"indexed":            true,
		"files_indexed":      stats.FilesIndexed,
		"files_unchanged":    stats.FilesUnchanged,
		"files_skipped":      stats.FilesSkipped,
		"files_failed":       stats.FilesFailed,
		"files_removed":      stats.FilesRemoved,
		"chunks_created":     stats.ChunksCreated,
		"chunks_embedded":    stats.ChunksEmbedded,
		"embedding_failures": stats.EmbeddingFailures,
		"duration_ms":        stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		// Include first few errors
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return response
}

// handleFetchContent handles the fetch_content tool invocation
func (s *Server) handleFetchContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	target, ok := args["url"].(string)
	if !ok || target == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "url parameter is required", map[string]interface{}{
			"param":  "url",
			"reason": "missing or empty",
		})
	}
	format := getStringDefault(args, "format", fetcher.FormatMarkdown)

	f, err := s.container.Fetcher()
	if err != nil {
		return nil, toMCPError("fetch unavailable", err)
	}

	if !getBoolDefault(args, "save", false) {
		content, err := f.Fetch(ctx, target, format)
		if err != nil {
			return nil, toMCPError("fetch failed", err)
		}
		return mcp.NewToolResultText(string(content)), nil
	}

	path, err := f.Save(ctx, target, format)
	if err != nil {
		return nil, toMCPError("fetch failed", err)
	}

	response := map[string]interface{}{
		"url":   target,
		"saved": path,
	}
	// Make the reference searchable right away
	result, err := s.container.Reindex(ctx, false)
	switch {
	case errors.Is(err, indexer.ErrIndexingInProgress):
		response["message"] = "Saved; an index run in progress will not include it, run index_workspace afterwards."
	case err != nil:
		return nil, toMCPError("indexing failed", err)
	default:
		response["index"] = indexResponse(result)
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// toMCPError maps domain errors onto MCP error codes
func toMCPError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}

	var netErr *types.NetworkError
	switch {
	case errors.Is(err, types.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, message, data)
	case errors.Is(err, indexer.ErrIndexingInProgress):
		return newMCPError(ErrorCodeIndexingInProgress, message, data)
	case errors.Is(err, app.ErrFetchDisabled):
		return newMCPError(ErrorCodeFetchDisabled, message, data)
	case errors.Is(err, types.ErrUnknownResourceKind),
		errors.Is(err, searcher.ErrUnsupportedMode),
		errors.Is(err, fetcher.ErrInvalidURL),
		errors.Is(err, fetcher.ErrUnsupportedFormat):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	case errors.As(err, &netErr):
		data["kind"] = string(netErr.Kind)
		data["attempts"] = netErr.Attempts
		if netErr.StatusCode != 0 {
			data["status_code"] = netErr.StatusCode
		}
		return newMCPError(ErrorCodeNetwork, message, data)
	default:
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	switch v := args[key].(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected strings, got %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected an array, got %T", v)
	}
}

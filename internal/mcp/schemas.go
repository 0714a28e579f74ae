package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/hybridsearch/internal/fetcher"
	"github.com/dshills/hybridsearch/internal/searcher"
)

// Tool names
const (
	ToolHybridSearch           = "hybrid_search"
	ToolListResources          = "list_resources"
	ToolQueryRelevantDocuments = "query_relevant_documents"
	ToolGetStatistics          = "get_statistics"
	ToolIndexWorkspace         = "index_workspace"
	ToolFetchContent           = "fetch_content"
)

// hybridSearchTool returns the tool definition for hybrid_search
func hybridSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolHybridSearch,
		Description: "Search workspace documents, fusing semantic similarity with keyword overlap",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     searcher.DefaultLimit,
					"minimum":     1,
					"maximum":     searcher.MaxLimit,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (overlap only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "Serve repeated queries from the response cache until the next re-index",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// listResourcesTool returns the tool definition for list_resources
func listResourcesTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolListResources,
		Description: "List indexed documents, their directories, or fetched references",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"kind": map[string]interface{}{
					"type":        "string",
					"description": "Resource kind to list",
					"enum":        []string{searcher.ResourceDocuments, searcher.ResourceDirectories, searcher.ResourceReferences},
					"default":     searcher.ResourceDocuments,
				},
			},
		},
	}
}

// queryRelevantDocumentsTool returns the tool definition for query_relevant_documents
func queryRelevantDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolQueryRelevantDocuments,
		Description: "Return the documents most relevant to a query, optionally restricted to some paths",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"resources": map[string]interface{}{
					"type":        "array",
					"description": "Workspace-relative files or directories to search within",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatisticsTool returns the tool definition for get_statistics
func getStatisticsTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolGetStatistics,
		Description: "Report index size, fusion weights and enabled capabilities",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// indexWorkspaceTool returns the tool definition for index_workspace
func indexWorkspaceTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolIndexWorkspace,
		Description: "Index new and changed workspace files to make them searchable",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"force_reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-index all files ignoring file hashes (full rebuild)",
					"default":     false,
				},
			},
		},
	}
}

// fetchContentTool returns the tool definition for fetch_content
func fetchContentTool() mcp.Tool {
	return mcp.Tool{
		Name:        ToolFetchContent,
		Description: "Fetch an external web page as clean text, optionally saving it as a workspace reference",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"url": map[string]interface{}{
					"type":        "string",
					"description": "Absolute http(s) URL to fetch",
				},
				"format": map[string]interface{}{
					"type":        "string",
					"description": "Return format",
					"enum":        []string{fetcher.FormatMarkdown, fetcher.FormatHTML, fetcher.FormatText},
					"default":     fetcher.FormatMarkdown,
				},
				"save": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, write the page into the references directory and re-index",
					"default":     false,
				},
			},
			Required: []string{"url"},
		},
	}
}

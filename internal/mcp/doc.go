// Package mcp implements the Model Context Protocol (MCP) server for hybridsearch.
//
// The MCP server exposes six tools to orchestrators and AI assistants:
//   - hybrid_search: Ranked chunks fusing semantic and keyword scores
//   - list_resources: Indexed documents, directories or fetched references
//   - query_relevant_documents: Most relevant documents, optionally within some paths
//   - get_statistics: Index size, weights and enabled capabilities
//   - index_workspace: Incrementally index new and changed files
//   - fetch_content: Fetch an external page, optionally saving it as a reference
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// stdout carries protocol messages only; logs go to stderr.
//
// # Basic Usage
//
//	hybridsearch serve --watch
//
// # Tool: hybrid_search
//
//	Request:
//	{
//	  "name": "hybrid_search",
//	  "arguments": {
//	    "query": "configure the database path",
//	    "limit": 5,
//	    "search_mode": "hybrid"
//	  }
//	}
//
//	Response:
//	{
//	  "query": "configure the database path",
//	  "search_mode": "hybrid",
//	  "total_results": 1,
//	  "results": [
//	    {
//	      "rank": 1,
//	      "path": "docs/install.md",
//	      "combined_score": 0.91,
//	      "vector_score": 0.87,
//	      "keyword_score": 1,
//	      "method": "hybrid",
//	      "start_line": 1,
//	      "end_line": 3,
//	      "content": "# Installation ..."
//	    }
//	  ],
//	  "cache_hit": false,
//	  "duration_ms": 42
//	}
//
// A response carries "degraded": true when the query could not be embedded
// and only keyword scores were used.
//
// # Tool: fetch_content
//
//	Request:
//	{
//	  "name": "fetch_content",
//	  "arguments": {
//	    "url": "https://go.dev/doc/effective_go",
//	    "format": "markdown",
//	    "save": true
//	  }
//	}
//
// With save the page is written under the references directory and the
// workspace is re-indexed, so later searches include it.
//
// # Error Handling
//
// Invalid arguments and domain failures are returned as *MCPError with a
// JSON-RPC code:
//   - -32602: Invalid parameters (limit, search_mode, kind, url, format)
//   - -32603: Internal error
//   - -32002: Indexing already in progress
//   - -32004: Empty query
//   - -32005: Content fetching disabled
//   - -32006: Upstream service unreachable after retries
package mcp

// Package mcp implements the Model Context Protocol (MCP) server for repoexplain.
//
// The server exposes four tools to MCP clients:
//   - index_repository: fetch or read a repository, chunk it and store embeddings
//   - search_repository: nearest stored chunks for a query
//   - ask_repository: answer a question from retrieved chunks
//   - list_collections: stored collections with dimension and count
//
// # Protocol Overview
//
// MCP is JSON-RPC 2.0 over stdio. The server reads requests on stdin and
// writes responses on stdout, so all logging goes to stderr.
//
//	repoexplain serve
//
// # Tool: index_repository
//
//	Request:
//	{
//	  "name": "index_repository",
//	  "arguments": {
//	    "repo_url": "https://github.com/acme/demo",
//	    "collection": "demo"
//	  }
//	}
//
//	Response:
//	{
//	  "repo": "acme/demo",
//	  "files_fetched": 42,
//	  "chunks": 310,
//	  "collection": "demo",
//	  "stored": 310,
//	  "fallback": false,
//	  "duration_ms": 5120
//	}
//
// Only one index_repository call runs at a time; a concurrent call fails
// with -32002 instead of queueing.
//
// # Tool: ask_repository
//
//	Request:
//	{
//	  "name": "ask_repository",
//	  "arguments": {"question": "How is configuration loaded?", "k": 5}
//	}
//
//	Response:
//	{
//	  "question": "How is configuration loaded?",
//	  "answer": "...",
//	  "sources": ["acme/demo :: src/config.py"],
//	  "context_chars": 2210
//	}
//
// # Error Handling
//
// Handlers return *MCPError. Codes:
//   - -32602: invalid params
//   - -32603: internal error
//   - -32001: collection not found
//   - -32002: indexing in progress
//   - -32003: nothing fetched, chunked or stored
//   - -32004: empty query
//   - -32005: no results to answer from
package mcp

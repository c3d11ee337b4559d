package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// collectionProperty is shared by every tool that addresses a collection
func collectionProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Vector collection name (defaults to the configured collection)",
	}
}

// indexRepositoryTool returns the tool definition for index_repository
func indexRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_repository",
		Description: "Fetch a GitHub repository (or read a local directory), chunk its text files and store their embeddings",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_url": map[string]interface{}{
					"type":        "string",
					"description": "Repository URL, git@ address or owner/name",
				},
				"local_dir": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to a directory to index instead of fetching",
				},
				"repo": map[string]interface{}{
					"type":        "string",
					"description": "Repository label stored with every chunk (defaults to owner/name or the directory)",
				},
				"collection": collectionProperty(),
				"dummy": map[string]interface{}{
					"type":        "boolean",
					"description": "Store zero vectors without calling the embedding model",
					"default":     false,
				},
			},
		},
	}
}

// searchRepositoryTool returns the tool definition for search_repository
func searchRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_repository",
		Description: "Return the stored chunks nearest to a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"collection": collectionProperty(),
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     5,
					"minimum":     1,
					"maximum":     100,
				},
				"filter": map[string]interface{}{
					"type":        "object",
					"description": "Optional equality filter on one metadata field",
					"properties": map[string]interface{}{
						"field": map[string]interface{}{
							"type": "string",
							"enum": []string{"repo", "file_path", "file_type", "chunk_index"},
						},
						"value": map[string]interface{}{
							"type": "string",
						},
					},
					"required": []string{"field", "value"},
				},
			},
			Required: []string{"query"},
		},
	}
}

// askRepositoryTool returns the tool definition for ask_repository
func askRepositoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_repository",
		Description: "Answer a question about an indexed repository using retrieved chunks as context",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Question about the repository",
				},
				"collection": collectionProperty(),
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of chunks to retrieve as context (1-100)",
					"default":     5,
					"minimum":     1,
					"maximum":     100,
				},
			},
			Required: []string{"question"},
		},
	}
}

// listCollectionsTool returns the tool definition for list_collections
func listCollectionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_collections",
		Description: "List stored collections with their dimension and record count",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/repoexplain/internal/fetcher"
	"github.com/dshills/repoexplain/internal/indexer"
	"github.com/dshills/repoexplain/internal/pipeline"
	"github.com/dshills/repoexplain/internal/retriever"
	"github.com/dshills/repoexplain/internal/storage"
	"github.com/dshills/repoexplain/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeCollectionNotFound = -32001 // Named collection does not exist
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNothingIndexed     = -32003 // A stage produced nothing to store
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeNoResults          = -32005 // Retrieval found nothing to answer from
)

const maxK = 100

// handleIndexRepository handles the index_repository tool invocation
func (s *Server) handleIndexRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	repoURL := getStringDefault(args, "repo_url", "")
	localDir := getStringDefault(args, "local_dir", "")
	if repoURL == "" && localDir == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repo_url or local_dir is required", map[string]interface{}{
			"param":  "repo_url",
			"reason": "missing or empty",
		})
	}
	if localDir != "" {
		if err := validateDir(localDir); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid local_dir", map[string]interface{}{
				"param":  "local_dir",
				"reason": err.Error(),
			})
		}
	} else if _, err := fetcher.ParseRepoURL(repoURL); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid repo_url", map[string]interface{}{
			"param":  "repo_url",
			"reason": err.Error(),
		})
	}

	source := localDir
	if source == "" {
		source = repoURL
	}
	active, ok := s.lock.TryAcquire(source)
	if !ok {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "another indexing operation is in progress", map[string]interface{}{
			"source":  active.Source,
			"started": active.Started.Format(time.RFC3339),
		})
	}
	defer s.lock.Release()

	req := pipeline.IngestRequest{
		RepoURL:  repoURL,
		LocalDir: localDir,
		RawDir:   s.defaults.RawDir,
		Repo:     getStringDefault(args, "repo", ""),
		Fetch:    s.defaults.Fetch,
		Store: indexer.Options{
			Location:   s.defaults.Location,
			Collection: getStringDefault(args, "collection", s.defaults.Collection),
			ModelID:    s.defaults.ModelID,
			BatchSize:  s.defaults.BatchSize,
			Dummy:      getBoolDefault(args, "dummy", false),
		},
	}

	res, err := s.pipeline.Ingest(ctx, req)
	if err != nil {
		s.logger.Warn("index_repository failed", zap.Error(err))
		switch {
		case errors.Is(err, pipeline.ErrNothingFetched),
			errors.Is(err, pipeline.ErrNoChunks),
			errors.Is(err, pipeline.ErrNothingStored):
			return nil, newMCPError(ErrorCodeNothingIndexed, err.Error(), ingestResponse(res))
		default:
			return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	return mcp.NewToolResultText(formatJSON(ingestResponse(res))), nil
}

func ingestResponse(res *pipeline.IngestResult) map[string]interface{} {
	if res == nil {
		return nil
	}
	response := map[string]interface{}{
		"repo":          res.Repo,
		"files_fetched": res.Fetched,
		"chunks":        res.Chunks,
		"duration_ms":   res.Duration.Milliseconds(),
	}
	if res.Stats != nil {
		response["collection"] = res.Stats.Collection
		response["stored"] = res.Stats.Stored
		response["fallback"] = res.Stats.Fallback
		if res.Stats.BackupPath != "" {
			response["backup_path"] = res.Stats.BackupPath
		}
	}
	return response
}

// handleSearchRepository handles the search_repository tool invocation
func (s *Server) handleSearchRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	req, err := s.retrievalRequest(args, "query")
	if err != nil {
		return nil, err
	}

	if filter, ok := args["filter"].(map[string]interface{}); ok {
		field, _ := filter["field"].(string)
		var value string
		switch v := filter["value"].(type) {
		case string:
			value = v
		case float64:
			if v != math.Trunc(v) || math.IsInf(v, 0) {
				return nil, newMCPError(ErrorCodeInvalidParams, "filter value must be a string or integer", map[string]interface{}{
					"param":  "filter",
					"reason": fmt.Sprintf("%v is not an integer", v),
				})
			}
			value = strconv.FormatInt(int64(v), 10)
		default:
			return nil, newMCPError(ErrorCodeInvalidParams, "filter value must be a string or integer", map[string]interface{}{
				"param": "filter",
			})
		}
		where, err := storage.NewWhere(field, value)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid filter", map[string]interface{}{
				"param":  "filter",
				"reason": err.Error(),
			})
		}
		req.Where = where
	}

	results, err := s.pipeline.Search(ctx, req)
	if err != nil {
		return nil, retrievalError(err, req.Collection)
	}

	response := map[string]interface{}{
		"query":      req.Query,
		"collection": req.Collection,
		"results":    resultList(results),
		"count":      len(results),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAskRepository handles the ask_repository tool invocation
func (s *Server) handleAskRepository(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	req, err := s.retrievalRequest(args, "question")
	if err != nil {
		return nil, err
	}

	answer, err := s.pipeline.Ask(ctx, pipeline.AskRequest{
		Search:          req,
		NCtx:            s.defaults.NCtx,
		MaxAnswerTokens: s.defaults.MaxAnswerTokens,
	})
	if err != nil {
		return nil, retrievalError(err, req.Collection)
	}

	response := map[string]interface{}{
		"question":      req.Query,
		"answer":        answer.Text,
		"sources":       answer.Sources,
		"context_chars": answer.ContextChars,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListCollections handles the list_collections tool invocation
func (s *Server) handleListCollections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store, err := s.open(ctx, s.defaults.Location)
	if errors.Is(err, storage.ErrStoreNotFound) {
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"collections": []storage.CollectionInfo{},
			"count":       0,
		})), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to open store", map[string]interface{}{
			"error": err.Error(),
		})
	}
	defer func() { _ = store.Close() }()

	infos, err := store.ListCollections(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list collections", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if infos == nil {
		infos = []storage.CollectionInfo{}
	}

	response := map[string]interface{}{
		"collections": infos,
		"count":       len(infos),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// retrievalRequest reads the query text under key plus collection and k
func (s *Server) retrievalRequest(args map[string]interface{}, key string) (retriever.Request, error) {
	query, _ := args[key].(string)
	if strings.TrimSpace(query) == "" {
		return retriever.Request{}, newMCPError(ErrorCodeEmptyQuery, key+" parameter is required and cannot be empty", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}

	defaultK := s.defaults.K
	if defaultK <= 0 {
		defaultK = retriever.DefaultK
	}
	k := getIntDefault(args, "k", defaultK)
	if k < 1 || k > maxK {
		return retriever.Request{}, newMCPError(ErrorCodeInvalidParams, "k must be between 1 and 100", map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}

	return retriever.Request{
		Location:   s.defaults.Location,
		Collection: getStringDefault(args, "collection", s.defaults.Collection),
		Query:      query,
		ModelID:    s.defaults.ModelID,
		K:          k,
	}, nil
}

func retrievalError(err error, collection string) error {
	switch {
	case errors.Is(err, retriever.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, err.Error(), nil)
	case errors.Is(err, storage.ErrCollectionNotFound), errors.Is(err, storage.ErrStoreNotFound):
		return newMCPError(ErrorCodeCollectionNotFound, "collection not found", map[string]interface{}{
			"collection": collection,
			"message":    "Use index_repository to create it.",
		})
	case errors.Is(err, pipeline.ErrNoResults):
		return newMCPError(ErrorCodeNoResults, err.Error(), map[string]interface{}{
			"collection": collection,
		})
	default:
		return newMCPError(ErrorCodeInternalError, "request failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func resultList(results []types.RetrievalResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		item := map[string]interface{}{
			"id":          r.ID,
			"repo":        r.Metadata.Repo,
			"file_path":   r.Metadata.FilePath,
			"file_type":   r.Metadata.FileType,
			"chunk_index": r.Metadata.ChunkIndex,
			"content":     r.Document,
		}
		if r.Distance != nil {
			item["distance"] = *r.Distance
		}
		out = append(out, item)
	}
	return out
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
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

// validateDir checks that path is an absolute, readable directory
func validateDir(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
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

// getStringDefault extracts a non-empty string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return defaultValue
}

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)

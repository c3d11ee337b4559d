// Package pipeline wires fetching, chunking, indexing, retrieval and
// generation into the ingest and ask flows. Each stage that yields nothing
// stops the flow with a sentinel error instead of running the next stage on
// empty input.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/repoexplain/internal/assembler"
	"github.com/dshills/repoexplain/internal/chunker"
	"github.com/dshills/repoexplain/internal/fetcher"
	"github.com/dshills/repoexplain/internal/generation"
	"github.com/dshills/repoexplain/internal/indexer"
	"github.com/dshills/repoexplain/internal/retriever"
	"github.com/dshills/repoexplain/pkg/types"
)

// DefaultNCtx is the assumed model context window in tokens
const DefaultNCtx = 4096

var (
	ErrNothingFetched = errors.New("no files fetched")
	ErrNoChunks       = errors.New("no chunks produced")
	ErrNothingStored  = errors.New("no embeddings stored")
	ErrNoResults      = errors.New("no results found for the query")
	ErrNoSource       = errors.New("either a repository URL or a local directory is required")
	ErrNoGenerator    = errors.New("no generation backend configured")
)

// Pipeline holds the stage components. Fetcher and Generator may be nil
// when the flows that need them are not used.
type Pipeline struct {
	Fetcher   *fetcher.Client
	Chunker   *chunker.Chunker
	Indexer   *indexer.Indexer
	Retriever *retriever.Retriever
	Generator generation.Generator
	Logger    *zap.Logger
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// IngestRequest describes one ingestion run. Exactly one of RepoURL and
// LocalDir is normally set; with RepoURL the files land in a per-repo
// owner_name subdirectory of RawDir, replaced on every run, or in a
// temporary directory when RawDir is empty.
type IngestRequest struct {
	RepoURL  string
	LocalDir string
	RawDir   string
	Repo     string // metadata label; defaults to owner/name of RepoURL

	// ChunksPath, when set, keeps the chunk JSONL exchange file
	ChunksPath string

	Fetch fetcher.FetchOptions
	Store indexer.Options
}

// IngestResult reports the count of each stage
type IngestResult struct {
	Repo     string
	Fetched  int
	Chunks   int
	Stats    *indexer.Statistics
	Duration time.Duration
}

// Ingest fetches (or reads) a repository, chunks it and stores the chunks
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()
	res := &IngestResult{Repo: req.Repo}

	dir := req.LocalDir
	switch {
	case dir != "":
		if res.Repo == "" {
			res.Repo = dir
		}
	case req.RepoURL != "":
		if p.Fetcher == nil {
			return nil, fmt.Errorf("fetcher not configured")
		}
		repo, err := fetcher.ParseRepoURL(req.RepoURL)
		if err != nil {
			return nil, err
		}
		if res.Repo == "" {
			res.Repo = repo.String()
		}

		if req.RawDir != "" {
			// each repo gets its own fresh subdirectory so earlier fetches never leak in
			dir = filepath.Join(req.RawDir, repo.Owner+"_"+repo.Name)
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("clearing raw directory: %w", err)
			}
		} else {
			tmp, err := os.MkdirTemp("", "repoexplain-raw-*")
			if err != nil {
				return nil, err
			}
			defer func() { _ = os.RemoveAll(tmp) }()
			dir = tmp
		}

		fetched, err := p.Fetcher.FetchToDir(ctx, req.RepoURL, dir, req.Fetch)
		if err != nil {
			return nil, fmt.Errorf("ingestion failed: %w", err)
		}
		res.Fetched = fetched.Fetched
		if res.Fetched == 0 {
			return res, ErrNothingFetched
		}
	default:
		return nil, ErrNoSource
	}

	chunks, err := p.chunk(ctx, dir, res.Repo, req.ChunksPath)
	if err != nil {
		return nil, fmt.Errorf("chunking failed: %w", err)
	}
	res.Chunks = len(chunks)
	if res.Chunks == 0 {
		return res, ErrNoChunks
	}

	stats, err := p.Indexer.Store(ctx, chunks, req.Store)
	if err != nil {
		return nil, fmt.Errorf("embedding/storage failed: %w", err)
	}
	res.Stats = stats
	res.Duration = time.Since(start)
	if stats.Stored == 0 {
		return res, ErrNothingStored
	}

	p.logger().Info("pipeline complete",
		zap.String("repo", res.Repo),
		zap.Int("fetched", res.Fetched),
		zap.Int("chunks", res.Chunks),
		zap.Int("stored", stats.Stored),
		zap.Bool("fallback", stats.Fallback))
	return res, nil
}

// chunk runs the folder chunker, through the exchange file when one is requested
func (p *Pipeline) chunk(ctx context.Context, dir, repo, chunksPath string) ([]types.Chunk, error) {
	if chunksPath != "" {
		if _, err := p.Chunker.ChunkFolderToFile(ctx, dir, repo, chunksPath); err != nil {
			return nil, err
		}
		return chunker.LoadChunksFile(chunksPath)
	}

	var buf bytes.Buffer
	if _, err := p.Chunker.ChunkFolder(ctx, dir, repo, &buf); err != nil {
		return nil, err
	}
	return chunker.ReadChunks(&buf)
}

// Search runs retrieval only
func (p *Pipeline) Search(ctx context.Context, req retriever.Request) ([]types.RetrievalResult, error) {
	return p.Retriever.Query(ctx, req)
}

// AskRequest is a question against a stored collection
type AskRequest struct {
	Search          retriever.Request
	NCtx            int // model context window in tokens, default DefaultNCtx
	MaxAnswerTokens int // default generation.DefaultMaxTokens
}

// Answer is the generated explanation and what it was grounded on
type Answer struct {
	Text         string
	Sources      []string
	Results      []types.RetrievalResult
	ContextChars int
}

// Ask retrieves context for the question, bounds it to the model window and
// asks the generator
func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	if p.Generator == nil {
		return nil, ErrNoGenerator
	}
	if req.NCtx <= 0 {
		req.NCtx = DefaultNCtx
	}
	if req.MaxAnswerTokens <= 0 {
		req.MaxAnswerTokens = generation.DefaultMaxTokens
	}

	results, err := p.Retriever.Query(ctx, req.Search)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNoResults
	}

	budget := assembler.AllowedContextChars(req.NCtx, req.MaxAnswerTokens, assembler.DefaultPromptOverheadTokens)
	block := assembler.BuildContext(results, budget)

	text, err := p.Generator.Generate(ctx, block, req.Search.Query)
	if err != nil {
		return nil, err
	}

	return &Answer{
		Text:         text,
		Sources:      assembler.FormatSources(results),
		Results:      results,
		ContextChars: len([]rune(block)),
	}, nil
}

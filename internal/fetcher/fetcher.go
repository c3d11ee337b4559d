// Package fetcher downloads the text files of a GitHub repository into a
// local directory, preserving the repository layout.
package fetcher

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/repoexplain/internal/chunker"
)

const (
	DefaultAPIBase     = "https://api.github.com"
	DefaultRawBase     = "https://raw.githubusercontent.com"
	DefaultMaxFileSize = 1_000_000
	DefaultWorkers     = 8

	userAgent   = "repoexplain-ingestor/1.0"
	fileTimeout = 15 * time.Second
)

// DefaultExtensions is the allow-list of file extensions worth fetching
var DefaultExtensions = []string{
	".py", ".js", ".ts", ".java", ".md", ".rst", ".txt", ".json", ".yaml",
	".yml", ".html", ".css", ".sh", ".ini", ".cfg", ".toml", ".ipynb",
}

// DefaultExcludes are path segments whose subtrees are never fetched
var DefaultExcludes = []string{"node_modules", ".git", "dist", "build", "vendor", "__pycache__", ".venv"}

var (
	// ErrInvalidRepoURL is returned when owner/repo cannot be parsed
	ErrInvalidRepoURL = errors.New("invalid GitHub repository URL")
	// ErrUnexpectedContent is returned when the contents API does not describe a file
	ErrUnexpectedContent = errors.New("unexpected contents API response")
)

// HTTPError is a non-2xx GitHub response
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Repo identifies a GitHub repository
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoURL accepts https/http URLs, git@github.com:owner/repo and bare
// owner/repo, with or without a trailing .git or slash
func ParseRepoURL(raw string) (Repo, error) {
	s := strings.TrimSpace(raw)
	var p string
	switch {
	case strings.HasPrefix(s, "git@github.com:"):
		p = strings.TrimPrefix(s, "git@github.com:")
	case strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://"):
		_, after, ok := strings.Cut(s, "github.com/")
		if !ok {
			return Repo{}, fmt.Errorf("%w: %s", ErrInvalidRepoURL, raw)
		}
		p = after
	default:
		p = s
	}

	p = strings.TrimRight(p, "/\n")
	p = strings.TrimSuffix(p, ".git")
	parts := strings.Split(p, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: cannot parse owner/repo from %s", ErrInvalidRepoURL, raw)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

// RepoInfo is the subset of repository metadata used here
type RepoInfo struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Description   string `json:"description"`
	Language      string `json:"language"`
}

// TreeEntry is one entry of a recursive git tree. Size is nil for trees.
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size *int64 `json:"size,omitempty"`
}

// Client talks to the GitHub REST API and raw content host
type Client struct {
	apiBase    string
	rawBase    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithBaseURLs points the client at alternate API and raw hosts
func WithBaseURLs(apiBase, rawBase string) Option {
	return func(c *Client) {
		c.apiBase = strings.TrimRight(apiBase, "/")
		c.rawBase = strings.TrimRight(rawBase, "/")
	}
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client. token may be empty for public repositories.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		apiBase:    DefaultAPIBase,
		rawBase:    DefaultRawBase,
		token:      token,
		httpClient: &http.Client{Timeout: fileTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, u string, auth bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	if auth && c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: u}
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) getJSON(ctx context.Context, u string, v interface{}) error {
	body, err := c.get(ctx, u, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", u, err)
	}
	return nil
}

// RepoInfo fetches repository metadata. An empty default branch becomes "main".
func (c *Client) RepoInfo(ctx context.Context, repo Repo) (*RepoInfo, error) {
	var info RepoInfo
	u := fmt.Sprintf("%s/repos/%s/%s", c.apiBase, repo.Owner, repo.Name)
	if err := c.getJSON(ctx, u, &info); err != nil {
		return nil, err
	}
	if info.DefaultBranch == "" {
		info.DefaultBranch = "main"
	}
	return &info, nil
}

// Tree returns the recursive git tree of branch
func (c *Client) Tree(ctx context.Context, repo Repo, branch string) ([]TreeEntry, error) {
	var data struct {
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	u := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.apiBase, repo.Owner, repo.Name, url.PathEscape(branch))
	if err := c.getJSON(ctx, u, &data); err != nil {
		return nil, err
	}
	if data.Truncated {
		c.logger.Warn("git tree truncated by GitHub; some files will be missing", zap.String("repo", repo.String()))
	}
	return data.Tree, nil
}

// FilterOptions restricts which tree entries are fetched
type FilterOptions struct {
	Extensions  []string // nil uses DefaultExtensions
	MaxFileSize int64    // <= 0 uses DefaultMaxFileSize
	Excludes    []string // path segments; nil uses DefaultExcludes
}

// FilterPaths keeps blobs with an allowed extension, a known size within
// the limit (unknown sizes pass) and no excluded path segment
func FilterPaths(tree []TreeEntry, opts FilterOptions) []TreeEntry {
	exts := opts.Extensions
	if exts == nil {
		exts = DefaultExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = true
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	excludes := opts.Excludes
	if excludes == nil {
		excludes = DefaultExcludes
	}
	excluded := make(map[string]bool, len(excludes))
	for _, e := range excludes {
		excluded[e] = true
	}

	var out []TreeEntry
	for _, e := range tree {
		if e.Type != "blob" {
			continue
		}
		if !allowed[strings.ToLower(path.Ext(e.Path))] {
			continue
		}
		if e.Size != nil && *e.Size > maxSize {
			continue
		}
		if hasExcludedSegment(e.Path, excluded) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func hasExcludedSegment(p string, excluded map[string]bool) bool {
	for _, seg := range strings.Split(p, "/") {
		if excluded[seg] {
			return true
		}
	}
	return false
}

// FetchFileText downloads one file, trying the raw host first and the
// contents API second. The second return value names the route used.
func (c *Client) FetchFileText(ctx context.Context, repo Repo, branch, filePath string) (string, string, error) {
	escaped := escapePath(filePath)

	rawURL := fmt.Sprintf("%s/%s/%s/%s/%s", c.rawBase, repo.Owner, repo.Name, url.PathEscape(branch), escaped)
	body, err := c.get(ctx, rawURL, false)
	if err == nil {
		return decodeText(body), "raw", nil
	}
	c.logger.Debug("raw fetch failed, trying contents API", zap.String("path", filePath), zap.Error(err))

	apiURL := fmt.Sprintf("%s/repos/%s/%s/contents/%s?ref=%s", c.apiBase, repo.Owner, repo.Name, escaped, url.QueryEscape(branch))
	var data struct {
		Type     string `json:"type"`
		Encoding string `json:"encoding"`
		Content  string `json:"content"`
	}
	if err := c.getJSON(ctx, apiURL, &data); err != nil {
		return "", "", err
	}

	switch {
	case data.Encoding == "base64":
		// GitHub wraps base64 content at 60 columns
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(data.Content, "\n", ""))
		if err != nil {
			return "", "", fmt.Errorf("failed to decode %s: %w", filePath, err)
		}
		return decodeText(decoded), "api", nil
	case data.Type == "file" && data.Content != "":
		return data.Content, "api", nil
	default:
		return "", "", fmt.Errorf("%w for %s", ErrUnexpectedContent, filePath)
	}
}

func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// decodeText returns UTF-8 text, reading invalid input as Latin-1
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// FetchOptions configures FetchToDir
type FetchOptions struct {
	Filter  FilterOptions
	Workers int // concurrent downloads, default DefaultWorkers
}

// FetchResult summarizes a FetchToDir run
type FetchResult struct {
	Repo     Repo
	Branch   string
	Listed   int // entries surviving FilterPaths
	Fetched  int
	Failed   int
	Duration time.Duration
}

// FetchToDir downloads every filtered file of repoURL under outDir.
// Notebooks are flattened to text before writing. Per-file failures are
// logged and counted, never fatal.
func (c *Client) FetchToDir(ctx context.Context, repoURL, outDir string, opts FetchOptions) (*FetchResult, error) {
	repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	start := time.Now()

	info, err := c.RepoInfo(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository info: %w", err)
	}
	tree, err := c.Tree(ctx, repo, info.DefaultBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tree: %w", err)
	}
	entries := FilterPaths(tree, opts.Filter)

	c.logger.Info("fetching repository",
		zap.String("repo", repo.String()),
		zap.String("branch", info.DefaultBranch),
		zap.Int("tree_entries", len(tree)),
		zap.Int("files", len(entries)))

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var fetched, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, e := range entries {
		g.Go(func() error {
			if err := c.fetchOne(gctx, repo, info.DefaultBranch, e.Path, outDir); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				c.logger.Warn("failed to fetch file", zap.String("path", e.Path), zap.Error(err))
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &FetchResult{
		Repo:     repo,
		Branch:   info.DefaultBranch,
		Listed:   len(entries),
		Fetched:  int(fetched.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}
	c.logger.Info("fetch complete",
		zap.Int("fetched", res.Fetched),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (c *Client) fetchOne(ctx context.Context, repo Repo, branch, filePath, outDir string) error {
	dest, err := outPath(outDir, filePath)
	if err != nil {
		return err
	}
	text, via, err := c.FetchFileText(ctx, repo, branch, filePath)
	if err != nil {
		return err
	}
	if strings.EqualFold(path.Ext(filePath), ".ipynb") {
		text = chunker.ExtractNotebookText(text)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, []byte(text), 0644); err != nil {
		return err
	}
	c.logger.Debug("saved file", zap.String("path", filePath), zap.String("via", via))
	return nil
}

// outPath maps a repo path under outDir, rejecting paths that escape it
func outPath(outDir, repoPath string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(repoPath, "\\", "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) {
		return "", fmt.Errorf("refusing to write outside output directory: %s", repoPath)
	}
	return filepath.Join(outDir, filepath.FromSlash(clean)), nil
}

package chunker

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/dshills/repoexplain/pkg/types"
)

const (
	// DefaultChunkSizeTokens is the default chunk budget in tokens
	DefaultChunkSizeTokens = 1000
	// DefaultOverlapTokens is the default overlap between adjacent char windows
	DefaultOverlapTokens = 200
)

var (
	// ErrInvalidChunkSize is returned when the chunk size is not positive
	ErrInvalidChunkSize = errors.New("chunk size must be > 0")
	// ErrInvalidOverlap is returned when the overlap is negative or not smaller than the chunk size
	ErrInvalidOverlap = errors.New("overlap must be >= 0 and smaller than chunk size")
)

// Options controls chunk sizing. Sizes are in tokens, converted to
// characters at types.CharsPerToken.
type Options struct {
	ChunkSizeTokens int
	OverlapTokens   int
}

// DefaultOptions returns the default chunk sizing
func DefaultOptions() Options {
	return Options{
		ChunkSizeTokens: DefaultChunkSizeTokens,
		OverlapTokens:   DefaultOverlapTokens,
	}
}

// Validate checks the chunk size and overlap
func (o Options) Validate() error {
	return validateSizes(o.ChunkSizeTokens, o.OverlapTokens)
}

func validateSizes(chunkSizeTokens, overlapTokens int) error {
	if chunkSizeTokens <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSizeTokens)
	}
	if overlapTokens < 0 || overlapTokens >= chunkSizeTokens {
		return fmt.Errorf("%w: overlap %d, chunk size %d", ErrInvalidOverlap, overlapTokens, chunkSizeTokens)
	}
	return nil
}

// Chunker splits file content into bounded, typed chunks
type Chunker struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Chunker with validated options
func New(opts Options, logger *zap.Logger) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chunker{opts: opts, logger: logger}, nil
}

// Options returns the chunk sizing in use
func (c *Chunker) Options() Options {
	return c.opts
}

// ChunkFile normalizes content, picks a splitting strategy from the file
// extension and returns the chunks in emission order. Chunk indexes are
// 0-based and contiguous. Empty content yields no chunks.
func (c *Chunker) ChunkFile(content, repo, filePath string) ([]types.Chunk, error) {
	fileType := DetectFileType(filePath)
	if fileType == types.FileNotebook {
		content = ExtractNotebookText(content)
	}

	text := NormalizeText(content)
	if text == "" {
		return nil, nil
	}

	var (
		pieces []string
		err    error
	)
	switch fileType {
	case types.FileMarkdown:
		pieces, err = c.chunkMarkdown(text)
	case types.FileCode:
		pieces, err = c.chunkCode(text, FamilyForPath(filePath))
	default:
		pieces, err = ChunkByChar(text, c.opts.ChunkSizeTokens, c.opts.OverlapTokens)
	}
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", filePath, err)
	}

	chunks := make([]types.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		if strings.TrimSpace(piece) == "" {
			continue
		}
		chunks = append(chunks, types.Chunk{
			Content: piece,
			Metadata: types.ChunkMetadata{
				Repo:       repo,
				FilePath:   filePath,
				FileType:   fileType,
				ChunkIndex: len(chunks),
			},
		})
	}
	return chunks, nil
}

var headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+`)

// chunkMarkdown splits at heading lines, dropping the heading marker, and
// char-chunks each non-empty section.
func (c *Chunker) chunkMarkdown(text string) ([]string, error) {
	var out []string
	for _, section := range headingPattern.Split(text, -1) {
		if strings.TrimSpace(section) == "" {
			continue
		}
		pieces, err := ChunkByChar(section, c.opts.ChunkSizeTokens, c.opts.OverlapTokens)
		if err != nil {
			return nil, err
		}
		out = append(out, pieces...)
	}
	return out, nil
}

func (c *Chunker) chunkCode(text string, family LanguageFamily) ([]string, error) {
	blocks := SplitterFor(family).Split(text)
	if len(blocks) <= 1 {
		return ChunkByChar(text, c.opts.ChunkSizeTokens, c.opts.OverlapTokens)
	}

	var out []string
	for _, block := range blocks {
		pieces, err := ChunkByChar(block, c.opts.ChunkSizeTokens, c.opts.OverlapTokens)
		if err != nil {
			return nil, err
		}
		out = append(out, pieces...)
	}
	return out, nil
}

// ChunkByChar cuts text into fixed windows of chunkSizeTokens*4 characters,
// each starting overlapTokens*4 characters before the previous window's end.
// Windows are trimmed and empty ones dropped.
func ChunkByChar(text string, chunkSizeTokens, overlapTokens int) ([]string, error) {
	if err := validateSizes(chunkSizeTokens, overlapTokens); err != nil {
		return nil, err
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	size := chunkSizeTokens * types.CharsPerToken
	overlap := overlapTokens * types.CharsPerToken

	var chunks []string
	start := 0
	for start < len(runes) {
		end := min(start+size, len(runes))
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end >= len(runes) {
			break
		}
		start = max(0, end-overlap)
	}
	return chunks, nil
}

var newlineReplacer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// NormalizeText unifies line endings, strips trailing whitespace from every
// line, collapses runs of more than two blank lines and trims the result.
func NormalizeText(text string) string {
	text = newlineReplacer.Replace(text)
	lines := strings.Split(text, "\n")

	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		if line == "" {
			blank++
			if blank > 2 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

var extensionTypes = map[string]types.FileType{
	".md":    types.FileMarkdown,
	".rst":   types.FileMarkdown,
	".py":    types.FileCode,
	".js":    types.FileCode,
	".ts":    types.FileCode,
	".java":  types.FileCode,
	".go":    types.FileCode,
	".rb":    types.FileCode,
	".json":  types.FileConfig,
	".yaml":  types.FileConfig,
	".yml":   types.FileConfig,
	".toml":  types.FileConfig,
	".ini":   types.FileConfig,
	".ipynb": types.FileNotebook,
}

// DetectFileType maps a path's extension (case-insensitive) to a FileType.
// Unknown extensions are plain text.
func DetectFileType(path string) types.FileType {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return types.FileText
}

// Package assembler renders ranked retrieval results into one bounded
// context block for the generation prompt.
package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/repoexplain/pkg/types"
)

const (
	// Separator joins rendered blocks
	Separator = "\n\n---\n\n"

	// DefaultPromptOverheadTokens is reserved for the system and user prompt text
	DefaultPromptOverheadTokens = 400

	// blockOverhead is charged per block against the budget
	blockOverhead = 2

	minContextTokens = 256
	minContextChars  = 1024
)

// RenderBlock formats one result as
// "[CTX #i] {repo} :: {file_path} :: chunk {chunk_index}\n{document}", trimmed.
// i is 1-based.
func RenderBlock(i int, r types.RetrievalResult) string {
	header := fmt.Sprintf("[CTX #%d] %s :: %s :: chunk %d", i, r.Metadata.Repo, r.Metadata.FilePath, r.Metadata.ChunkIndex)
	return strings.TrimSpace(header + "\n" + r.Document)
}

// BuildContext joins rendered results in rank order with Separator. It stops
// before the first block that would push the running total (each block
// charged its length plus 2) past maxChars, and never returns a string longer
// than maxChars. Blocks are never truncated. Lengths are counted in characters.
func BuildContext(results []types.RetrievalResult, maxChars int) string {
	var (
		parts  []string
		total  int // budget accounting: len(block) + 2 per block
		joined int // actual length of the joined string
	)
	sepLen := utf8.RuneCountInString(Separator)

	for i, r := range results {
		block := RenderBlock(i+1, r)
		n := utf8.RuneCountInString(block)

		if total+n+blockOverhead > maxChars {
			break
		}
		next := joined + n
		if len(parts) > 0 {
			next += sepLen
		}
		if next > maxChars {
			break
		}

		parts = append(parts, block)
		total += n + blockOverhead
		joined = next
	}
	return strings.Join(parts, Separator)
}

// AllowedContextChars converts a model context window into a character budget
// for the context block: max(256, nCtx-maxAnswerTokens-overheadTokens) tokens
// at 4 characters per token, never below 1024 characters.
func AllowedContextChars(nCtx, maxAnswerTokens, overheadTokens int) int {
	tokens := max(minContextTokens, nCtx-maxAnswerTokens-overheadTokens)
	return max(minContextChars, tokens*types.CharsPerToken)
}

// FormatSources lists the distinct source labels of results in first-seen order
func FormatSources(results []types.RetrievalResult) []string {
	seen := make(map[string]bool, len(results))
	var out []string
	for _, r := range results {
		label := r.SourceLabel()
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		out = append(out, label)
	}
	return out
}

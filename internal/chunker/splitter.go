package chunker

import (
	"path/filepath"
	"regexp"
	"strings"
)

// LanguageFamily selects the block splitting strategy for code files
type LanguageFamily int

const (
	// FamilyBrace covers brace and keyword delimited languages (Go, JS, TS, Java)
	FamilyBrace LanguageFamily = iota
	// FamilyIndent covers languages whose blocks open with def/class (Python, Ruby)
	FamilyIndent
)

// String returns the family name
func (f LanguageFamily) String() string {
	switch f {
	case FamilyIndent:
		return "indent"
	default:
		return "brace"
	}
}

// FamilyForPath picks the language family from a file extension
func FamilyForPath(path string) LanguageFamily {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py", ".rb":
		return FamilyIndent
	default:
		return FamilyBrace
	}
}

// Splitter cuts normalized code into top-level blocks
type Splitter interface {
	Split(text string) []string
}

// StarterSplitter opens a new block at every line matching Starter.
// Lines before the first starter form their own block.
type StarterSplitter struct {
	Starter *regexp.Regexp
}

// Split returns the trimmed, non-empty blocks in source order
func (s StarterSplitter) Split(text string) []string {
	var (
		blocks  []string
		current []string
	)
	flush := func() {
		if block := strings.TrimSpace(strings.Join(current, "\n")); block != "" {
			blocks = append(blocks, block)
		}
		current = current[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		if s.Starter.MatchString(line) && len(current) > 0 {
			flush()
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

var splitters = map[LanguageFamily]Splitter{
	FamilyIndent: StarterSplitter{Starter: regexp.MustCompile(`^\s*(def |class )`)},
	FamilyBrace:  StarterSplitter{Starter: regexp.MustCompile(`^\s*(func |function |class |const |let |var |export )`)},
}

// SplitterFor returns the splitter registered for a family
func SplitterFor(family LanguageFamily) Splitter {
	if s, ok := splitters[family]; ok {
		return s
	}
	return splitters[FamilyBrace]
}

package chunker

import (
	"encoding/json"
	"fmt"
	"strings"
)

type notebook struct {
	Cells []struct {
		CellType string          `json:"cell_type"`
		Source   json.RawMessage `json:"source"`
	} `json:"cells"`
}

// ExtractNotebookText flattens a Jupyter notebook into plain text, one
// "# <type> cell" section per cell. Input that is not notebook JSON is
// returned unchanged, so flattening twice is harmless.
func ExtractNotebookText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return raw
	}

	var nb notebook
	if err := json.Unmarshal([]byte(trimmed), &nb); err != nil || nb.Cells == nil {
		return raw
	}

	parts := make([]string, 0, len(nb.Cells))
	for _, cell := range nb.Cells {
		cellType := cell.CellType
		if cellType == "" {
			cellType = "code"
		}
		parts = append(parts, fmt.Sprintf("# %s cell\n%s", cellType, cellSource(cell.Source)))
	}
	return strings.Join(parts, "\n\n")
}

// cellSource accepts both the list-of-lines and the single string encodings
func cellSource(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err == nil {
		return strings.Join(lines, "")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

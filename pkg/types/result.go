package types

// RetrievalResult is one ranked hit returned by the retriever
type RetrievalResult struct {
	ID       string        `json:"id"`
	Document string        `json:"document"`
	Metadata ChunkMetadata `json:"metadata"`

	// Distance is nil when the store does not report one. Lower is closer.
	Distance *float64 `json:"distance"`
}

// SourceLabel returns the "repo :: file_path" label used in source listings,
// or just the path when the repo is unknown
func (r RetrievalResult) SourceLabel() string {
	if r.Metadata.Repo == "" {
		return r.Metadata.FilePath
	}
	return r.Metadata.Repo + " :: " + r.Metadata.FilePath
}

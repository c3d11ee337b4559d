package types

import "errors"

// Domain errors for type validation
var (
	ErrEmptyContent      = errors.New("content cannot be empty")
	ErrMissingFilePath   = errors.New("file path is required")
	ErrInvalidFileType   = errors.New("invalid file type")
	ErrInvalidChunkIndex = errors.New("chunk index must be >= 0")
	ErrUnknownField      = errors.New("unknown metadata field")
)

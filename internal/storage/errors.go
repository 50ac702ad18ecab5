package storage

import "errors"

var (
	ErrQdrantUnreachable = errors.New("qdrant server unreachable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrParentMissing means a category was upserted before its parent.
	ErrParentMissing = errors.New("parent category not mirrored")
	ErrNotFound      = errors.New("record not found")
)

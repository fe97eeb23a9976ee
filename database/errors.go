package database

import "errors"

var (
	// ErrNotFound is returned when an upload record does not exist
	ErrNotFound = errors.New("upload record not found")

	// ErrUnsupportedDBType is returned for unknown database types
	ErrUnsupportedDBType = errors.New("unsupported database type")
)

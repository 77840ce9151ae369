// Package state provides the session persistence backends: a JSON-file
// store and a SQLite store.
package state

import "github.com/user/folio/internal/types"

// Compile-time interface compliance checks.
var _ types.Store = (*FileStore)(nil)
var _ types.Store = (*SQLiteStore)(nil)

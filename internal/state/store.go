package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/user/folio/internal/types"
)

const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open returns the store for driver rooted at dataDir.
func Open(driver, dataDir string) (types.Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(dataDir), nil
	case DriverSQLite:
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return NewSQLiteStore("file:" + filepath.Join(dataDir, "folio.db") + "?_foreign_keys=on&_busy_timeout=5000")
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}

func fillConcept(c types.Concept, id types.SessionID, now time.Time) types.Concept {
	if c.ID == "" {
		c.ID = types.NewConceptID()
	}
	c.SessionID = id
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	return c
}

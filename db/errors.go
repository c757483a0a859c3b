package db

import (
	"strings"

	"github.com/teranos/reel/errors"
)

// ErrDatabaseClosed is returned when a job snapshot is written after the
// database was closed during shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is gone,
// either ErrDatabaseClosed or the driver's own "database is closed".
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

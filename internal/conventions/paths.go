// Package conventions has the file layout of the taskdash data directory.
package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default taskdash data directory name (relative to home).
	DefaultDataDir = ".taskdash"

	// DBFile is the SQLite database filename.
	DBFile = "taskdash.db"
	// SessionFile is the CLI persisted session filename.
	SessionFile = "session.json"
)

// DBPath returns the SQLite database path inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// SessionPath returns the persisted session path inside a data directory.
func SessionPath(dataDir string) string {
	return filepath.Join(dataDir, SessionFile)
}

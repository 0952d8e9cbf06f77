package testfixtures

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"

	_ "modernc.org/sqlite"
)

// TestDatabase wraps a throwaway SQLite database backed by a temp file,
// used by tests that need real driver round-trips rather than mocks.
type TestDatabase struct {
	DBName string
	path   string
	*sql.DB
}

func NewTestDatabase() (*TestDatabase, error) {
	name := fmt.Sprintf("opor_test_%d", rand.Intn(1<<30))
	f, err := os.CreateTemp("", name+"-*.db")
	if err != nil {
		return nil, err
	}
	path := f.Name()
	f.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids "database is locked"
	// errors from concurrent pooled connections against the same file.
	db.SetMaxOpenConns(1)

	return &TestDatabase{
		DB:     db,
		DBName: name,
		path:   path,
	}, nil
}

func (t *TestDatabase) Close() error {
	if err := t.DB.Close(); err != nil {
		return err
	}
	return os.Remove(t.path)
}

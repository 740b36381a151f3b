//go:build !test_db_postgres
// +build !test_db_postgres

package tollgatedb

import (
	"testing"
)

// NewTestDB is a helper function that creates a database for testing. By
// default this is an SQLite database backed by a temporary file. Build with
// the test_db_postgres tag to run the same tests against a Postgres instance
// spun up in docker instead.
func NewTestDB(t *testing.T) *SqliteStore {
	return NewTestSqliteDB(t)
}

//go:build test_db_postgres
// +build test_db_postgres

package tollgatedb

import (
	"testing"
)

// NewTestDB is a helper function that creates a Postgres database in a docker
// container for testing.
func NewTestDB(t *testing.T) *PostgresStore {
	return NewTestPostgresDB(t)
}

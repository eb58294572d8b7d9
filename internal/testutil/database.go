package testutil

import (
	"testing"

	"workshop/internal/db"

	"github.com/stretchr/testify/require"
)

// NewTestDB opens a migrated in-memory store that is closed with the test
func NewTestDB(t *testing.T, store string) *db.DB {
	t.Helper()
	database, err := db.Open(db.MemoryConfig(store))
	require.NoError(t, err)
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// NewIncidentDB opens an in-memory incident store
func NewIncidentDB(t *testing.T) *db.DB {
	t.Helper()
	return NewTestDB(t, db.StoreIncidents)
}

// NewHeartbeatDB opens an in-memory heartbeat store
func NewHeartbeatDB(t *testing.T) *db.DB {
	t.Helper()
	return NewTestDB(t, db.StoreHeartbeat)
}

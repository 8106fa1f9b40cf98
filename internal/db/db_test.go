package db

import (
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DBPair {
	t.Helper()
	dbPair, err := Init(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return dbPair
}

func TestInit_RequiresPath(t *testing.T) {
	_, err := Init("")
	require.Error(t, err)
}

func TestInit_AppliesSchemaAndMigrations(t *testing.T) {
	dbPair := setupTestDB(t)

	columns, err := tableColumns(dbPair.Writer(), "dose_logs")
	require.NoError(t, err)
	for _, column := range []string{"schedule_id", "date_key", "status", "caretaker_called_at", "call_provider", "call_reference", "call_status"} {
		require.True(t, columns[column], column)
	}

	auditColumns, err := tableColumns(dbPair.Writer(), "audit_events")
	require.NoError(t, err)
	require.True(t, auditColumns["request_id"])
}

func TestInit_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	first, err := Init(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Init(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestSeedDemo(t *testing.T) {
	dbPair := setupTestDB(t)
	now := time.Date(2026, 10, 15, 2, 0, 0, 0, time.UTC)

	require.NoError(t, SeedDemo(dbPair, "hash", now))
	require.NoError(t, SeedDemo(dbPair, "hash", now))

	var users, schedules int
	require.NoError(t, dbPair.Reader().QueryRow("SELECT COUNT(*) FROM users").Scan(&users))
	require.NoError(t, dbPair.Reader().QueryRow("SELECT COUNT(*) FROM schedules").Scan(&schedules))
	require.Equal(t, 2, users)
	require.Equal(t, 1, schedules)

	var owner string
	require.NoError(t, dbPair.Reader().QueryRow("SELECT owner_id FROM schedules WHERE id = ?", DemoScheduleID).Scan(&owner))
	require.Equal(t, DemoGuardianID, owner)
}

func TestScheduleDeleteCascades(t *testing.T) {
	dbPair := setupTestDB(t)
	now := time.Now()
	require.NoError(t, SeedDemo(dbPair, "hash", now))

	_, err := dbPair.Writer().Exec(`
		INSERT INTO dose_logs (id, schedule_id, date_key, status, created_at, updated_at)
		VALUES ('log-1', ?, '2026-10-15', 'taken', ?, ?)
	`, DemoScheduleID, FormatTime(now), FormatTime(now))
	require.NoError(t, err)

	_, err = dbPair.Writer().Exec("DELETE FROM schedules WHERE id = ?", DemoScheduleID)
	require.NoError(t, err)

	var logs int
	require.NoError(t, dbPair.Writer().QueryRow("SELECT COUNT(*) FROM dose_logs").Scan(&logs))
	require.Zero(t, logs)
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 15, 8, 5, 0, 123456000, time.FixedZone("IST", 19800))

	parsed, err := ParseTime(FormatTime(at))
	require.NoError(t, err)
	require.True(t, at.Equal(parsed))

	nullValue := NullTime(nil)
	require.False(t, nullValue.Valid)
	missing, err := ParseNullTime(nullValue)
	require.NoError(t, err)
	require.Nil(t, missing)

	require.Less(t, FormatTime(at), FormatTime(at.Add(time.Millisecond)))
}

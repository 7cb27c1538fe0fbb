package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/comps-api/internal/usage"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	st, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	lite := &Store{driver: DriverSQLite}
	pg := &Store{driver: DriverPostgres}
	q := `SELECT 1 WHERE a=$1 AND b=$2 OR c=$10`
	assert.Equal(t, `SELECT 1 WHERE a=?1 AND b=?2 OR c=?10`, lite.rebind(q))
	assert.Equal(t, q, pg.rebind(q))
}

func TestMigrateIsRepeatable(t *testing.T) {
	st := openSQLite(t)
	require.NoError(t, st.Migrate(context.Background()))
}

func TestSQLUsageGetOrCreate(t *testing.T) {
	st := openSQLite(t)
	ctx := context.Background()

	c, err := st.Usage().Get(ctx, "user-1", "2026-10")
	require.NoError(t, err)
	assert.Equal(t, usage.Counter{UserID: "user-1", YearMonth: "2026-10"}, c)

	var rows int
	require.NoError(t, st.DB.QueryRow(`SELECT COUNT(*) FROM api_usage`).Scan(&rows))
	assert.Equal(t, 1, rows)

	_, err = st.Usage().Get(ctx, "user-1", "2026-10")
	require.NoError(t, err)
	require.NoError(t, st.DB.QueryRow(`SELECT COUNT(*) FROM api_usage`).Scan(&rows))
	assert.Equal(t, 1, rows, "second read must not insert")
}

func TestSQLUsageIncrement(t *testing.T) {
	st := openSQLite(t)
	ctx := context.Background()
	tr := st.Usage()

	for i := 1; i <= 5; i++ {
		c, err := tr.Increment(ctx, "user-1", "2026-10", usage.MeterA)
		require.NoError(t, err)
		assert.Equal(t, i, c.CountA)
		assert.Equal(t, 0, c.CountB)
	}
	c, err := tr.Increment(ctx, "user-1", "2026-10", usage.MeterB)
	require.NoError(t, err)
	assert.Equal(t, 5, c.CountA)
	assert.Equal(t, 1, c.CountB)

	_, err = tr.Increment(ctx, "user-1", "2026-10", usage.Meter("x"))
	assert.ErrorIs(t, err, usage.ErrUnknownMeter)
}

func TestSQLUsageIncrementConcurrent(t *testing.T) {
	st := openSQLite(t)
	ctx := context.Background()
	tr := st.Usage()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.Increment(ctx, "user-2", "2026-10", usage.MeterB)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := tr.Get(ctx, "user-2", "2026-10")
	require.NoError(t, err)
	assert.Equal(t, 25, c.CountB)
}

func TestWriteSnapshot(t *testing.T) {
	st := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, st.WriteSnapshot(ctx, "ValuationProvider", "/avm/value", "", []byte(`{"price":1}`)))
	require.NoError(t, st.WriteSnapshot(ctx, "ValuationProvider", "/avm/value", "", nil))

	var n int
	var sha string
	require.NoError(t, st.DB.QueryRow(`SELECT COUNT(*), MAX(payload_sha256) FROM provider_raw_snapshots`).Scan(&n, &sha))
	assert.Equal(t, 1, n)
	assert.Len(t, sha, 64)
}

// Runs against a real database when PG_DSN is set.
func TestPostgresUsageIncrement(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	st, err := Open(DriverPostgres, dsn)
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	before, err := st.Usage().Get(ctx, "pg-test-user", "1999-01")
	require.NoError(t, err)
	after, err := st.Usage().Increment(ctx, "pg-test-user", "1999-01", usage.MeterA)
	require.NoError(t, err)
	assert.Equal(t, before.CountA+1, after.CountA)
}

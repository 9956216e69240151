package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mini-rodalies-3d/transitpipe/internal/canonical"
	"github.com/mini-rodalies-3d/transitpipe/internal/db"
	"github.com/mini-rodalies-3d/transitpipe/internal/schema"
)

// newPostgresStore runs against DATABASE_URL in a throwaway schema.
func newPostgresStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set - skipping integration test")
	}
	ctx := context.Background()
	ns := fmt.Sprintf("transitpipe_test_%d", time.Now().UnixNano())

	database, err := db.Connect(ctx, db.Options{Driver: db.Postgres, DSN: dsn, Schema: ns})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = database.Conn().ExecContext(context.Background(), fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, ns))
		database.Close()
	})

	m, err := schema.NewManager(database, nil, schema.Builtin()...)
	require.NoError(t, err)
	require.NoError(t, m.EnsureSchema(ctx, ns))
	_, err = m.Migrate(ctx)
	require.NoError(t, err)
	_, err = m.EnsureTables(ctx, schema.TableRequest{
		Required: canonical.CoreTables,
		Optional: []string{canonical.TableFares, canonical.TableTransfers},
		DataContext: canonical.DataContext{
			canonical.FlagHasFareData:     true,
			canonical.FlagHasTransferData: true,
		},
	})
	require.NoError(t, err)
	return New(database)
}

func TestPostgresUpsertAndQuery(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.UpsertRecordSet(ctx, sampleRecordSet())
		require.NoError(t, err)
	}

	n, err := s.CountRows(ctx, canonical.TableStops, "f")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	sched, err := s.Schedule(ctx, "f:T1")
	require.NoError(t, err)
	require.Len(t, sched, 2)
	assert.Equal(t, "f:A", sched[0].StopID)

	loc, err := s.StopLocation(ctx, "f:B")
	require.NoError(t, err)
	assert.Contains(t, loc, "Point")
}

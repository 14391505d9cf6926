package migration_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/procura/internal/database"
	"github.com/Additional-Code/procura/internal/migration"
	"github.com/Additional-Code/procura/internal/testutil"
)

func TestMigratorUpDown(t *testing.T) {
	ctx := context.Background()
	conns, err := database.Open(testutil.SQLiteConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conns.Close() })

	mig, err := migration.New(conns, testutil.Logger(t))
	require.NoError(t, err)

	require.NoError(t, mig.Up(ctx))
	version, err := mig.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	// A second run has nothing left to apply.
	require.NoError(t, mig.Up(ctx))

	var count int
	require.NoError(t, conns.Writer.NewSelect().TableExpr("orders").ColumnExpr("COUNT(*)").Scan(ctx, &count))
	assert.Zero(t, count)

	require.NoError(t, mig.Down(ctx, 0, true))
	version, err = mig.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := migration.New(&database.Connections{Driver: "oracle"}, testutil.Logger(t))
	assert.Error(t, err)
}

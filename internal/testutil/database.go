// Package testutil holds helpers shared by package tests that need a migrated database.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Additional-Code/procura/internal/config"
	"github.com/Additional-Code/procura/internal/database"
	"github.com/Additional-Code/procura/internal/migration"
)

// SQLiteConfig returns database settings for a fresh SQLite file under dir.
func SQLiteConfig(dir string) config.Database {
	dsn := "file:" + filepath.Join(dir, "orders.db") + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	return config.Database{
		Driver:       "sqlite",
		WriterDSN:    dsn,
		ReaderDSN:    dsn,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// NewConnections opens a migrated SQLite database that is closed when the test ends.
func NewConnections(t *testing.T) *database.Connections {
	t.Helper()
	return newConnections(t, SQLiteConfig(t.TempDir()))
}

func newConnections(t *testing.T, cfg config.Database) *database.Connections {
	t.Helper()

	conns, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = conns.Close() })

	mig, err := migration.New(conns, Logger(t))
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	if err := mig.Up(context.Background()); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return conns
}

// Logger returns a logger that writes through t.Log.
func Logger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
	"github.com/sirupsen/logrus"

	"github.com/screening-gateway/gateway/config"
	"github.com/screening-gateway/gateway/internal/apierror"
)

//go:embed sql
var SQLFiles embed.FS

const (
	sqliteDialect = "sqlite3"

	// busyTimeoutMillis is how long a writer waits on a locked database before SQLITE_BUSY.
	busyTimeoutMillis = 30000
)

// Schema names one of the two independent SQLite stores and its embedded migrations.
type Schema struct {
	Name  string
	Table string
	Root  string
}

var (
	WorklistSchema = Schema{Name: "worklist", Table: "worklist_items", Root: "sql/worklist"}
	InstanceSchema = Schema{Name: "instances", Table: "stored_instances", Root: "sql/instances"}
)

func (s Schema) migrationSet() *migrate.MigrationSet {
	return &migrate.MigrationSet{TableName: s.Name + "_migrations"}
}

func (s Schema) source() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: SQLFiles,
		Root:       s.Root,
	}
}

// ConnectDB opens the SQLite database at path with write-ahead logging and
// NORMAL synchronisation applied to every pooled connection.
func ConnectDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d&_txlock=immediate", path, busyTimeoutMillis)
	db, err := sql.Open(sqliteDialect, dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		logrus.WithField("path", path).Errorf("database connection error: %v", err)
		_ = db.Close()
		return nil, err
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		_ = db.Close()
		return nil, err
	}
	if !strings.EqualFold(mode, "wal") {
		logrus.WithFields(logrus.Fields{"path": path, "journal_mode": mode}).Warn("database is not in WAL mode")
	}

	return db, nil
}

// EnsureSchema applies the embedded migrations when the schema's primary table
// does not exist yet. It is a no-op on a database that already has the table.
func EnsureSchema(ctx context.Context, db *sql.DB, schema Schema) error {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, schema.Table).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking %s schema: %w", schema.Name, err)
	}
	if count > 0 {
		return nil
	}

	n, err := Migrate(db, schema, migrate.Up)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"schema": schema.Name, "migrations": n}).Info("initialised database schema")
	return nil
}

// Migrate runs the schema's embedded migrations in the given direction.
func Migrate(db *sql.DB, schema Schema, dir migrate.MigrationDirection) (int, error) {
	n, err := schema.migrationSet().Exec(db, sqliteDialect, schema.source(), dir)
	if err != nil {
		return n, fmt.Errorf("migrating %s schema: %w", schema.Name, err)
	}
	return n, nil
}

// OpenWorklistStore connects to the worklist database and initialises its schema.
func OpenWorklistStore(ctx context.Context, cfg *config.Configuration) (*WorklistStore, error) {
	db, err := ConnectDB(cfg.MWL.DBPath)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, db, WorklistSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWorklistStore(db), nil
}

// OpenInstanceStore connects to the image database and initialises its schema
// and blob directory.
func OpenInstanceStore(ctx context.Context, cfg *config.Configuration) (*InstanceStore, error) {
	db, err := ConnectDB(cfg.PACS.DBPath)
	if err != nil {
		return nil, err
	}
	if err := EnsureSchema(ctx, db, InstanceSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := NewInstanceStore(db, cfg.PACS.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func internalError(message string, err error) error {
	return apierror.NewAPIError(apierror.ErrInternalServer, message, err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

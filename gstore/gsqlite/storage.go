// Package gsqlite contains a [gstore.Storage] backed by SQLite.
//
// Building with cgo uses github.com/mattn/go-sqlite3;
// building with the purego tag, or without cgo, uses modernc.org/sqlite.
package gsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gordian-engine/ggov/gstore"
)

// Storage stores each blob as a row in a single table.
type Storage struct {
	// The string "purego" or "cgo" depending on build tags.
	BuildType string

	// Reads go through ro and may run concurrently;
	// ro is nil for the in-memory database.
	// rw is limited to one connection,
	// so writers queue on the pool instead of seeing "database is locked".
	ro, rw *sql.DB
}

// NewOnDiskStorage opens or creates the database at dbPath.
func NewOnDiskStorage(ctx context.Context, dbPath string) (*Storage, error) {
	dbPath = filepath.Clean(dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat path %q: %w", dbPath, err)
		}

		// The startup pragmas fail against a missing file.
		// O_EXCL so a concurrently created database is never truncated.
		f, err := os.OpenFile(dbPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to create empty database file: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, fmt.Errorf("failed to close new empty database file: %w", err)
		}
	}

	uri := "file:" + dbPath + "?mode=rw"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}
	rw.SetMaxOpenConns(1)

	// Persistent, and only relevant to on-disk databases.
	if _, err := rw.ExecContext(ctx, `PRAGMA journal_mode = WAL`); err != nil {
		_ = rw.Close()
		return nil, fmt.Errorf("failed to set journal_mode=WAL: %w", err)
	}

	if err := migrate(ctx, rw); err != nil {
		_ = rw.Close()
		return nil, err
	}

	// Change mode=rw to mode=ro (since we know that was the final query parameter).
	uri = uri[:len(uri)-1] + "o"
	ro, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		_ = rw.Close()
		return nil, fmt.Errorf("error opening read-only database: %w", err)
	}

	return &Storage{
		BuildType: sqliteBuildType,

		ro: ro,
		rw: rw,
	}, nil
}

var inMemNameCounter uint32

// NewInMemStorage returns a Storage using a private in-memory database.
func NewInMemStorage(ctx context.Context) (*Storage, error) {
	dbName := fmt.Sprintf("ggov%d", atomic.AddUint32(&inMemNameCounter, 1))

	// A named shared-cache database lets both pools see the same data.
	// _txlock=immediate takes the write lock at the start of each write transaction.
	uri := "file:" + dbName + "?mode=memory&cache=shared&_txlock=immediate"

	rw, err := sql.Open(sqliteDriverType, uri)
	if err != nil {
		return nil, fmt.Errorf("error opening read-write database: %w", err)
	}
	rw.SetMaxOpenConns(1)

	if err := migrate(ctx, rw); err != nil {
		_ = rw.Close()
		return nil, err
	}

	// Shared-cache readers on separate connections can fail with
	// "table is locked" while a write is in flight,
	// so the in-memory database serves reads from the single rw connection.
	return &Storage{
		BuildType: sqliteBuildType,

		rw: rw,
	}, nil
}

func (s *Storage) Close() error {
	var errRO error
	if s.ro != nil {
		errRO = s.ro.Close()
		if errRO != nil {
			errRO = fmt.Errorf("error closing read-only database: %w", errRO)
		}
	}
	errRW := s.rw.Close()
	if errRW != nil {
		errRW = fmt.Errorf("error closing read-write database: %w", errRW)
	}

	return errors.Join(errRO, errRW)
}

func (s *Storage) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := gstore.ValidateName(name); err != nil {
		return nil, err
	}

	db := s.ro
	if db == nil {
		db = s.rw
	}

	var data []byte
	err := db.QueryRowContext(
		ctx, `SELECT data FROM files WHERE name = ?;`, name,
	).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read %q: %w", name, gstore.ErrFileNotFound)
		}
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}

	if data == nil {
		// Zero-length blobs may scan as nil.
		data = []byte{}
	}
	return data, nil
}

func (s *Storage) AddOrOverwriteFile(ctx context.Context, name string, data []byte) error {
	if err := gstore.ValidateName(name); err != nil {
		return err
	}

	if data == nil {
		// A nil slice would bind as NULL.
		data = []byte{}
	}

	if _, err := s.rw.ExecContext(
		ctx,
		`INSERT INTO files(name, data) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET data = excluded.data;`,
		name, data,
	); err != nil {
		return fmt.Errorf("failed to write %q: %w", name, err)
	}

	return nil
}

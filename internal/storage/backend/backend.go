// Package backend opens the storage.Store named by a connection string.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tap30/beacon-go/internal/storage"
	"github.com/Tap30/beacon-go/internal/storage/memory"
	"github.com/Tap30/beacon-go/internal/storage/postgres"
	"github.com/Tap30/beacon-go/internal/storage/sqlite"
)

// Kind identifies a storage backend.
type Kind string

const (
	KindMemory   Kind = "memory"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
)

// ErrNoConnection is returned for an empty connection string.
var ErrNoConnection = errors.New("storage connection string is not set")

// Parse splits a connection string into the backend kind and the
// driver-specific address.
//
//	memory:                     in-process maps
//	sqlite:<path>, file:<path>  SQLite database file
//	postgres://…, postgresql://… PostgreSQL
func Parse(conn string) (Kind, string, error) {
	conn = strings.TrimSpace(conn)
	switch {
	case conn == "":
		return "", "", ErrNoConnection
	case conn == "memory:" || conn == "memory":
		return KindMemory, "", nil
	case strings.HasPrefix(conn, "sqlite:"):
		path := strings.TrimPrefix(conn, "sqlite:")
		if path == "" {
			return "", "", fmt.Errorf("sqlite connection %q has no path", conn)
		}
		return KindSQLite, path, nil
	case strings.HasPrefix(conn, "file:"):
		return KindSQLite, conn, nil
	case strings.HasPrefix(conn, "postgres://"), strings.HasPrefix(conn, "postgresql://"):
		return KindPostgres, conn, nil
	default:
		return "", "", fmt.Errorf("unsupported storage connection %q", redact(conn))
	}
}

// Options tune Open.
type Options struct {
	// Migrate applies pending Postgres migrations before returning.
	Migrate bool
}

// Open parses conn and opens the backend it names.
func Open(conn string, opts Options) (storage.Store, Kind, error) {
	kind, addr, err := Parse(conn)
	if err != nil {
		return nil, "", err
	}

	switch kind {
	case KindMemory:
		return memory.New(), kind, nil
	case KindSQLite:
		s, err := sqlite.Open(addr)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite: %w", err)
		}
		return s, kind, nil
	default:
		if opts.Migrate {
			if err := postgres.Migrate(addr, "up"); err != nil {
				return nil, "", err
			}
		}
		s, err := postgres.Open(addr)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return s, kind, nil
	}
}

// redact hides everything after the scheme so credentials never reach logs.
func redact(conn string) string {
	if i := strings.Index(conn, ":"); i >= 0 {
		return conn[:i+1] + "…"
	}
	return "…"
}

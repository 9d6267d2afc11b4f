// Package sqlite is a storage.Store backed by a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Tap30/beacon-go/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - user_profiles and events tables
const currentSchemaVersion = 1

// Store provides durable storage for profiles and events.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open creates or opens a SQLite database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

const profileColumns = `add_on, user_id, width, height, color_depth, pixel_depth,
	locale, theme, format, platform, device_class, in_app_purchase_allowed,
	premium_user, version, api_version, simulate_free_user, extensions,
	first_usage, updated_at`

func (s *Store) GetUser(ctx context.Context, addOn, userID string) (*storage.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+`
		FROM user_profiles WHERE add_on = ? AND user_id = ?`, addOn, userID)

	var (
		p                     storage.UserProfile
		simulate              sql.NullBool
		extensions            string
		firstUsage, updatedAt int64
	)
	err := row.Scan(
		&p.AddOn, &p.UserID, &p.Width, &p.Height, &p.ColorDepth, &p.PixelDepth,
		&p.Locale, &p.Theme, &p.Format, &p.Platform, &p.DeviceClass, &p.InAppPurchaseAllowed,
		&p.PremiumUser, &p.Version, &p.APIVersion, &simulate, &extensions,
		&firstUsage, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if simulate.Valid {
		p.SimulateFreeUser = &simulate.Bool
	}
	if p.Extensions, err = unmarshalExtensions(extensions); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	p.FirstUsage = fromMillis(firstUsage)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func (s *Store) InsertUser(ctx context.Context, p *storage.UserProfile) error {
	extensions, err := marshalExtensions(p.Extensions)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO user_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AddOn, p.UserID, p.Width, p.Height, p.ColorDepth, p.PixelDepth,
		p.Locale, p.Theme, p.Format, p.Platform, p.DeviceClass, p.InAppPurchaseAllowed,
		p.PremiumUser, p.Version, p.APIVersion, nullBool(p.SimulateFreeUser), extensions,
		toMillis(p.FirstUsage), toMillis(p.UpdatedAt),
	)
	if isConstraintError(err) {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, p *storage.UserProfile) error {
	extensions, err := marshalExtensions(p.Extensions)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE user_profiles SET
		width = ?, height = ?, color_depth = ?, pixel_depth = ?,
		locale = ?, theme = ?, format = ?, platform = ?, device_class = ?,
		in_app_purchase_allowed = ?, premium_user = ?, version = ?, api_version = ?,
		simulate_free_user = ?, extensions = ?, first_usage = ?, updated_at = ?
		WHERE add_on = ? AND user_id = ?`,
		p.Width, p.Height, p.ColorDepth, p.PixelDepth,
		p.Locale, p.Theme, p.Format, p.Platform, p.DeviceClass,
		p.InAppPurchaseAllowed, p.PremiumUser, p.Version, p.APIVersion,
		nullBool(p.SimulateFreeUser), extensions, toMillis(p.FirstUsage), toMillis(p.UpdatedAt),
		p.AddOn, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) InsertEvent(ctx context.Context, r *storage.EventRecord) error {
	extensions, err := marshalExtensions(r.Extensions)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	var name, message, cause, stack sql.NullString
	if r.Error != nil {
		name = sql.NullString{String: r.Error.Name, Valid: true}
		message = sql.NullString{String: r.Error.Message, Valid: true}
		cause = sql.NullString{String: r.Error.Cause, Valid: true}
		stack = sql.NullString{String: r.Error.Stack, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO events
		(partition_key, row_key, event, timestamp, session_id,
		 error_name, error_message, error_cause, error_stack, extensions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PartitionKey, r.RowKey, r.Event, toMillis(r.Timestamp), r.SessionID,
		name, message, cause, stack, extensions,
	)
	if isConstraintError(err) {
		return storage.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsSince(ctx context.Context, partitionKey string, since time.Time) ([]*storage.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		partition_key, row_key, event, timestamp, session_id,
		error_name, error_message, error_cause, error_stack, extensions
		FROM events
		WHERE partition_key = ? AND timestamp >= ?
		ORDER BY timestamp, row_key`,
		partitionKey, toMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*storage.EventRecord
	for rows.Next() {
		var (
			r                           storage.EventRecord
			ts                          int64
			name, message, cause, stack sql.NullString
			extensions                  string
		)
		if err := rows.Scan(&r.PartitionKey, &r.RowKey, &r.Event, &ts, &r.SessionID,
			&name, &message, &cause, &stack, &extensions); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		r.Timestamp = fromMillis(ts)
		if name.Valid {
			r.Error = &storage.ErrorDetail{
				Name:    name.String,
				Message: message.String,
				Cause:   cause.String,
				Stack:   stack.String,
			}
		}
		if r.Extensions, err = unmarshalExtensions(extensions); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func marshalExtensions(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal extensions: %w", err)
	}
	return string(b), nil
}

func unmarshalExtensions(s string) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("unmarshal extensions: %w", err)
	}
	return storage.CompactExtensions(m), nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

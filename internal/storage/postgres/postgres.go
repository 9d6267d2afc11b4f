// Package postgres is a storage.Store backed by PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Tap30/beacon-go/internal/storage"
)

const uniqueViolation = "23505"

// Store implements storage.Store on a Postgres database migrated with Migrate.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection. It does not migrate.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const profileColumns = `add_on, user_id, width, height, color_depth, pixel_depth,
	locale, theme, format, platform, device_class, in_app_purchase_allowed,
	premium_user, version, api_version, simulate_free_user, extensions,
	first_usage, updated_at`

func (s *Store) GetUser(ctx context.Context, addOn, userID string) (*storage.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+profileColumns+`
		FROM user_profiles WHERE add_on = $1 AND user_id = $2`, addOn, userID)

	var (
		p          storage.UserProfile
		simulate   sql.NullBool
		extensions []byte
	)
	err := row.Scan(
		&p.AddOn, &p.UserID, &p.Width, &p.Height, &p.ColorDepth, &p.PixelDepth,
		&p.Locale, &p.Theme, &p.Format, &p.Platform, &p.DeviceClass, &p.InAppPurchaseAllowed,
		&p.PremiumUser, &p.Version, &p.APIVersion, &simulate, &extensions,
		&p.FirstUsage, &p.UpdatedAt,
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
	p.FirstUsage = p.FirstUsage.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) InsertUser(ctx context.Context, p *storage.UserProfile) error {
	extensions, err := marshalExtensions(p.Extensions)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO user_profiles (`+profileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		p.AddOn, p.UserID, p.Width, p.Height, p.ColorDepth, p.PixelDepth,
		p.Locale, p.Theme, p.Format, p.Platform, p.DeviceClass, p.InAppPurchaseAllowed,
		p.PremiumUser, p.Version, p.APIVersion, nullBool(p.SimulateFreeUser), extensions,
		storage.Normalize(p.FirstUsage), storage.Normalize(p.UpdatedAt),
	)
	if isUniqueViolation(err) {
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
		width = $3, height = $4, color_depth = $5, pixel_depth = $6,
		locale = $7, theme = $8, format = $9, platform = $10, device_class = $11,
		in_app_purchase_allowed = $12, premium_user = $13, version = $14, api_version = $15,
		simulate_free_user = $16, extensions = $17, first_usage = $18, updated_at = $19
		WHERE add_on = $1 AND user_id = $2`,
		p.AddOn, p.UserID, p.Width, p.Height, p.ColorDepth, p.PixelDepth,
		p.Locale, p.Theme, p.Format, p.Platform, p.DeviceClass,
		p.InAppPurchaseAllowed, p.PremiumUser, p.Version, p.APIVersion,
		nullBool(p.SimulateFreeUser), extensions,
		storage.Normalize(p.FirstUsage), storage.Normalize(p.UpdatedAt),
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.PartitionKey, r.RowKey, r.Event, storage.Normalize(r.Timestamp), r.SessionID,
		name, message, cause, stack, extensions,
	)
	if isUniqueViolation(err) {
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
		WHERE partition_key = $1 AND timestamp >= $2
		ORDER BY timestamp, row_key COLLATE "C"`,
		partitionKey, storage.Normalize(since),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*storage.EventRecord
	for rows.Next() {
		var (
			r                           storage.EventRecord
			name, message, cause, stack sql.NullString
			extensions                  []byte
		)
		if err := rows.Scan(&r.PartitionKey, &r.RowKey, &r.Event, &r.Timestamp, &r.SessionID,
			&name, &message, &cause, &stack, &extensions); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
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

func unmarshalExtensions(b []byte) (map[string]string, error) {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal extensions: %w", err)
	}
	return storage.CompactExtensions(m), nil
}

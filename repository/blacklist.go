package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/veriguard/models"
)

type BlacklistRepository struct {
	db *sql.DB
}

func NewBlacklistRepository(db *sql.DB) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// Add upserts a blacklist entry. Re-adding an existing value refreshes its
// reason and expiry instead of erroring.
func (r *BlacklistRepository) Add(ctx context.Context, e *models.BlacklistEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := `INSERT INTO blacklist (id, entry_type, value, reason, permanent, expires_at, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (entry_type, value) DO UPDATE SET
			  	reason = EXCLUDED.reason,
			  	permanent = EXCLUDED.permanent,
			  	expires_at = EXCLUDED.expires_at`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Type, e.Value, e.Reason, e.Permanent, e.ExpiresAt, e.CreatedAt)
	return err
}

// Get returns the active entry for (type, value), or nil when the value is
// not blocked. Expired non-permanent entries count as not blocked.
func (r *BlacklistRepository) Get(ctx context.Context, entryType models.BlacklistType, value string) (*models.BlacklistEntry, error) {
	e := &models.BlacklistEntry{}
	var expiresAt sql.NullTime
	query := `SELECT id, entry_type, value, reason, permanent, expires_at, created_at
			  FROM blacklist WHERE entry_type = $1 AND value = $2`
	err := r.db.QueryRowContext(ctx, query, entryType, value).Scan(
		&e.ID, &e.Type, &e.Value, &e.Reason, &e.Permanent, &expiresAt, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		e.ExpiresAt = &expiresAt.Time
	}
	if !e.Active(time.Now()) {
		return nil, nil
	}
	return e, nil
}

func (r *BlacklistRepository) Remove(ctx context.Context, entryType models.BlacklistType, value string) error {
	query := `DELETE FROM blacklist WHERE entry_type = $1 AND value = $2`
	_, err := r.db.ExecContext(ctx, query, entryType, value)
	return err
}

// List returns all currently active entries.
func (r *BlacklistRepository) List(ctx context.Context) ([]*models.BlacklistEntry, error) {
	query := `SELECT id, entry_type, value, reason, permanent, expires_at, created_at
			  FROM blacklist WHERE permanent = true OR expires_at > now()
			  ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.BlacklistEntry
	for rows.Next() {
		e := &models.BlacklistEntry{}
		var expiresAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.Type, &e.Value, &e.Reason, &e.Permanent, &expiresAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			e.ExpiresAt = &expiresAt.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteExpired removes dead non-permanent entries; called by the GC sweep.
func (r *BlacklistRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM blacklist WHERE permanent = false AND expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/veriguard/models"
)

type SiteKeyRepository struct {
	db *sql.DB
}

func NewSiteKeyRepository(db *sql.DB) *SiteKeyRepository {
	return &SiteKeyRepository{db: db}
}

func (r *SiteKeyRepository) Create(ctx context.Context, name string) (*models.SiteKey, error) {
	key := &models.SiteKey{
		ID:        uuid.New(),
		Key:       generateSiteKey(),
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	query := `INSERT INTO site_keys (id, site_key, name, is_active, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.ExecContext(ctx, query, key.ID, key.Key, key.Name, key.IsActive, key.CreatedAt)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (r *SiteKeyRepository) GetByKey(ctx context.Context, key string) (*models.SiteKey, error) {
	sk := &models.SiteKey{}
	query := `SELECT id, site_key, name, is_active, created_at FROM site_keys WHERE site_key = $1`
	err := r.db.QueryRowContext(ctx, query, key).Scan(&sk.ID, &sk.Key, &sk.Name, &sk.IsActive, &sk.CreatedAt)
	if err != nil {
		return nil, err
	}
	return sk, nil
}

// ValidateKey reports whether a site key exists and is active. This is the
// full extent of authentication the core performs.
func (r *SiteKeyRepository) ValidateKey(ctx context.Context, key string) (bool, error) {
	sk, err := r.GetByKey(ctx, key)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sk.IsActive, nil
}

func (r *SiteKeyRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE site_keys SET is_active = false WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func generateSiteKey() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return "vg_" + hex.EncodeToString(bytes)
}

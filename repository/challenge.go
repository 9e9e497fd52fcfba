package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/veriguard/models"
)

type ChallengeRepository struct {
	db *sql.DB
}

func NewChallengeRepository(db *sql.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

const challengeColumns = `id, token, site_key, action, fingerprint, score, risk_level,
	bot_score, vpn_detected, proxy_detected, tor_detected, abuse_score,
	country, verified, created_at, expires_at`

func (r *ChallengeRepository) Create(ctx context.Context, c *models.Challenge) error {
	query := `INSERT INTO challenges (` + challengeColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.Token, c.SiteKey, c.Action, c.Fingerprint, c.Score, c.RiskLevel,
		c.BotScore, c.VPNDetected, c.ProxyDetected, c.TorDetected, c.AbuseScore,
		c.Country, c.Verified, c.CreatedAt, c.ExpiresAt)
	return err
}

func (r *ChallengeRepository) scanChallenge(row *sql.Row) (*models.Challenge, error) {
	c := &models.Challenge{}
	err := row.Scan(
		&c.ID, &c.Token, &c.SiteKey, &c.Action, &c.Fingerprint, &c.Score, &c.RiskLevel,
		&c.BotScore, &c.VPNDetected, &c.ProxyDetected, &c.TorDetected, &c.AbuseScore,
		&c.Country, &c.Verified, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByToken looks a challenge up by its bearer token (the verify path).
func (r *ChallengeRepository) GetByToken(ctx context.Context, token string) (*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE token = $1`
	return r.scanChallenge(r.db.QueryRowContext(ctx, query, token))
}

// GetByID looks a challenge up by its public ID (the status path).
func (r *ChallengeRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`
	return r.scanChallenge(r.db.QueryRowContext(ctx, query, id))
}

// MarkVerified flips the verified flag and stores the final score exactly
// once. The WHERE clause is the compare-and-set: a concurrent second verify
// matches zero rows and loses.
func (r *ChallengeRepository) MarkVerified(ctx context.Context, id uuid.UUID, score int, riskLevel models.RiskLevel) (bool, error) {
	query := `UPDATE challenges SET verified = true, score = $1, risk_level = $2
			  WHERE id = $3 AND verified = false`
	res, err := r.db.ExecContext(ctx, query, score, riskLevel, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountRecentByFingerprint supports the challenge-history behavioral signal.
func (r *ChallengeRepository) CountRecentByFingerprint(ctx context.Context, fingerprint string, window time.Duration) (int, error) {
	if fingerprint == "" {
		return 0, nil
	}
	var count int
	query := `SELECT COUNT(*) FROM challenges WHERE fingerprint = $1 AND created_at > $2`
	err := r.db.QueryRowContext(ctx, query, fingerprint, time.Now().Add(-window)).Scan(&count)
	return count, err
}

// DeleteExpired removes challenges past expiry; called by the GC sweep.
func (r *ChallengeRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

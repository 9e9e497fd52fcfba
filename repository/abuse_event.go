package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/veriguard/models"
)

type AbuseEventRepository struct {
	db *sql.DB
}

func NewAbuseEventRepository(db *sql.DB) *AbuseEventRepository {
	return &AbuseEventRepository{db: db}
}

// Create inserts an event, assigning identity when absent. An event can
// arrive twice, synchronously from the detector and again off the bus, so
// the insert is idempotent on ID.
func (r *AbuseEventRepository) Create(ctx context.Context, event *models.AbuseEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	query := `INSERT INTO abuse_events (id, ip, fingerprint, site_key, event_type, severity, detail, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (id) DO NOTHING`
	_, err := r.db.ExecContext(ctx, query,
		event.ID, event.IP, event.Fingerprint, event.SiteKey,
		event.EventType, event.Severity, event.Detail, event.CreatedAt)
	return err
}

// CountSevereByIP counts HIGH/CRITICAL events for an IP inside the trailing
// window; feeds the escalated-block check.
func (r *AbuseEventRepository) CountSevereByIP(ctx context.Context, ip string, window time.Duration) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM abuse_events
			  WHERE ip = $1 AND severity IN ('HIGH', 'CRITICAL') AND created_at > $2`
	err := r.db.QueryRowContext(ctx, query, ip, time.Now().Add(-window)).Scan(&count)
	return count, err
}

func (r *AbuseEventRepository) GetByIP(ctx context.Context, ip string, limit int) ([]*models.AbuseEvent, error) {
	query := `SELECT id, ip, fingerprint, site_key, event_type, severity, detail, created_at
			  FROM abuse_events WHERE ip = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryEvents(ctx, query, ip, limit)
}

func (r *AbuseEventRepository) GetRecent(ctx context.Context, limit int) ([]*models.AbuseEvent, error) {
	query := `SELECT id, ip, fingerprint, site_key, event_type, severity, detail, created_at
			  FROM abuse_events ORDER BY created_at DESC LIMIT $1`
	return r.queryEvents(ctx, query, limit)
}

func (r *AbuseEventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.AbuseEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AbuseEvent
	for rows.Next() {
		event := &models.AbuseEvent{}
		if err := rows.Scan(&event.ID, &event.IP, &event.Fingerprint, &event.SiteKey,
			&event.EventType, &event.Severity, &event.Detail, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

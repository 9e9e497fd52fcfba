package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/veriguard/veriguard/models"
)

// AbuseEvent is the wire form published to the abuse-events topic. Consumers
// (this service's own persister, dashboards, SIEM feeds) key on EventType
// and Severity.
type AbuseEvent struct {
	ID          string          `json:"id"`
	IP          string          `json:"ip"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	SiteKey     string          `json:"site_key,omitempty"`
	EventType   string          `json:"event_type"`
	Severity    models.Severity `json:"severity"`
	Detail      string          `json:"detail,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	CreatedAt   time.Time       `json:"created_at"`
}

func NewAbuseEvent(ip, fingerprint, siteKey, eventType string, severity models.Severity, detail string) *AbuseEvent {
	now := time.Now()
	return &AbuseEvent{
		ID:          uuid.New().String(),
		IP:          ip,
		Fingerprint: fingerprint,
		SiteKey:     siteKey,
		EventType:   eventType,
		Severity:    severity,
		Detail:      detail,
		Timestamp:   now.Unix(),
		CreatedAt:   now,
	}
}

// Model converts the wire form into the persistence model.
func (e *AbuseEvent) Model() *models.AbuseEvent {
	id, err := uuid.Parse(e.ID)
	if err != nil {
		id = uuid.New()
	}
	return &models.AbuseEvent{
		ID:          id,
		IP:          e.IP,
		Fingerprint: e.Fingerprint,
		SiteKey:     e.SiteKey,
		EventType:   e.EventType,
		Severity:    e.Severity,
		Detail:      e.Detail,
		CreatedAt:   e.CreatedAt,
	}
}

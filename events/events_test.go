package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veriguard/veriguard/models"
)

type recordingWriter struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (w *recordingWriter) Create(ctx context.Context, event *models.AbuseEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, event.ID)
	return nil
}

func TestWireEventPreservesIdentity(t *testing.T) {
	wire := NewAbuseEvent("203.0.113.7", "fp-1", "site-a", models.EventRateLimitExceeded, models.SeverityMedium, "30 requests in 60s")

	model := wire.Model()
	assert.Equal(t, wire.ID, model.ID.String())
	assert.Equal(t, wire.IP, model.IP)
	assert.Equal(t, wire.Fingerprint, model.Fingerprint)
	assert.Equal(t, wire.SiteKey, model.SiteKey)
	assert.Equal(t, wire.EventType, model.EventType)
	assert.Equal(t, wire.Severity, model.Severity)
	assert.Equal(t, wire.Detail, model.Detail)
}

func TestWireEventSurvivesSerialization(t *testing.T) {
	wire := NewAbuseEvent("203.0.113.7", "", "site-a", models.EventTemporaryBlock, models.SeverityHigh, "")

	data, err := json.Marshal(wire)
	require.NoError(t, err)

	var decoded AbuseEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, wire.ID, decoded.ID)
	assert.Equal(t, wire.Severity, decoded.Severity)
}

// A redelivered event must map to the same store ID every time so the
// ID-idempotent insert collapses duplicates to one row.
func TestPersistingHandlerRedeliveryKeepsOneIdentity(t *testing.T) {
	writer := &recordingWriter{}
	handler := NewPersistingHandler(writer, zaptest.NewLogger(t))
	wire := NewAbuseEvent("203.0.113.7", "fp-1", "site-a", models.EventBlacklistHit, models.SeverityCritical, "blocked")

	ctx := context.Background()
	require.NoError(t, handler.HandleAbuseEvent(ctx, wire))
	require.NoError(t, handler.HandleAbuseEvent(ctx, wire))

	require.Len(t, writer.ids, 2)
	assert.Equal(t, writer.ids[0], writer.ids[1])
	assert.Equal(t, wire.ID, writer.ids[0].String())
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veriguard/veriguard/abuse"
	"github.com/veriguard/veriguard/apperrors"
	"github.com/veriguard/veriguard/cache"
	"github.com/veriguard/veriguard/models"
)

// BlacklistStore is the admin view of the blacklist.
type BlacklistStore interface {
	Add(ctx context.Context, e *models.BlacklistEntry) error
	Remove(ctx context.Context, entryType models.BlacklistType, value string) error
	List(ctx context.Context) ([]*models.BlacklistEntry, error)
}

// EventLog is the admin view of recorded abuse events.
type EventLog interface {
	GetByIP(ctx context.Context, ip string, limit int) ([]*models.AbuseEvent, error)
	GetRecent(ctx context.Context, limit int) ([]*models.AbuseEvent, error)
}

// IPAnalyzer scores an IP on demand.
type IPAnalyzer interface {
	AnalyzeIP(ctx context.Context, ip string) (*models.IPAnalysis, error)
}

// AdminHandler exposes the operator surface: blacklist management, the
// abuse-event feed and on-demand IP analysis.
type AdminHandler struct {
	blacklist BlacklistStore
	events    EventLog
	ips       IPAnalyzer
	cache     cache.Cache
	logger    *zap.Logger
}

func NewAdminHandler(blacklist BlacklistStore, events EventLog, ips IPAnalyzer, c cache.Cache, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{blacklist: blacklist, events: events, ips: ips, cache: c, logger: logger}
}

// Blacklist handles GET (list) and POST (add) on /admin/blacklist.
func (h *AdminHandler) Blacklist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listBlacklist(w, r)
	case http.MethodPost:
		h.addBlacklist(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, h.logger, apperrors.InvalidInput("method not allowed"))
	}
}

func (h *AdminHandler) listBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blacklist.List(r.Context())
	if err != nil {
		writeError(w, h.logger, apperrors.Internal("blacklist lookup failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(entries),
		"entries": entries,
	})
}

type blacklistRequest struct {
	Type      models.BlacklistType `json:"type"`
	Value     string               `json:"value"`
	Reason    string               `json:"reason"`
	Permanent bool                 `json:"permanent"`
	TTL       string               `json:"ttl,omitempty"`
}

func (h *AdminHandler) addBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperrors.InvalidInput("malformed request body"))
		return
	}
	if req.Value == "" {
		writeError(w, h.logger, apperrors.InvalidInput("value is required"))
		return
	}
	switch req.Type {
	case models.BlacklistIP, models.BlacklistFingerprint, models.BlacklistEmail:
	default:
		writeError(w, h.logger, apperrors.InvalidInput("type must be ip, fingerprint or email"))
		return
	}

	entry := &models.BlacklistEntry{
		ID:        uuid.New(),
		Type:      req.Type,
		Value:     req.Value,
		Reason:    req.Reason,
		Permanent: req.Permanent,
		CreatedAt: time.Now(),
	}
	if !req.Permanent {
		ttl := 24 * time.Hour
		if req.TTL != "" {
			parsed, err := time.ParseDuration(req.TTL)
			if err != nil || parsed <= 0 {
				writeError(w, h.logger, apperrors.InvalidInput("ttl must be a positive duration"))
				return
			}
			ttl = parsed
		}
		expires := time.Now().Add(ttl)
		entry.ExpiresAt = &expires
	}

	if err := h.blacklist.Add(r.Context(), entry); err != nil {
		writeError(w, h.logger, apperrors.Internal("blacklist write failed", err))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"entry":   entry,
	})
}

// RemoveBlacklist handles POST /admin/blacklist/remove.
func (h *AdminHandler) RemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type  models.BlacklistType `json:"type"`
		Value string               `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperrors.InvalidInput("malformed request body"))
		return
	}
	if req.Value == "" {
		writeError(w, h.logger, apperrors.InvalidInput("value is required"))
		return
	}

	if err := h.blacklist.Remove(r.Context(), req.Type, req.Value); err != nil {
		writeError(w, h.logger, apperrors.Internal("blacklist delete failed", err))
		return
	}
	// The detector caches hits for up to an hour; a lifted ban must take
	// effect now, not when the cached copy expires.
	if err := h.cache.Delete(r.Context(), abuse.BlacklistCacheKey(req.Type, req.Value)); err != nil {
		h.logger.Warn("failed to drop cached blacklist entry",
			zap.String("type", string(req.Type)),
			zap.String("value", req.Value),
			zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// AbuseEvents handles GET /admin/abuse-events?ip=&limit=.
func (h *AdminHandler) AbuseEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			writeError(w, h.logger, apperrors.InvalidInput("limit must be between 1 and 500"))
			return
		}
		limit = parsed
	}

	var (
		events []*models.AbuseEvent
		err    error
	)
	if ip := r.URL.Query().Get("ip"); ip != "" {
		events, err = h.events.GetByIP(r.Context(), ip, limit)
	} else {
		events, err = h.events.GetRecent(r.Context(), limit)
	}
	if err != nil {
		writeError(w, h.logger, apperrors.Internal("abuse event lookup failed", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(events),
		"events":  events,
	})
}

// IPAnalysis handles GET /admin/ip-analysis?ip=.
func (h *AdminHandler) IPAnalysis(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		writeError(w, h.logger, apperrors.InvalidInput("ip query parameter is required"))
		return
	}

	analysis, err := h.ips.AnalyzeIP(r.Context(), ip)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"analysis": analysis,
	})
}

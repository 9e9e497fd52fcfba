package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veriguard/veriguard/apperrors"
	"github.com/veriguard/veriguard/challenge"
	"github.com/veriguard/veriguard/fingerprint"
	"github.com/veriguard/veriguard/middleware"
	"github.com/veriguard/veriguard/models"
)

// ChallengeHandler is the HTTP face of the challenge lifecycle. It only
// translates between wire shapes and the manager; all decisions live below.
type ChallengeHandler struct {
	manager *challenge.Manager
	logger  *zap.Logger
}

func NewChallengeHandler(manager *challenge.Manager, logger *zap.Logger) *ChallengeHandler {
	return &ChallengeHandler{manager: manager, logger: logger}
}

type createRequest struct {
	SiteKey          string              `json:"siteKey"`
	Action           string              `json:"action,omitempty"`
	Fingerprint      string              `json:"fingerprint,omitempty"`
	MouseMovements   []models.MousePoint `json:"mouseMovements,omitempty"`
	Keystrokes       []models.Keystroke  `json:"keystrokes,omitempty"`
	RequestTimings   []int64             `json:"requestTimings,omitempty"`
	ScreenResolution string              `json:"screenResolution,omitempty"`
	Timezone         string              `json:"timezone,omitempty"`
	CanvasHash       string              `json:"canvasHash,omitempty"`
	WebGLRenderer    string              `json:"webglRenderer,omitempty"`
	Fonts            []string            `json:"fonts,omitempty"`
}

type createResponse struct {
	Success             bool             `json:"success"`
	ChallengeID         string           `json:"challengeId"`
	Token               string           `json:"token"`
	RequiresInteraction bool             `json:"requiresInteraction"`
	ExpiresAt           string           `json:"expiresAt"`
	Metadata            responseMetadata `json:"metadata"`
}

type responseMetadata struct {
	Score     int              `json:"score"`
	RiskLevel models.RiskLevel `json:"riskLevel"`
}

// Create handles POST /api/v1/challenge.
func (h *ChallengeHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, h.logger, apperrors.InvalidInput("method not allowed"))
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperrors.InvalidInput("malformed request body"))
		return
	}

	res, err := h.manager.Create(r.Context(), challenge.CreateRequest{
		SiteKey:     req.SiteKey,
		Action:      req.Action,
		Fingerprint: req.Fingerprint,
		Signals: fingerprint.Signals{
			AcceptLanguage:   r.Header.Get("Accept-Language"),
			AcceptEncoding:   r.Header.Get("Accept-Encoding"),
			Accept:           r.Header.Get("Accept"),
			ScreenResolution: req.ScreenResolution,
			Timezone:         req.Timezone,
			CanvasHash:       req.CanvasHash,
			WebGLRenderer:    req.WebGLRenderer,
			Fonts:            req.Fonts,
		},
		Sample: models.BehavioralSample{
			MouseMovements: req.MouseMovements,
			Keystrokes:     req.Keystrokes,
			RequestTimings: req.RequestTimings,
		},
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, createResponse{
		Success:             true,
		ChallengeID:         res.ChallengeID.String(),
		Token:               res.Token,
		RequiresInteraction: res.RequiresInteraction,
		ExpiresAt:           res.ExpiresAt.UTC().Format(time.RFC3339),
		Metadata: responseMetadata{
			Score:     res.Score,
			RiskLevel: res.RiskLevel,
		},
	})
}

type verifyRequest struct {
	Token       string `json:"token"`
	Response    string `json:"response,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

type verifyResponse struct {
	Success   bool             `json:"success"`
	Score     int              `json:"score"`
	RiskLevel models.RiskLevel `json:"riskLevel"`
	Metadata  verifyMetadata   `json:"metadata"`
}

type verifyMetadata struct {
	BotScore      int  `json:"botScore"`
	VPNDetected   bool `json:"vpnDetected"`
	ProxyDetected bool `json:"proxyDetected"`
	TorDetected   bool `json:"torDetected"`
	AbuseScore    int  `json:"abuseScore"`
}

// Verify handles POST /api/v1/verify.
func (h *ChallengeHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, h.logger, apperrors.InvalidInput("method not allowed"))
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperrors.InvalidInput("malformed request body"))
		return
	}

	res, err := h.manager.Verify(r.Context(), req.Token, req.Fingerprint)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success:   true,
		Score:     res.Score,
		RiskLevel: res.RiskLevel,
		Metadata: verifyMetadata{
			BotScore:      res.BotScore,
			VPNDetected:   res.VPNDetected,
			ProxyDetected: res.ProxyDetected,
			TorDetected:   res.TorDetected,
			AbuseScore:    res.AbuseScore,
		},
	})
}

type statusResponse struct {
	ChallengeID string           `json:"challengeId"`
	Verified    bool             `json:"verified"`
	Expired     bool             `json:"expired"`
	Score       int              `json:"score"`
	RiskLevel   models.RiskLevel `json:"riskLevel"`
}

// Status handles GET /api/v1/status/{challengeId}.
func (h *ChallengeHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, h.logger, apperrors.InvalidInput("method not allowed"))
		return
	}

	idPart := strings.TrimPrefix(r.URL.Path, "/api/v1/status/")
	id, err := uuid.Parse(idPart)
	if err != nil {
		writeError(w, h.logger, apperrors.InvalidInput("malformed challenge id"))
		return
	}

	res, err := h.manager.Status(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		ChallengeID: res.ChallengeID.String(),
		Verified:    res.Verified,
		Expired:     res.Expired,
		Score:       res.Score,
		RiskLevel:   res.RiskLevel,
	})
}

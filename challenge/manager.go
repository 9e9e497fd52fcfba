package challenge

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/veriguard/veriguard/abuse"
	"github.com/veriguard/veriguard/apperrors"
	"github.com/veriguard/veriguard/behavioral"
	"github.com/veriguard/veriguard/fingerprint"
	"github.com/veriguard/veriguard/models"
)

// Weighting of the two component risk scores in the combined score.
const (
	botScoreWeight   = 0.6
	abuseScoreWeight = 0.4

	// interactionThreshold is the combined risk above which the widget is
	// told to show an interactive challenge.
	interactionThreshold = 30

	// fingerprintMismatchPenalty is subtracted from the trust score when
	// verify sees a different fingerprint than create did. Drift is
	// suspicious but not proof of fraud, so verification still succeeds.
	fingerprintMismatchPenalty = 20

	tokenBytes = 32

	historyWindow = time.Hour
)

// Store is the authoritative persistence for challenges.
type Store interface {
	Create(ctx context.Context, c *models.Challenge) error
	GetByToken(ctx context.Context, token string) (*models.Challenge, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Challenge, error)
	MarkVerified(ctx context.Context, id uuid.UUID, score int, riskLevel models.RiskLevel) (bool, error)
	CountRecentByFingerprint(ctx context.Context, fingerprint string, window time.Duration) (int, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// SiteKeys answers whether a site key exists and is active.
type SiteKeys interface {
	ValidateKey(ctx context.Context, key string) (bool, error)
}

// Detector is the abuse gate consulted before any scoring work happens.
type Detector interface {
	Detect(ctx context.Context, ip, fp, siteScope string) abuse.Verdict
}

// IPAnalyzer scores an IP's reputation.
type IPAnalyzer interface {
	AnalyzeIP(ctx context.Context, ip string) (*models.IPAnalysis, error)
}

// CreateRequest is one inbound verification request.
type CreateRequest struct {
	SiteKey     string
	Action      string
	Fingerprint string // client-supplied, used verbatim when present
	Signals     fingerprint.Signals
	Sample      models.BehavioralSample
	IPAddress   string
	UserAgent   string
}

// CreateResult is what the widget receives for a created challenge.
type CreateResult struct {
	ChallengeID         uuid.UUID
	Token               string
	RequiresInteraction bool
	ExpiresAt           time.Time
	Score               int
	RiskLevel           models.RiskLevel
}

// VerifyResult is the final outcome handed to the protected site.
type VerifyResult struct {
	ChallengeID   uuid.UUID
	Score         int
	RiskLevel     models.RiskLevel
	BotScore      int
	VPNDetected   bool
	ProxyDetected bool
	TorDetected   bool
	AbuseScore    int
}

// StatusResult is the read-only polling view of a challenge.
type StatusResult struct {
	ChallengeID uuid.UUID
	Verified    bool
	Expired     bool
	Score       int
	RiskLevel   models.RiskLevel
}

// Manager owns the challenge lifecycle: CREATED, then exactly one of
// VERIFIED or EXPIRED.
type Manager struct {
	store    Store
	siteKeys SiteKeys
	detector Detector
	analyzer *behavioral.Analyzer
	ips      IPAnalyzer
	ttl      time.Duration
	logger   *zap.Logger
}

func NewManager(
	store Store,
	siteKeys SiteKeys,
	detector Detector,
	analyzer *behavioral.Analyzer,
	ips IPAnalyzer,
	ttl time.Duration,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		store:    store,
		siteKeys: siteKeys,
		detector: detector,
		analyzer: analyzer,
		ips:      ips,
		ttl:      ttl,
		logger:   logger,
	}
}

// Create runs the full scoring pipeline and persists a new challenge.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.SiteKey == "" {
		return nil, apperrors.InvalidInput("siteKey is required")
	}
	if req.IPAddress == "" {
		return nil, apperrors.InvalidInput("client IP is required")
	}

	active, err := m.siteKeys.ValidateKey(ctx, req.SiteKey)
	if err != nil {
		return nil, apperrors.Internal("site key lookup failed", err)
	}
	if !active {
		return nil, apperrors.NotFound("unknown or inactive site key")
	}

	// A client-supplied fingerprint is advisory: it is adopted verbatim for
	// correlation but never re-derived or trusted beyond consistency checks.
	fp := req.Fingerprint
	if fp == "" {
		s := req.Signals
		s.IP = req.IPAddress
		s.UserAgent = req.UserAgent
		fp = fingerprint.Build(s)
	}

	verdict := m.detector.Detect(ctx, req.IPAddress, fp, req.SiteKey)
	if verdict.Blocked {
		return nil, apperrors.PolicyBlocked(verdict.Reason, verdict.Severity)
	}

	analysis := m.analyzeIP(ctx, req.IPAddress)

	previous, err := m.store.CountRecentByFingerprint(ctx, fp, historyWindow)
	if err != nil {
		m.logger.Warn("challenge history unavailable", zap.Error(err))
		previous = 0
	}

	behavior := m.analyzer.Analyze(ctx, behavioral.Input{
		UserAgent:          req.UserAgent,
		Fingerprint:        fp,
		IPAddress:          req.IPAddress,
		Sample:             req.Sample,
		PreviousChallenges: previous,
		CountryKnown:       analysis.Country != "",
	})

	overall := combineScores(behavior.Score, analysis.AbuseScore)

	c := &models.Challenge{
		ID:            uuid.New(),
		Token:         newToken(),
		SiteKey:       req.SiteKey,
		Action:        req.Action,
		Fingerprint:   fp,
		Score:         100 - overall,
		RiskLevel:     models.RiskLevelForScore(overall),
		BotScore:      behavior.Score,
		VPNDetected:   analysis.VPNDetected,
		ProxyDetected: analysis.ProxyDetected,
		TorDetected:   analysis.TorDetected,
		AbuseScore:    analysis.AbuseScore,
		Country:       analysis.Country,
		Verified:      false,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(m.ttl),
	}

	// A challenge that cannot be durably recorded can never be verified, so
	// persistence failure is fatal to this request.
	if err := m.store.Create(ctx, c); err != nil {
		return nil, apperrors.Internal("failed to persist challenge", err)
	}

	m.logger.Info("challenge created",
		zap.String("challenge_id", c.ID.String()),
		zap.String("site_key", c.SiteKey),
		zap.Int("score", c.Score),
		zap.String("risk_level", string(c.RiskLevel)))

	return &CreateResult{
		ChallengeID:         c.ID,
		Token:               c.Token,
		RequiresInteraction: overall > interactionThreshold || verdict.ShouldChallenge,
		ExpiresAt:           c.ExpiresAt,
		Score:               c.Score,
		RiskLevel:           c.RiskLevel,
	}, nil
}

// analyzeIP degrades to an empty analysis when the reputation pipeline
// cannot run; the missing geo signal is picked up by the behavioral side.
func (m *Manager) analyzeIP(ctx context.Context, ip string) *models.IPAnalysis {
	analysis, err := m.ips.AnalyzeIP(ctx, ip)
	if err != nil {
		m.logger.Warn("ip analysis unavailable", zap.String("ip", ip), zap.Error(err))
		return &models.IPAnalysis{IP: ip, RiskLevel: models.RiskLow}
	}
	return analysis
}

// Verify consumes a challenge token. It succeeds at most once per challenge;
// expired or already-verified challenges fail regardless of their score.
func (m *Manager) Verify(ctx context.Context, token, suppliedFingerprint string) (*VerifyResult, error) {
	if token == "" {
		return nil, apperrors.InvalidInput("token is required")
	}

	c, err := m.store.GetByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("no challenge for token")
	}
	if err != nil {
		return nil, apperrors.Internal("challenge lookup failed", err)
	}

	if c.Verified {
		return nil, apperrors.AlreadyVerified("challenge already consumed")
	}
	if c.Expired(time.Now()) {
		return nil, apperrors.Expired("challenge expired")
	}

	score := c.Score
	riskLevel := c.RiskLevel
	if suppliedFingerprint != "" && suppliedFingerprint != c.Fingerprint {
		// Fingerprint drift downgrades trust in place rather than failing:
		// the token is still valid, the bearer just looks less like the
		// client that requested it.
		score = max(0, score-fingerprintMismatchPenalty)
		riskLevel = models.RiskHigh
		m.logger.Info("fingerprint mismatch on verify",
			zap.String("challenge_id", c.ID.String()))
	}

	ok, err := m.store.MarkVerified(ctx, c.ID, score, riskLevel)
	if err != nil {
		return nil, apperrors.Internal("failed to persist verification", err)
	}
	if !ok {
		// Lost the compare-and-set race to a concurrent verify.
		return nil, apperrors.AlreadyVerified("challenge already consumed")
	}

	return &VerifyResult{
		ChallengeID:   c.ID,
		Score:         score,
		RiskLevel:     riskLevel,
		BotScore:      c.BotScore,
		VPNDetected:   c.VPNDetected,
		ProxyDetected: c.ProxyDetected,
		TorDetected:   c.TorDetected,
		AbuseScore:    c.AbuseScore,
	}, nil
}

// Status reports a challenge's state without mutating anything.
func (m *Manager) Status(ctx context.Context, id uuid.UUID) (*StatusResult, error) {
	c, err := m.store.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("unknown challenge")
	}
	if err != nil {
		return nil, apperrors.Internal("challenge lookup failed", err)
	}

	return &StatusResult{
		ChallengeID: c.ID,
		Verified:    c.Verified,
		Expired:     c.Expired(time.Now()),
		Score:       c.Score,
		RiskLevel:   c.RiskLevel,
	}, nil
}

// combineScores merges the behavioral and IP risk scores into one combined
// risk value. Both inputs and the output are in [0,100].
func combineScores(botScore, abuseScore int) int {
	combined := math.Round(float64(botScore)*botScoreWeight + float64(abuseScore)*abuseScoreWeight)
	if combined < 0 {
		return 0
	}
	if combined > 100 {
		return 100
	}
	return int(combined)
}

// newToken returns the high-entropy bearer credential for verify. 32 random
// bytes give 256 bits, well past the unguessability requirement, and the
// token shares nothing with the challenge ID.
func newToken() string {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken, at which point issuing bearer tokens is unsafe anyway.
		panic(err)
	}
	return hex.EncodeToString(buf)
}

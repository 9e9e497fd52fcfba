package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel classifies a 0-100 risk score into the four-level taxonomy
// shared by the behavioral analyzer and the IP reputation aggregator.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevelForScore maps a clamped risk score onto a RiskLevel. The
// thresholds are shared between the behavioral and IP scoring paths so the
// two scores stay comparable when combined.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 75:
		return RiskCritical
	case score >= 50:
		return RiskHigh
	case score >= 25:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Severity grades abuse events and policy decisions.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// BlacklistType is the kind of identifier a blacklist entry matches.
type BlacklistType string

const (
	BlacklistIP          BlacklistType = "ip"
	BlacklistFingerprint BlacklistType = "fingerprint"
	BlacklistEmail       BlacklistType = "email"
)

// Challenge is one verification attempt. The token is the bearer credential
// used by verify; the ID is the externally visible handle used by status.
type Challenge struct {
	ID            uuid.UUID `json:"challengeId"`
	Token         string    `json:"-"`
	SiteKey       string    `json:"siteKey"`
	Action        string    `json:"action"`
	Fingerprint   string    `json:"-"`
	Score         int       `json:"score"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	BotScore      int       `json:"botScore"`
	VPNDetected   bool      `json:"vpnDetected"`
	ProxyDetected bool      `json:"proxyDetected"`
	TorDetected   bool      `json:"torDetected"`
	AbuseScore    int       `json:"abuseScore"`
	Country       string    `json:"country,omitempty"`
	Verified      bool      `json:"verified"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// Expired reports whether the challenge is past its expiry at t.
func (c *Challenge) Expired(t time.Time) bool {
	return t.After(c.ExpiresAt)
}

// MousePoint is a single sampled cursor position.
type MousePoint struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Timestamp int64   `json:"timestamp"`
}

// Keystroke is a single key event with its client timestamp in ms.
type Keystroke struct {
	Key       string `json:"key"`
	Timestamp int64  `json:"timestamp"`
}

// BehavioralSample carries the client-side signals for one create call. It
// is request-scoped and never persisted verbatim.
type BehavioralSample struct {
	MouseMovements []MousePoint `json:"mouseMovements,omitempty"`
	Keystrokes     []Keystroke  `json:"keystrokes,omitempty"`
	RequestTimings []int64      `json:"requestTimings,omitempty"`
}

const (
	// MaxMousePoints bounds the retained tail of a mouse trace.
	MaxMousePoints = 50
	// MaxKeystrokes bounds the retained tail of a keystroke trace.
	MaxKeystrokes = 30
)

// Truncate drops everything but the most recent points of each trace.
func (s *BehavioralSample) Truncate() {
	if len(s.MouseMovements) > MaxMousePoints {
		s.MouseMovements = s.MouseMovements[len(s.MouseMovements)-MaxMousePoints:]
	}
	if len(s.Keystrokes) > MaxKeystrokes {
		s.Keystrokes = s.Keystrokes[len(s.Keystrokes)-MaxKeystrokes:]
	}
}

// IPAnalysis is the cached result of the IP reputation pipeline for one IP.
type IPAnalysis struct {
	IP            string    `json:"ip"`
	VPNDetected   bool      `json:"vpnDetected"`
	ProxyDetected bool      `json:"proxyDetected"`
	TorDetected   bool      `json:"torDetected"`
	Hosting       bool      `json:"hosting"`
	AbuseScore    int       `json:"abuseScore"`
	Country       string    `json:"country"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Reasons       []string  `json:"reasons"`
	AnalyzedAt    time.Time `json:"analyzedAt"`
}

// BlacklistEntry is a standing deny-list record. Non-permanent entries block
// until ExpiresAt; permanent entries never expire.
type BlacklistEntry struct {
	ID        uuid.UUID     `json:"id"`
	Type      BlacklistType `json:"type"`
	Value     string        `json:"value"`
	Reason    string        `json:"reason"`
	Permanent bool          `json:"permanent"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Active reports whether the entry still blocks at t.
func (e *BlacklistEntry) Active(t time.Time) bool {
	if e.Permanent {
		return true
	}
	return e.ExpiresAt != nil && e.ExpiresAt.After(t)
}

// SiteKey identifies a registered site. The core only checks that a key
// exists and is active; ownership and tier limits belong to the web layer.
type SiteKey struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// AbuseEvent is one recorded abuse observation for an IP or fingerprint.
type AbuseEvent struct {
	ID          uuid.UUID `json:"id"`
	IP          string    `json:"ip"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	SiteKey     string    `json:"site_key,omitempty"`
	EventType   string    `json:"event_type"`
	Severity    Severity  `json:"severity"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Abuse event types recorded by the detector.
const (
	EventRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	EventFingerprintFlood  = "FINGERPRINT_FLOOD"
	EventDistributedAttack = "DISTRIBUTED_ATTACK"
	EventTemporaryBlock    = "TEMPORARY_BLOCK"
	EventBlacklistHit      = "BLACKLIST_HIT"
)

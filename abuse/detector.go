package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veriguard/veriguard/cache"
	"github.com/veriguard/veriguard/config"
	"github.com/veriguard/veriguard/models"
	"github.com/veriguard/veriguard/ratelimiter"
)

// BlacklistStore is the authoritative deny-list. The cache in front of it is
// an optimization only: a cache miss always falls through here before the
// detector concludes "not blocked".
type BlacklistStore interface {
	Get(ctx context.Context, entryType models.BlacklistType, value string) (*models.BlacklistEntry, error)
	Add(ctx context.Context, e *models.BlacklistEntry) error
}

// EventStore persists abuse events and answers the trailing severe-event
// count used by the escalation check.
type EventStore interface {
	Create(ctx context.Context, event *models.AbuseEvent) error
	CountSevereByIP(ctx context.Context, ip string, window time.Duration) (int, error)
}

// Publisher pushes events onto the event bus; best-effort.
type Publisher interface {
	PublishModel(ctx context.Context, event *models.AbuseEvent) error
}

// Verdict is the detector's decision for one request.
type Verdict struct {
	Blocked         bool
	Reason          string
	Severity        models.Severity
	ShouldChallenge bool
}

// Detector runs the ordered abuse checks. All counters live in the sliding
// window limiter so concurrent requests for the same key cannot race.
type Detector struct {
	limiter   *ratelimiter.SlidingWindow
	cache     cache.Cache
	blacklist BlacklistStore
	events    EventStore
	publisher Publisher
	cfg       *config.Config
	logger    *zap.Logger
}

func NewDetector(
	limiter *ratelimiter.SlidingWindow,
	c cache.Cache,
	blacklist BlacklistStore,
	events EventStore,
	publisher Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		limiter:   limiter,
		cache:     c,
		blacklist: blacklist,
		events:    events,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// Detect evaluates the checks in order, short-circuiting on the first block.
// siteScope is the site key, or a global scope label for keyless traffic.
func (d *Detector) Detect(ctx context.Context, ip, fp, siteScope string) Verdict {
	if entry := d.lookupBlacklist(ctx, models.BlacklistIP, ip); entry != nil {
		d.record(ctx, ip, fp, siteScope, models.EventBlacklistHit, models.SeverityCritical, entry.Reason)
		return Verdict{Blocked: true, Reason: blockReason(entry), Severity: models.SeverityCritical}
	}
	if fp != "" {
		if entry := d.lookupBlacklist(ctx, models.BlacklistFingerprint, fp); entry != nil {
			d.record(ctx, ip, fp, siteScope, models.EventBlacklistHit, models.SeverityCritical, entry.Reason)
			return Verdict{Blocked: true, Reason: blockReason(entry), Severity: models.SeverityCritical}
		}
	}

	verdict := Verdict{Severity: models.SeverityLow}

	if blocked := d.checkIPRate(ctx, ip, fp, siteScope, &verdict); blocked {
		return verdict
	}
	d.checkFingerprintRate(ctx, ip, fp, siteScope, &verdict)
	d.checkDistributedAttack(ctx, ip, fp, siteScope, &verdict)
	if blocked := d.checkSevereHistory(ctx, ip, fp, siteScope, &verdict); blocked {
		return verdict
	}

	return verdict
}

// checkIPRate enforces the per-IP window and escalates repeat violators to a
// temporary block.
func (d *Detector) checkIPRate(ctx context.Context, ip, fp, siteScope string, verdict *Verdict) bool {
	allowed, _, err := d.limiter.Allow(ctx, ratelimiter.ScopeIP, ip, d.cfg.IPRateLimit, d.cfg.IPRateWindow)
	if err != nil {
		// Counter backend down: degrade open, the scoring path still runs.
		d.logger.Warn("ip rate counter unavailable", zap.String("ip", ip), zap.Error(err))
		return false
	}
	if allowed {
		return false
	}

	d.record(ctx, ip, fp, siteScope, models.EventRateLimitExceeded, models.SeverityMedium,
		fmt.Sprintf("more than %d requests in %s", d.cfg.IPRateLimit, d.cfg.IPRateWindow))

	violations, err := d.bumpViolations(ctx, ip)
	if err != nil {
		d.logger.Warn("violation counter unavailable", zap.String("ip", ip), zap.Error(err))
	}
	if violations > int64(d.cfg.ViolationThreshold) {
		d.tempBlock(ctx, ip, fp, siteScope, d.cfg.TempBlockDuration,
			"repeated rate-limit violations", models.SeverityHigh)
		*verdict = Verdict{
			Blocked:  true,
			Reason:   "temporarily blocked for repeated rate-limit violations",
			Severity: models.SeverityHigh,
		}
		return true
	}

	verdict.ShouldChallenge = true
	if verdict.Severity == models.SeverityLow {
		verdict.Severity = models.SeverityMedium
	}
	return false
}

func (d *Detector) checkFingerprintRate(ctx context.Context, ip, fp, siteScope string, verdict *Verdict) {
	if fp == "" {
		return
	}
	allowed, _, err := d.limiter.Allow(ctx, ratelimiter.ScopeFingerprint, fp, d.cfg.FingerprintRateLimit, d.cfg.FingerprintWindow)
	if err != nil {
		d.logger.Warn("fingerprint rate counter unavailable", zap.Error(err))
		return
	}
	if allowed {
		return
	}

	d.record(ctx, ip, fp, siteScope, models.EventFingerprintFlood, models.SeverityMedium,
		fmt.Sprintf("more than %d requests in %s for one fingerprint", d.cfg.FingerprintRateLimit, d.cfg.FingerprintWindow))
	verdict.ShouldChallenge = true
	if verdict.Severity == models.SeverityLow {
		verdict.Severity = models.SeverityMedium
	}
}

// checkDistributedAttack watches the aggregate request rate for a site. A
// spike across many IPs forces interactive challenges without blocking
// anyone outright.
func (d *Detector) checkDistributedAttack(ctx context.Context, ip, fp, siteScope string, verdict *Verdict) {
	_, count, err := d.limiter.Allow(ctx, ratelimiter.ScopeSite, siteScope, d.cfg.AttackThreshold, d.cfg.AttackWindow)
	if err != nil {
		d.logger.Warn("site rate counter unavailable", zap.String("site", siteScope), zap.Error(err))
		return
	}
	if count <= d.cfg.AttackThreshold {
		return
	}

	d.record(ctx, ip, fp, siteScope, models.EventDistributedAttack, models.SeverityHigh,
		fmt.Sprintf("%d requests in %s across the site", count, d.cfg.AttackWindow))
	verdict.ShouldChallenge = true
	if verdict.Severity != models.SeverityCritical {
		verdict.Severity = models.SeverityHigh
	}
}

// checkSevereHistory escalates IPs that keep generating HIGH/CRITICAL events.
func (d *Detector) checkSevereHistory(ctx context.Context, ip, fp, siteScope string, verdict *Verdict) bool {
	count, err := d.events.CountSevereByIP(ctx, ip, d.cfg.AbuseLogWindow)
	if err != nil {
		d.logger.Warn("abuse log count unavailable", zap.String("ip", ip), zap.Error(err))
		return false
	}
	if count <= d.cfg.AbuseLogThreshold {
		return false
	}

	d.tempBlock(ctx, ip, fp, siteScope, d.cfg.EscalatedBlock,
		"sustained severe abuse activity", models.SeverityCritical)
	*verdict = Verdict{
		Blocked:  true,
		Reason:   "temporarily blocked for sustained abuse activity",
		Severity: models.SeverityCritical,
	}
	return true
}

// lookupBlacklist consults the cache first, then the authoritative store.
func (d *Detector) lookupBlacklist(ctx context.Context, entryType models.BlacklistType, value string) *models.BlacklistEntry {
	key := BlacklistCacheKey(entryType, value)
	if raw, err := d.cache.Get(ctx, key); err == nil {
		var entry models.BlacklistEntry
		if err := json.Unmarshal([]byte(raw), &entry); err == nil && entry.Active(time.Now()) {
			return &entry
		}
	}

	entry, err := d.blacklist.Get(ctx, entryType, value)
	if err != nil {
		// Authoritative store down. Failing open here would let permanent
		// bans through, so surface the block decision conservatively only
		// for cache-confirmed entries; otherwise log and continue.
		d.logger.Error("blacklist store unavailable", zap.String("value", value), zap.Error(err))
		return nil
	}
	if entry == nil {
		return nil
	}
	d.cacheBlacklistEntry(ctx, entry)
	return entry
}

func (d *Detector) cacheBlacklistEntry(ctx context.Context, entry *models.BlacklistEntry) {
	ttl := time.Hour
	if !entry.Permanent && entry.ExpiresAt != nil {
		if remaining := time.Until(*entry.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}
	if data, err := json.Marshal(entry); err == nil {
		if err := d.cache.Set(ctx, BlacklistCacheKey(entry.Type, entry.Value), string(data), ttl); err != nil {
			d.logger.Warn("failed to cache blacklist entry", zap.Error(err))
		}
	}
}

// tempBlock inserts a time-bounded blacklist entry and records the event.
func (d *Detector) tempBlock(ctx context.Context, ip, fp, siteScope string, duration time.Duration, reason string, severity models.Severity) {
	expiresAt := time.Now().Add(duration)
	entry := &models.BlacklistEntry{
		Type:      models.BlacklistIP,
		Value:     ip,
		Reason:    reason,
		Permanent: false,
		ExpiresAt: &expiresAt,
	}
	if err := d.blacklist.Add(ctx, entry); err != nil {
		d.logger.Error("failed to persist temporary block", zap.String("ip", ip), zap.Error(err))
	} else {
		d.cacheBlacklistEntry(ctx, entry)
	}
	d.record(ctx, ip, fp, siteScope, models.EventTemporaryBlock, severity, reason)
}

// bumpViolations counts rate-limit violations over the trailing violation
// window using an expiring counter.
func (d *Detector) bumpViolations(ctx context.Context, ip string) (int64, error) {
	return d.cache.Incr(ctx, "violations:"+ip, d.cfg.ViolationWindow)
}

// record persists an abuse event and publishes it to the bus; both paths are
// best-effort so detection never fails a request on its own.
func (d *Detector) record(ctx context.Context, ip, fp, siteScope, eventType string, severity models.Severity, detail string) {
	event := &models.AbuseEvent{
		IP:          ip,
		Fingerprint: fp,
		SiteKey:     siteScope,
		EventType:   eventType,
		Severity:    severity,
		Detail:      detail,
	}
	if err := d.events.Create(ctx, event); err != nil {
		d.logger.Warn("failed to persist abuse event",
			zap.String("event_type", eventType), zap.Error(err))
	}
	if d.publisher != nil {
		if err := d.publisher.PublishModel(ctx, event); err != nil {
			d.logger.Warn("failed to publish abuse event",
				zap.String("event_type", eventType), zap.Error(err))
		}
	}
}

// BlacklistCacheKey is the cache key for a blacklist entry. Exported so the
// admin surface can drop the cached copy when an entry is removed.
func BlacklistCacheKey(entryType models.BlacklistType, value string) string {
	return fmt.Sprintf("blacklist:%s:%s", entryType, value)
}

func blockReason(entry *models.BlacklistEntry) string {
	if entry.Reason != "" {
		return entry.Reason
	}
	return "blacklisted"
}

package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/veriguard/veriguard/apperrors"
	"github.com/veriguard/veriguard/cache"
	"github.com/veriguard/veriguard/models"
)

// Additive abuse-score weights. The signals are independent; several can
// apply to the same IP. The sum is clamped to 100.
const (
	vpnWeight          = 30
	proxyWeight        = 25
	torWeight          = 40
	hostingWeight      = 20
	providerFlagWeight = 25
	fraudScoreWeight   = 20

	fraudScoreThreshold = 75
)

// Aggregator combines local network classification and external provider
// lookups into one abuse score per IP, cached for a fixed TTL.
type Aggregator struct {
	cache           cache.Cache
	providers       []Provider
	sets            *networkSets
	ttl             time.Duration
	providerTimeout time.Duration
	logger          *zap.Logger
}

func NewAggregator(c cache.Cache, providers []Provider, ttl, providerTimeout time.Duration, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		cache:           c,
		providers:       providers,
		sets:            loadNetworkSets(),
		ttl:             ttl,
		providerTimeout: providerTimeout,
		logger:          logger,
	}
}

func cacheKey(ip string) string {
	return "ipreputation:" + ip
}

// AnalyzeIP returns the reputation analysis for an IP, from cache when
// fresh. The cache is best-effort: if it is unreachable the analysis is
// computed uncached rather than failing the request.
func (a *Aggregator) AnalyzeIP(ctx context.Context, ip string) (*models.IPAnalysis, error) {
	if net.ParseIP(ip) == nil {
		return nil, apperrors.InvalidInput(fmt.Sprintf("not an IP address: %q", ip))
	}

	if cached, err := a.cache.Get(ctx, cacheKey(ip)); err == nil {
		var analysis models.IPAnalysis
		if err := json.Unmarshal([]byte(cached), &analysis); err == nil {
			return &analysis, nil
		}
		a.logger.Warn("discarding undecodable cached analysis", zap.String("ip", ip))
	} else if err != cache.ErrNotFound {
		a.logger.Warn("reputation cache unavailable, computing uncached",
			zap.String("ip", ip), zap.Error(err))
	}

	analysis := a.compute(ctx, ip)

	if data, err := json.Marshal(analysis); err == nil {
		if err := a.cache.Set(ctx, cacheKey(ip), string(data), a.ttl); err != nil {
			a.logger.Warn("failed to cache analysis", zap.String("ip", ip), zap.Error(err))
		}
	}

	return analysis, nil
}

func (a *Aggregator) compute(ctx context.Context, ip string) *models.IPAnalysis {
	analysis := &models.IPAnalysis{
		IP:         ip,
		AnalyzedAt: time.Now(),
	}
	parsed := net.ParseIP(ip)
	score := 0

	// Stage 1: local geolocation against the reference ranges. Informational
	// only; a provider fills in the country when the table misses.
	analysis.Country = a.sets.countryFor(parsed)

	// Stage 2: local VPN/proxy/Tor classification. The three are
	// independent signals, not mutually exclusive.
	if containsIP(a.sets.vpn, parsed) {
		analysis.VPNDetected = true
		score += vpnWeight
		analysis.Reasons = append(analysis.Reasons, "IP in known VPN range")
	}
	if containsIP(a.sets.proxy, parsed) {
		analysis.ProxyDetected = true
		score += proxyWeight
		analysis.Reasons = append(analysis.Reasons, "IP in known proxy range")
	}
	if _, ok := a.sets.torExits[ip]; ok {
		analysis.TorDetected = true
		score += torWeight
		analysis.Reasons = append(analysis.Reasons, "IP is a known Tor exit node")
	}

	// Stage 3: hosting-provider detection.
	if containsIP(a.sets.hosting, parsed) {
		analysis.Hosting = true
		score += hostingWeight
		analysis.Reasons = append(analysis.Reasons, "IP belongs to a cloud/hosting provider")
	}

	// Stage 4: external providers, each time-bounded and individually
	// disposable. A failed provider is excluded, never fatal.
	for _, provider := range a.providers {
		report, err := a.lookup(ctx, provider, ip)
		if err != nil {
			a.logger.Warn("reputation provider excluded from analysis",
				zap.String("provider", provider.Name()),
				zap.String("ip", ip),
				zap.Error(err))
			continue
		}
		score += a.applyReport(provider.Name(), report, analysis)
	}

	analysis.AbuseScore = clamp(score)
	analysis.RiskLevel = models.RiskLevelForScore(analysis.AbuseScore)
	return analysis
}

func (a *Aggregator) lookup(ctx context.Context, provider Provider, ip string) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
	defer cancel()
	return provider.Lookup(ctx, ip)
}

func (a *Aggregator) applyReport(name string, report *Report, analysis *models.IPAnalysis) int {
	score := 0
	if report.VPN {
		analysis.VPNDetected = true
		score += providerFlagWeight
		analysis.Reasons = append(analysis.Reasons, name+": VPN confirmed")
	}
	if report.Proxy {
		analysis.ProxyDetected = true
		score += providerFlagWeight
		analysis.Reasons = append(analysis.Reasons, name+": proxy confirmed")
	}
	if report.Tor {
		analysis.TorDetected = true
		score += providerFlagWeight
		analysis.Reasons = append(analysis.Reasons, name+": Tor confirmed")
	}
	if report.FraudScore > fraudScoreThreshold {
		score += fraudScoreWeight
		analysis.Reasons = append(analysis.Reasons, fmt.Sprintf("%s: fraud score %d", name, report.FraudScore))
	}
	if analysis.Country == "" && report.Country != "" {
		analysis.Country = report.Country
	}
	analysis.Reasons = append(analysis.Reasons, report.Reasons...)
	return score
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/veriguard/veriguard/apperrors"
	"github.com/veriguard/veriguard/cache"
	"github.com/veriguard/veriguard/models"
)

type stubProvider struct {
	name   string
	report *Report
	err    error
	delay  time.Duration
	calls  int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Lookup(ctx context.Context, ip string) (*Report, error) {
	p.calls++
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.report, nil
}

func newAggregator(t *testing.T, providers ...Provider) (*Aggregator, cache.Cache) {
	t.Helper()
	c := cache.NewMemory(time.Minute)
	t.Cleanup(func() { c.Close() })
	return NewAggregator(c, providers, time.Hour, 50*time.Millisecond, zaptest.NewLogger(t)), c
}

func TestCleanResidentialIP(t *testing.T) {
	agg, _ := newAggregator(t)

	analysis, err := agg.AnalyzeIP(context.Background(), "93.184.216.34")
	require.NoError(t, err)

	assert.Zero(t, analysis.AbuseScore)
	assert.Equal(t, models.RiskLow, analysis.RiskLevel)
	assert.False(t, analysis.VPNDetected)
	assert.False(t, analysis.TorDetected)
}

func TestInvalidIPRejected(t *testing.T) {
	agg, _ := newAggregator(t)

	_, err := agg.AnalyzeIP(context.Background(), "not-an-ip")
	assert.ErrorIs(t, err, apperrors.InvalidInput(""))
}

func TestHostingRangeScores(t *testing.T) {
	agg, _ := newAggregator(t)

	analysis, err := agg.AnalyzeIP(context.Background(), "139.59.10.20")
	require.NoError(t, err)

	assert.True(t, analysis.Hosting)
	assert.Equal(t, hostingWeight, analysis.AbuseScore)
	assert.NotEmpty(t, analysis.Reasons)
}

func TestTorExitScores(t *testing.T) {
	agg, _ := newAggregator(t)

	analysis, err := agg.AnalyzeIP(context.Background(), "185.220.101.1")
	require.NoError(t, err)

	assert.True(t, analysis.TorDetected)
	assert.GreaterOrEqual(t, analysis.AbuseScore, torWeight)
	assert.Equal(t, models.RiskMedium, analysis.RiskLevel)
}

func TestSignalsAreIndependentAndClamped(t *testing.T) {
	provider := &stubProvider{
		name:   "stub",
		report: &Report{VPN: true, Proxy: true, Tor: true, FraudScore: 90},
	}
	agg, _ := newAggregator(t, provider)

	// VPN range + hosting-adjacent signals from the provider.
	analysis, err := agg.AnalyzeIP(context.Background(), "146.70.1.1")
	require.NoError(t, err)

	assert.True(t, analysis.VPNDetected)
	assert.True(t, analysis.ProxyDetected)
	assert.True(t, analysis.TorDetected)
	assert.Equal(t, 100, analysis.AbuseScore)
	assert.Equal(t, models.RiskCritical, analysis.RiskLevel)
}

func TestLocalCountryResolution(t *testing.T) {
	agg, _ := newAggregator(t)
	ctx := context.Background()

	cases := []struct {
		ip      string
		country string
	}{
		{"8.8.8.8", "US"},
		{"1.1.1.1", "AU"},
		{"131.111.8.42", "GB"},
		{"192.0.2.1", ""}, // reserved, not in any reference range
	}
	for _, tc := range cases {
		analysis, err := agg.AnalyzeIP(ctx, tc.ip)
		require.NoError(t, err, tc.ip)
		assert.Equal(t, tc.country, analysis.Country, tc.ip)
	}
}

func TestLocalCountryWinsOverProvider(t *testing.T) {
	provider := &stubProvider{name: "geo", report: &Report{Country: "DE"}}
	agg, _ := newAggregator(t, provider)

	analysis, err := agg.AnalyzeIP(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "US", analysis.Country)
}

func TestProviderCountryIsAdopted(t *testing.T) {
	provider := &stubProvider{name: "geo", report: &Report{Country: "DE"}}
	agg, _ := newAggregator(t, provider)

	analysis, err := agg.AnalyzeIP(context.Background(), "93.184.216.34")
	require.NoError(t, err)
	assert.Equal(t, "DE", analysis.Country)
}

func TestFailedProviderIsExcluded(t *testing.T) {
	failing := &stubProvider{name: "down", err: errors.New("connection refused")}
	working := &stubProvider{name: "up", report: &Report{Proxy: true}}
	agg, _ := newAggregator(t, failing, working)

	analysis, err := agg.AnalyzeIP(context.Background(), "93.184.216.34")
	require.NoError(t, err)

	assert.True(t, analysis.ProxyDetected)
	assert.Equal(t, providerFlagWeight, analysis.AbuseScore)
}

func TestSlowProviderIsTimedOutAndExcluded(t *testing.T) {
	slow := &stubProvider{name: "slow", delay: time.Second, report: &Report{Tor: true}}
	agg, _ := newAggregator(t, slow)

	start := time.Now()
	analysis, err := agg.AnalyzeIP(context.Background(), "93.184.216.34")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, analysis.TorDetected)
	assert.Zero(t, analysis.AbuseScore)
}

func TestCacheHitSkipsRecomputation(t *testing.T) {
	provider := &stubProvider{name: "counted", report: &Report{}}
	agg, _ := newAggregator(t, provider)
	ctx := context.Background()

	first, err := agg.AnalyzeIP(ctx, "93.184.216.34")
	require.NoError(t, err)
	second, err := agg.AnalyzeIP(ctx, "93.184.216.34")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.calls)
	assert.Equal(t, first.AbuseScore, second.AbuseScore)
	assert.Equal(t, first.AnalyzedAt.Unix(), second.AnalyzedAt.Unix())
}

func TestCachedAnalysisRoundTrips(t *testing.T) {
	agg, c := newAggregator(t)
	ctx := context.Background()

	_, err := agg.AnalyzeIP(ctx, "185.220.101.1")
	require.NoError(t, err)

	raw, err := c.Get(ctx, cacheKey("185.220.101.1"))
	require.NoError(t, err)

	var cached models.IPAnalysis
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.True(t, cached.TorDetected)
}

func TestHTTPProviderLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/10.1.2.3", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		json.NewEncoder(w).Encode(Report{VPN: true, FraudScore: 80, Country: "NL"})
	}))
	defer srv.Close()

	p := NewHTTPProvider("test", srv.URL, "secret", time.Second)
	report, err := p.Lookup(context.Background(), "10.1.2.3")
	require.NoError(t, err)

	assert.True(t, report.VPN)
	assert.Equal(t, 80, report.FraudScore)
	assert.Equal(t, "NL", report.Country)
}

func TestHTTPProviderNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHTTPProvider("test", srv.URL, "", time.Second)
	_, err := p.Lookup(context.Background(), "10.1.2.3")
	assert.Error(t, err)
}

package behavioral

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/veriguard/veriguard/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func newAnalyzer(t *testing.T) *Analyzer {
	return NewAnalyzer(zaptest.NewLogger(t))
}

// humanInput produces signals that should score near zero.
func humanInput() Input {
	mouse := []models.MousePoint{
		{X: 10, Y: 10, Timestamp: 0},
		{X: 25, Y: 40, Timestamp: 40},
		{X: 60, Y: 55, Timestamp: 95},
		{X: 90, Y: 130, Timestamp: 160},
		{X: 140, Y: 120, Timestamp: 240},
		{X: 170, Y: 200, Timestamp: 330},
		{X: 250, Y: 180, Timestamp: 420},
	}
	keys := []models.Keystroke{
		{Key: "h", Timestamp: 0},
		{Key: "e", Timestamp: 140},
		{Key: "l", Timestamp: 390},
		{Key: "l", Timestamp: 470},
		{Key: "o", Timestamp: 720},
	}
	return Input{
		UserAgent:    chromeUA,
		IPAddress:    "203.0.113.7",
		Sample:       models.BehavioralSample{MouseMovements: mouse, Keystrokes: keys},
		CountryKnown: true,
	}
}

func TestHumanLikeInputScoresLow(t *testing.T) {
	res := newAnalyzer(t).Analyze(context.Background(), humanInput())

	assert.Equal(t, models.RiskLow, res.RiskLevel)
	assert.Less(t, res.Score, 25)
	assert.Empty(t, res.Reasons)
}

func TestCurlWithNoInteraction(t *testing.T) {
	in := Input{
		UserAgent: "curl/8.0",
		IPAddress: "203.0.113.7",
		Sample: models.BehavioralSample{
			MouseMovements: []models.MousePoint{},
			Keystrokes:     []models.Keystroke{},
		},
		CountryKnown: true,
	}

	res := newAnalyzer(t).Analyze(context.Background(), in)

	// UA signature (22.5) + no mouse (20) + no keystrokes (10)
	assert.GreaterOrEqual(t, res.Score, 45)
	assert.True(t, res.Signals["ua_automation"])
	assert.True(t, res.Signals["no_mouse_movement"])
	assert.NotEqual(t, models.RiskLow, res.RiskLevel)
}

func TestUAConfidencesCombineByMax(t *testing.T) {
	// "HeadlessChrome" matches an automation signature AND parses
	// incompletely (no OS token); the two must not sum past 0.9*25.
	in := Input{
		UserAgent:    "HeadlessChrome/120.0",
		Sample:       models.BehavioralSample{MouseMovements: humanInput().Sample.MouseMovements, Keystrokes: humanInput().Sample.Keystrokes},
		CountryKnown: true,
	}

	res := newAnalyzer(t).Analyze(context.Background(), in)
	assert.LessOrEqual(t, res.Score, 23)
	assert.True(t, res.Signals["ua_automation"])
}

func TestIncompleteUAParse(t *testing.T) {
	res := newAnalyzer(t).Analyze(context.Background(), Input{
		UserAgent:    "TotallyLegitimateAgent/1.0",
		Sample:       humanInput().Sample,
		CountryKnown: true,
	})

	assert.True(t, res.Signals["ua_unparseable"])
	// 0.7 * 25 rounded
	assert.GreaterOrEqual(t, res.Score, 17)
}

func TestAncientBrowserVersion(t *testing.T) {
	res := newAnalyzer(t).Analyze(context.Background(), Input{
		UserAgent:    "Mozilla/5.0 (Windows NT 6.1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/49.0.2623.112 Safari/537.36",
		Sample:       humanInput().Sample,
		CountryKnown: true,
	})

	assert.True(t, res.Signals["ua_outdated"])
	assert.GreaterOrEqual(t, res.Score, 12)
}

func TestSparseMouseTrace(t *testing.T) {
	in := humanInput()
	in.Sample.MouseMovements = in.Sample.MouseMovements[:3]
	in.Sample.Keystrokes = nil

	res := newAnalyzer(t).Analyze(context.Background(), in)
	assert.True(t, res.Signals["sparse_mouse_movement"])
	assert.True(t, res.Signals["no_keystrokes"])
}

func TestLinearMouseTraceIsFlagged(t *testing.T) {
	in := humanInput()
	line := make([]models.MousePoint, 10)
	for i := range line {
		line[i] = models.MousePoint{X: float64(i * 13), Y: float64(i * 7), Timestamp: int64(i * 30)}
	}
	in.Sample.MouseMovements = line

	res := newAnalyzer(t).Analyze(context.Background(), in)
	assert.True(t, res.Signals["linear_mouse_movement"])
}

func TestCurvedMouseTraceIsNotFlagged(t *testing.T) {
	res := newAnalyzer(t).Analyze(context.Background(), humanInput())
	assert.False(t, res.Signals["linear_mouse_movement"])
}

func TestUniformKeystrokeTiming(t *testing.T) {
	in := humanInput()
	keys := make([]models.Keystroke, 8)
	for i := range keys {
		keys[i] = models.Keystroke{Key: "a", Timestamp: int64(i * 100)}
	}
	in.Sample.Keystrokes = keys

	res := newAnalyzer(t).Analyze(context.Background(), in)
	assert.True(t, res.Signals["uniform_keystrokes"])
}

func TestRequestTimingSignals(t *testing.T) {
	tests := []struct {
		name    string
		timings []int64
		flagged bool
	}{
		{"too few timestamps", []int64{0, 50}, false},
		{"metronomic long train", []int64{0, 500, 1000, 1500, 2000, 2500, 3000}, true},
		{"sub-100ms mean interval", []int64{0, 40, 90, 120}, true},
		{"organic spacing", []int64{0, 800, 2100, 3000, 5200}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := humanInput()
			in.Sample.RequestTimings = tt.timings
			res := newAnalyzer(t).Analyze(context.Background(), in)
			assert.Equal(t, tt.flagged, res.Signals["suspicious_request_timing"])
		})
	}
}

func TestChallengeHistory(t *testing.T) {
	base := humanInput()

	base.PreviousChallenges = 6
	res := newAnalyzer(t).Analyze(context.Background(), base)
	assert.True(t, res.Signals["elevated_challenge_history"])

	base.PreviousChallenges = 11
	res = newAnalyzer(t).Analyze(context.Background(), base)
	assert.True(t, res.Signals["heavy_challenge_history"])
}

func TestGeoUnavailable(t *testing.T) {
	in := humanInput()
	in.CountryKnown = false

	res := newAnalyzer(t).Analyze(context.Background(), in)
	assert.True(t, res.Signals["geo_unavailable"])
	assert.GreaterOrEqual(t, res.Score, 5)
}

func TestScoreIsClamped(t *testing.T) {
	in := Input{
		UserAgent: "python-requests/2.31",
		Sample: models.BehavioralSample{
			RequestTimings: []int64{0, 10, 20, 30, 40, 50, 60, 70},
		},
		PreviousChallenges: 50,
		CountryKnown:       false,
	}
	keys := make([]models.Keystroke, 10)
	for i := range keys {
		keys[i] = models.Keystroke{Key: "x", Timestamp: int64(i * 50)}
	}
	in.Sample.Keystrokes = keys

	res := newAnalyzer(t).Analyze(context.Background(), in)
	assert.LessOrEqual(t, res.Score, 100)
	assert.GreaterOrEqual(t, res.Score, 75)
	assert.Equal(t, models.RiskCritical, res.RiskLevel)
}

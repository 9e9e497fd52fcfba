package behavioral

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/veriguard/veriguard/models"
)

// Per-group score caps. The groups are independent and additive; the total
// is clamped to 100.
const (
	uaMaxScore        = 25.0
	mouseMaxScore     = 20.0
	keystrokeMaxScore = 15.0
	timingMaxScore    = 15.0
	historyMaxScore   = 15.0
	geoMissingScore   = 5.0
)

const (
	collinearityEpsilon   = 1.0
	collinearityRatio     = 0.7
	keystrokeVarianceMin  = 100.0 // ms^2
	timingStdDevMin       = 10.0  // ms
	timingMeanMin         = 100.0 // ms
	historyHeavyThreshold = 10
	historyLightThreshold = 5
)

// Input is everything the analyzer considers for one request.
type Input struct {
	UserAgent          string
	Fingerprint        string
	IPAddress          string
	Sample             models.BehavioralSample
	PreviousChallenges int
	// CountryKnown is false when the IP pipeline could not resolve a
	// geolocation; unresolvable origin is itself a weak signal.
	CountryKnown bool
}

// Result is the analyzer's verdict: a risk score in [0,100], the signal tags
// that fired, and human-readable reasons in firing order.
type Result struct {
	Score     int
	Signals   map[string]bool
	RiskLevel models.RiskLevel
	Reasons   []string
}

// Analyzer scores requests for automation signatures. It is stateless; all
// inputs arrive per call so scoring is deterministic and unit-testable.
type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Analyze runs every signal group and returns the combined, clamped score.
func (a *Analyzer) Analyze(ctx context.Context, in Input) Result {
	res := Result{Signals: make(map[string]bool)}
	total := 0.0

	in.Sample.Truncate()

	total += a.scoreUserAgent(in.UserAgent, &res)
	total += a.scoreMouseMovements(in.Sample.MouseMovements, &res)
	total += a.scoreKeystrokes(in.Sample.Keystrokes, &res)
	total += a.scoreRequestTimings(in.Sample.RequestTimings, &res)
	total += a.scoreChallengeHistory(in.PreviousChallenges, &res)

	if !in.CountryKnown {
		total += geoMissingScore
		res.Signals["geo_unavailable"] = true
		res.Reasons = append(res.Reasons, "geolocation could not be resolved")
	}

	res.Score = clampScore(total)
	res.RiskLevel = models.RiskLevelForScore(res.Score)

	a.logger.Debug("behavioral analysis complete",
		zap.String("ip", in.IPAddress),
		zap.Int("score", res.Score),
		zap.String("risk_level", string(res.RiskLevel)))

	return res
}

// scoreUserAgent weighs automation signatures, parse completeness, and
// implausibly old versions. Confidences combine by maximum, not by sum, then
// scale against the 25-point cap.
func (a *Analyzer) scoreUserAgent(ua string, res *Result) float64 {
	confidence := 0.0

	if ua == "" {
		confidence = 0.9
		res.Signals["ua_missing"] = true
		res.Reasons = append(res.Reasons, "empty user agent")
	} else {
		if sig, ok := matchAutomationSignature(ua); ok {
			confidence = math.Max(confidence, 0.9)
			res.Signals["ua_automation"] = true
			res.Reasons = append(res.Reasons, fmt.Sprintf("user agent matches automation signature %q", sig))
		}

		parsed := parseUserAgent(ua)
		if parsed.Incomplete() {
			confidence = math.Max(confidence, 0.7)
			res.Signals["ua_unparseable"] = true
			res.Reasons = append(res.Reasons, "user agent missing browser or OS family")
		} else if parsed.ancientBrowser() {
			confidence = math.Max(confidence, 0.5)
			res.Signals["ua_outdated"] = true
			res.Reasons = append(res.Reasons, fmt.Sprintf("implausibly old %s version %d", parsed.BrowserFamily, parsed.BrowserVersion))
		}
	}

	return confidence * uaMaxScore
}

// scoreMouseMovements: no movement at all is the strongest automation tell;
// a sparse trace is nearly as strong; a dense trace is tested for
// machine-straight paths.
func (a *Analyzer) scoreMouseMovements(points []models.MousePoint, res *Result) float64 {
	switch {
	case len(points) == 0:
		res.Signals["no_mouse_movement"] = true
		res.Reasons = append(res.Reasons, "no mouse movement recorded")
		return mouseMaxScore
	case len(points) < 5:
		res.Signals["sparse_mouse_movement"] = true
		res.Reasons = append(res.Reasons, "too few mouse movements to look human")
		return 15
	}

	if linearRatio(points) > collinearityRatio {
		res.Signals["linear_mouse_movement"] = true
		res.Reasons = append(res.Reasons, "mouse path is almost perfectly straight")
		return 10
	}
	return 0
}

// linearRatio tests each consecutive triple of points for near-collinearity
// via the cross product of the two displacement vectors.
func linearRatio(points []models.MousePoint) float64 {
	triples := len(points) - 2
	if triples <= 0 {
		return 0
	}
	collinear := 0
	for i := 0; i < triples; i++ {
		v1x := points[i+1].X - points[i].X
		v1y := points[i+1].Y - points[i].Y
		v2x := points[i+2].X - points[i+1].X
		v2y := points[i+2].Y - points[i+1].Y
		cross := v1x*v2y - v1y*v2x
		if math.Abs(cross) < collinearityEpsilon {
			collinear++
		}
	}
	return float64(collinear) / float64(triples)
}

// scoreKeystrokes: absence of typing is weakly suspicious; robotically
// uniform inter-key timing is strongly suspicious.
func (a *Analyzer) scoreKeystrokes(keys []models.Keystroke, res *Result) float64 {
	if len(keys) == 0 {
		res.Signals["no_keystrokes"] = true
		res.Reasons = append(res.Reasons, "no keystrokes recorded")
		return 10
	}
	if len(keys) < 2 {
		return 0
	}

	intervals := make([]float64, 0, len(keys)-1)
	for i := 1; i < len(keys); i++ {
		intervals = append(intervals, float64(keys[i].Timestamp-keys[i-1].Timestamp))
	}

	if variance(intervals) < keystrokeVarianceMin {
		res.Signals["uniform_keystrokes"] = true
		res.Reasons = append(res.Reasons, "keystroke timing is unnaturally uniform")
		return keystrokeMaxScore
	}
	return 0
}

// scoreRequestTimings flags metronomic or implausibly rapid request trains.
func (a *Analyzer) scoreRequestTimings(timings []int64, res *Result) float64 {
	if len(timings) < 3 {
		return 0
	}

	intervals := make([]float64, 0, len(timings)-1)
	for i := 1; i < len(timings); i++ {
		intervals = append(intervals, float64(timings[i]-timings[i-1]))
	}

	mean := meanOf(intervals)
	stddev := math.Sqrt(variance(intervals))

	if (stddev < timingStdDevMin && len(intervals) > 5) || mean < timingMeanMin {
		res.Signals["suspicious_request_timing"] = true
		res.Reasons = append(res.Reasons, "request timing pattern looks scripted")
		return timingMaxScore
	}
	return 0
}

func (a *Analyzer) scoreChallengeHistory(previous int, res *Result) float64 {
	switch {
	case previous > historyHeavyThreshold:
		res.Signals["heavy_challenge_history"] = true
		res.Reasons = append(res.Reasons, "identity has requested many recent challenges")
		return historyMaxScore
	case previous > historyLightThreshold:
		res.Signals["elevated_challenge_history"] = true
		res.Reasons = append(res.Reasons, "identity has an elevated recent challenge count")
		return 8
	}
	return 0
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func variance(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	mean := meanOf(vals)
	sum := 0.0
	for _, v := range vals {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(vals))
}

func clampScore(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

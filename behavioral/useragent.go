package behavioral

import (
	"regexp"
	"strconv"
	"strings"
)

// automationSignatures are matched case-insensitively against the raw UA.
// The list covers automation frameworks, headless markers, and generic HTTP
// client tokens.
var automationSignatures = []string{
	"headless",
	"phantomjs",
	"selenium",
	"webdriver",
	"puppeteer",
	"playwright",
	"cypress",
	"nightmare",
	"zombie",
	"electron",
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"okhttp",
	"java/",
	"libwww",
	"httpclient",
	"scrapy",
	"aiohttp",
	"axios",
	"node-fetch",
	"bot",
	"crawler",
	"spider",
}

// parsedUA is the minimal decomposition the analyzer needs: enough to tell
// whether the string parses as a real browser and how old it claims to be.
type parsedUA struct {
	BrowserFamily  string
	BrowserVersion int
	OSFamily       string
}

// Incomplete reports whether either the browser or OS family failed to parse.
func (p parsedUA) Incomplete() bool {
	return p.BrowserFamily == "" || p.OSFamily == ""
}

var browserPatterns = []struct {
	family string
	re     *regexp.Regexp
}{
	// Order matters: Edge and Opera embed Chrome tokens, Chrome embeds Safari.
	{"Edge", regexp.MustCompile(`(?i)edg(?:e|a|ios)?/(\d+)`)},
	{"Opera", regexp.MustCompile(`(?i)(?:opr|opera)[/ ](\d+)`)},
	{"Chrome", regexp.MustCompile(`(?i)chrome/(\d+)`)},
	{"Firefox", regexp.MustCompile(`(?i)firefox/(\d+)`)},
	{"Safari", regexp.MustCompile(`(?i)version/(\d+).*safari`)},
	{"IE", regexp.MustCompile(`(?i)(?:msie |rv:)(\d+)`)},
}

var osPatterns = []struct {
	family string
	re     *regexp.Regexp
}{
	{"Windows", regexp.MustCompile(`(?i)windows`)},
	{"macOS", regexp.MustCompile(`(?i)mac os x|macintosh`)},
	{"iOS", regexp.MustCompile(`(?i)iphone|ipad|ipod`)},
	{"Android", regexp.MustCompile(`(?i)android`)},
	{"Linux", regexp.MustCompile(`(?i)linux|x11`)},
	{"ChromeOS", regexp.MustCompile(`(?i)cros`)},
}

// oldestReasonableVersion is the browser major version below which a UA is
// treated as implausibly old for live traffic.
var oldestReasonableVersion = map[string]int{
	"Chrome":  80,
	"Firefox": 78,
	"Safari":  12,
	"Edge":    80,
	"Opera":   60,
}

func parseUserAgent(ua string) parsedUA {
	var p parsedUA
	for _, bp := range browserPatterns {
		if m := bp.re.FindStringSubmatch(ua); m != nil {
			p.BrowserFamily = bp.family
			if v, err := strconv.Atoi(m[1]); err == nil {
				p.BrowserVersion = v
			}
			break
		}
	}
	for _, op := range osPatterns {
		if op.re.MatchString(ua) {
			p.OSFamily = op.family
			break
		}
	}
	return p
}

// ancientBrowser reports whether the parsed version predates what real users
// still run.
func (p parsedUA) ancientBrowser() bool {
	if p.BrowserFamily == "IE" {
		return true
	}
	min, ok := oldestReasonableVersion[p.BrowserFamily]
	return ok && p.BrowserVersion > 0 && p.BrowserVersion < min
}

// matchAutomationSignature returns the first matching signature, if any.
func matchAutomationSignature(ua string) (string, bool) {
	lower := strings.ToLower(ua)
	for _, sig := range automationSignatures {
		if strings.Contains(lower, sig) {
			return sig, true
		}
	}
	return "", false
}

package bypass

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrBlocked is wrapped by errors returned from Check when a page is a
// challenge or block page. Such pages are worth retrying after a delay.
var ErrBlocked = errors.New("blocked by bot protection")

// Signal is what a detector looks at: either an HTTP response captured by the
// probe or the rendered document of a browser tab. StatusCode is zero when the
// page came from the browser and no status is known.
type Signal struct {
	URL        string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// Detector examines a signal to determine if a bot protection mechanism
// blocked or challenged the request.
type Detector func(s *Signal) (detected bool, source string)

// DefaultDetectors returns the standard list of bot protection detectors.
func DefaultDetectors() []Detector {
	return []Detector{
		detectGoogleSorry,
		detectCloudflare,
		detectAkamai,
		detectDataDome,
		detectPerimeterX,
	}
}

// Analyze runs the signal through all provided detectors and reports the
// first one that triggered.
func Analyze(s *Signal, detectors []Detector) (bool, string) {
	if s == nil {
		return false, ""
	}
	for _, d := range detectors {
		if detected, source := d(s); detected {
			return true, source
		}
	}
	return false, ""
}

// Check is Analyze with an error result wrapping ErrBlocked.
func Check(s *Signal, detectors []Detector) error {
	if detected, source := Analyze(s, detectors); detected {
		return fmt.Errorf("%s: %w", source, ErrBlocked)
	}
	return nil
}

func getHeader(headers map[string][]string, key string) string {
	if vals, ok := headers[key]; ok && len(vals) > 0 {
		return vals[0]
	}
	lowerKey := strings.ToLower(key)
	for k, vals := range headers {
		if strings.ToLower(k) == lowerKey && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}

// denied reports whether the status looks like a refusal. An unknown status
// (browser documents) counts, so only body signatures decide.
func denied(s *Signal, codes ...int) bool {
	if s.StatusCode == 0 {
		return true
	}
	for _, c := range codes {
		if s.StatusCode == c {
			return true
		}
	}
	return false
}

// detectGoogleSorry recognises Google's "unusual traffic" interstitial.
func detectGoogleSorry(s *Signal) (bool, string) {
	if strings.Contains(s.URL, "google.") && strings.Contains(s.URL, "/sorry/") {
		return true, "Google"
	}
	if s.StatusCode == http.StatusTooManyRequests && strings.Contains(s.URL, "google.") {
		return true, "Google"
	}
	if bytes.Contains(s.Body, []byte("Our systems have detected unusual traffic from your computer network")) ||
		bytes.Contains(s.Body, []byte(`action="CaptchaRedirect"`)) ||
		bytes.Contains(s.Body, []byte("g-recaptcha")) && bytes.Contains(s.Body, []byte("/sorry/")) {
		return true, "Google"
	}
	return false, ""
}

// detectCloudflare looks for common Cloudflare challenge/block signatures.
func detectCloudflare(s *Signal) (bool, string) {
	if !denied(s, http.StatusForbidden, http.StatusServiceUnavailable) {
		return false, ""
	}
	if s.StatusCode != 0 && strings.Contains(strings.ToLower(getHeader(s.Headers, "Server")), "cloudflare") {
		return true, "Cloudflare"
	}
	if bytes.Contains(s.Body, []byte("cf-browser-verification")) ||
		bytes.Contains(s.Body, []byte("cf-turnstile")) ||
		bytes.Contains(s.Body, []byte("Attention Required! | Cloudflare")) ||
		bytes.Contains(s.Body, []byte("Just a moment...")) && bytes.Contains(s.Body, []byte("challenge-platform")) {
		return true, "Cloudflare"
	}
	return false, ""
}

// detectAkamai looks for Akamai Bot Manager signatures.
func detectAkamai(s *Signal) (bool, string) {
	if !denied(s, http.StatusForbidden) {
		return false, ""
	}
	if strings.Contains(strings.ToLower(getHeader(s.Headers, "Server")), "akamai") {
		return true, "Akamai"
	}
	if bytes.Contains(s.Body, []byte("Reference #")) && bytes.Contains(s.Body, []byte("Access Denied")) {
		return true, "Akamai"
	}
	return false, ""
}

// detectDataDome looks for DataDome challenge/block signatures.
func detectDataDome(s *Signal) (bool, string) {
	if !denied(s, http.StatusForbidden) {
		return false, ""
	}
	if getHeader(s.Headers, "X-DataDome") != "" || getHeader(s.Headers, "X-DataDome-Response") != "" {
		return true, "DataDome"
	}
	if bytes.Contains(s.Body, []byte("geo.captcha-delivery.com")) {
		return true, "DataDome"
	}
	return false, ""
}

// detectPerimeterX looks for PerimeterX (HUMAN) signatures.
func detectPerimeterX(s *Signal) (bool, string) {
	if !denied(s, http.StatusForbidden) {
		return false, ""
	}
	if getHeader(s.Headers, "X-Px-Captcha") != "" {
		return true, "PerimeterX"
	}
	if bytes.Contains(s.Body, []byte("px-captcha")) || bytes.Contains(s.Body, []byte("_pxBlock")) {
		return true, "PerimeterX"
	}
	return false, ""
}

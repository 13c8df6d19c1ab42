package bypass

import (
	"errors"
	"testing"
)

func TestDetectGoogleSorry(t *testing.T) {
	s := &Signal{URL: "https://www.google.com/sorry/index?continue=x"}
	if detected, src := detectGoogleSorry(s); !detected || src != "Google" {
		t.Errorf("expected Google detection by URL")
	}

	s = &Signal{
		URL:  "https://www.google.com/search?q=pizza",
		Body: []byte("<p>Our systems have detected unusual traffic from your computer network.</p>"),
	}
	if detected, _ := detectGoogleSorry(s); !detected {
		t.Errorf("expected Google detection by body")
	}

	s = &Signal{URL: "https://www.google.com/search?q=pizza", Body: []byte("<div id=rhs></div>")}
	if detected, _ := detectGoogleSorry(s); detected {
		t.Errorf("expected normal results page not to be detected")
	}
}

func TestDetectCloudflare(t *testing.T) {
	s := &Signal{
		StatusCode: 200,
		Headers:    map[string][]string{"Server": {"cloudflare"}},
		Body:       []byte("OK"),
	}
	if detected, _ := detectCloudflare(s); detected {
		t.Errorf("expected not detected on 200")
	}

	s = &Signal{
		StatusCode: 403,
		Headers:    map[string][]string{"server": {"cloudflare"}},
	}
	if detected, src := detectCloudflare(s); !detected || src != "Cloudflare" {
		t.Errorf("expected Cloudflare detection by header")
	}

	// Browser documents have no status; the body decides.
	s = &Signal{Body: []byte("<html>... cf-turnstile ...</html>")}
	if detected, _ := detectCloudflare(s); !detected {
		t.Errorf("expected Cloudflare detection by body without status")
	}
}

func TestDetectAkamai(t *testing.T) {
	s := &Signal{StatusCode: 403, Headers: map[string][]string{"Server": {"AkamaiGHost"}}}
	if detected, src := detectAkamai(s); !detected || src != "Akamai" {
		t.Errorf("expected Akamai detection by header")
	}
	s = &Signal{StatusCode: 403, Body: []byte("Access Denied... Reference #123.456")}
	if detected, _ := detectAkamai(s); !detected {
		t.Errorf("expected Akamai detection by body")
	}
}

func TestDetectDataDomeAndPerimeterX(t *testing.T) {
	s := &Signal{StatusCode: 403, Headers: map[string][]string{"X-DataDome": {"1"}}}
	if detected, src := detectDataDome(s); !detected || src != "DataDome" {
		t.Errorf("expected DataDome detection by header")
	}
	s = &Signal{StatusCode: 403, Body: []byte("window._pxBlock = true;")}
	if detected, src := detectPerimeterX(s); !detected || src != "PerimeterX" {
		t.Errorf("expected PerimeterX detection by body")
	}
}

func TestCheck(t *testing.T) {
	err := Check(&Signal{URL: "https://www.google.com/sorry/index"}, DefaultDetectors())
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if err := Check(&Signal{StatusCode: 200, Body: []byte("hello")}, DefaultDetectors()); err != nil {
		t.Errorf("expected nil for clean page, got %v", err)
	}
	if detected, _ := Analyze(nil, DefaultDetectors()); detected {
		t.Errorf("nil signal should not be detected")
	}
}

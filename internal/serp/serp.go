// Package serp builds the Google search and Maps URLs that search-kind jobs
// navigate to.
package serp

import (
	"net/url"
	"strings"
)

// Provider turns a free-text business query into navigable URLs.
type Provider interface {
	SearchURL(query string) string
	MapsURL(query string) string
}

// Google builds google.com URLs. Zero values fall back to www.google.com in
// English with no country bias.
type Google struct {
	Host     string // e.g. "www.google.co.uk"
	Language string // hl
	Country  string // gl
}

var _ Provider = Google{}

func (g Google) host() string {
	if g.Host == "" {
		return "www.google.com"
	}
	return g.Host
}

func (g Google) params(q url.Values) url.Values {
	if g.Language != "" {
		q.Set("hl", g.Language)
	} else {
		q.Set("hl", "en")
	}
	if g.Country != "" {
		q.Set("gl", strings.ToLower(g.Country))
	}
	return q
}

// SearchURL returns a web search URL for query.
func (g Google) SearchURL(query string) string {
	u := url.URL{
		Scheme:   "https",
		Host:     g.host(),
		Path:     "/search",
		RawQuery: g.params(url.Values{"q": {normalize(query)}}).Encode(),
	}
	return u.String()
}

// MapsURL returns a Maps search URL for query.
func (g Google) MapsURL(query string) string {
	u := url.URL{
		Scheme:   "https",
		Host:     g.host(),
		Path:     "/maps/search/" + url.PathEscape(normalize(query)),
		RawQuery: g.params(url.Values{}).Encode(),
	}
	return u.String()
}

func normalize(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

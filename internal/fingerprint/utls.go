// Package fingerprint builds HTTP transports whose TLS ClientHello matches a
// real browser, so the prefetch probe looks like the tab that follows it.
package fingerprint

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	utls "github.com/refraction-networking/utls"
)

// Profile represents a recognized TLS fingerprint profile.
type Profile string

const (
	ProfileChrome  Profile = "chrome"
	ProfileFirefox Profile = "firefox"
	ProfileSafari  Profile = "safari"
	ProfileGo      Profile = "go"     // standard go TLS
	ProfileRandom  Profile = "random" // randomized uTLS profile
)

// ParseProfile maps a config value onto a Profile. The empty string selects
// ProfileChrome, which matches the headless Chrome used for capture.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ProfileChrome, nil
	case ProfileChrome, ProfileFirefox, ProfileSafari, ProfileGo, ProfileRandom:
		return p, nil
	default:
		return "", fmt.Errorf("fingerprint: unknown profile %q", s)
	}
}

// ProfileFor picks the profile whose ClientHello agrees with a User-Agent.
func ProfileFor(userAgent string) Profile {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "firefox/"):
		return ProfileFirefox
	case strings.Contains(ua, "chrome/"), strings.Contains(ua, "chromium/"), strings.Contains(ua, "edg/"):
		return ProfileChrome
	case strings.Contains(ua, "safari/"):
		return ProfileSafari
	default:
		return ProfileChrome
	}
}

func (p Profile) helloID() (utls.ClientHelloID, error) {
	switch p {
	case ProfileChrome:
		return utls.HelloChrome_Auto, nil
	case ProfileFirefox:
		return utls.HelloFirefox_Auto, nil
	case ProfileSafari:
		return utls.HelloIOS_Auto, nil
	case ProfileRandom:
		return utls.HelloRandomizedALPN, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("fingerprint: unknown profile %q", p)
	}
}

// Options tune the transport built by Transport.
type Options struct {
	// Proxy configures the underlying transport's Proxy when set.
	Proxy func(*http.Request) (*url.URL, error)
	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

// Transport returns an http.RoundTripper configured with the specified TLS
// fingerprint profile. ProfileGo yields a plain clone of the default
// transport; every other profile performs the handshake with utls.UClient.
func Transport(p Profile, opts Options) (http.RoundTripper, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != nil {
		transport.Proxy = opts.Proxy
	}

	if p == ProfileGo {
		if opts.InsecureSkipVerify {
			transport.TLSClientConfig.InsecureSkipVerify = true
		}
		return transport, nil
	}

	helloID, err := p.helloID()
	if err != nil {
		return nil, err
	}

	// utls advertises h2 for the browser profiles, but the transport speaks
	// HTTP/1.1 over a custom dialer; pin ALPN so servers don't upgrade.
	transport.ForceAttemptHTTP2 = false
	transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		tcpConn, err := transport.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}

		uConn := utls.UClient(tcpConn, &utls.Config{
			ServerName:         host,
			InsecureSkipVerify: opts.InsecureSkipVerify,
			NextProtos:         []string{"http/1.1"},
		}, helloID)
		if err := uConn.BuildHandshakeState(); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("fingerprint: build handshake: %w", err)
		}
		for _, ext := range uConn.Extensions {
			if alpn, ok := ext.(*utls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
			}
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = tcpConn.Close()
			return nil, fmt.Errorf("fingerprint: utls handshake failed: %w", err)
		}
		return uConn, nil
	}

	return transport, nil
}

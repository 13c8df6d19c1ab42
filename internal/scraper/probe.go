package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/FranksOps/gbpsnap/pkg/retry"
)

var (
	// ErrDisallowed means robots.txt forbids the target for our agent.
	ErrDisallowed = errors.New("disallowed by robots.txt")
	// ErrDeadTarget means the site answered that the page does not exist.
	ErrDeadTarget = errors.New("target page gone")
	// ErrUnreachable covers DNS, connect and 5xx failures.
	ErrUnreachable = errors.New("target unreachable")
)

// ProbeReport summarises a prefetch of a job's URL.
type ProbeReport struct {
	StatusCode  int
	FinalURL    string
	Blocked     bool
	BlockSource string
}

// Probe checks a URL over plain HTTP before a browser tab is spent on it.
type Probe struct {
	fetcher *Fetcher
	robots  *RobotsTxtAuditor
	agent   string
	logger  *slog.Logger
}

// NewProbe returns a probe. A nil robots auditor skips robots.txt checks;
// agent is the product token matched against robots.txt groups.
func NewProbe(fetcher *Fetcher, robots *RobotsTxtAuditor, agent string, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{fetcher: fetcher, robots: robots, agent: agent, logger: logger}
}

// Check fetches targetURL. Robots denial and 404/410 are permanent errors;
// transport failures and 5xx are retryable. A block page is reported, not
// failed, since a real browser often gets through the challenge.
func (p *Probe) Check(ctx context.Context, targetURL string) (*ProbeReport, error) {
	if p.robots != nil {
		allowed, err := p.robots.IsAllowed(ctx, targetURL, p.agent)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if !allowed {
			return nil, retry.Permanent(fmt.Errorf("%s: %w", targetURL, ErrDisallowed))
		}
	}

	res, err := p.fetcher.Fetch(ctx, targetURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	report := &ProbeReport{
		StatusCode:  res.StatusCode,
		FinalURL:    res.FinalURL,
		Blocked:     res.Blocked,
		BlockSource: res.BlockSource,
	}

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return report, retry.Permanent(fmt.Errorf("%s: %d: %w", targetURL, res.StatusCode, ErrDeadTarget))
	case res.StatusCode >= 500 && !res.Blocked:
		return report, fmt.Errorf("%s: %d: %w", targetURL, res.StatusCode, ErrUnreachable)
	}

	if res.Blocked {
		p.logger.Debug("probe hit bot protection", "url", targetURL, "source", res.BlockSource)
	}
	return report, nil
}

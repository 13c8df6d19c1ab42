package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/gbpsnap/internal/analyzer"
	"github.com/FranksOps/gbpsnap/internal/browser"
	"github.com/FranksOps/gbpsnap/internal/bypass"
	"github.com/FranksOps/gbpsnap/internal/job"
	"github.com/FranksOps/gbpsnap/internal/metrics"
	"github.com/FranksOps/gbpsnap/internal/serp"
	"github.com/PuerkitoBio/goquery"
)

const pollInterval = 150 * time.Millisecond

// Env is what a run needs besides the page.
type Env struct {
	Descriptor  job.Descriptor
	URLs        serp.Provider
	StepTimeout time.Duration
	// Capture stores a screenshot and returns its path.
	Capture   func(label string, data []byte) (string, error)
	Detectors []bypass.Detector
	Logger    *slog.Logger
}

// Result is what a run produced. Artifacts is filled even when Run fails so
// the caller can discard partial captures.
type Result struct {
	Artifacts []string
	Metadata  map[string]string
}

// StepError records which step of a flow failed.
type StepError struct {
	Index int
	Kind  StepKind
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

type runner struct {
	page    browser.Page
	env     Env
	res     *Result
	history []string
}

// Run executes def on page.
func Run(ctx context.Context, page browser.Page, def Definition, env Env) (*Result, error) {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.URLs == nil {
		env.URLs = serp.Google{}
	}
	if env.StepTimeout <= 0 {
		env.StepTimeout = 15 * time.Second
	}
	if env.Detectors == nil {
		env.Detectors = bypass.DefaultDetectors()
	}
	r := &runner{
		page: page,
		env:  env,
		res:  &Result{Metadata: map[string]string{}},
	}

	for i, step := range def.Steps {
		err := r.step(ctx, step)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return r.res, ctx.Err()
		}
		if step.Optional {
			env.Logger.Debug("optional step skipped", "flow", def.Name, "step", i, "kind", step.Kind, "err", err)
			continue
		}
		return r.res, &StepError{Index: i, Kind: step.Kind, Err: err}
	}
	return r.res, nil
}

func (r *runner) step(ctx context.Context, s Step) error {
	if s.Kind == StepSleep {
		return sleep(ctx, s.Duration)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = r.env.StepTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch s.Kind {
	case StepNavigate:
		return r.navigate(ctx, s)
	case StepWait:
		sel, err := r.resolve(ctx, s.Selectors)
		if err != nil {
			return err
		}
		return r.page.WaitVisible(ctx, sel)
	case StepClick:
		sel, err := r.resolve(ctx, s.Selectors)
		if err != nil {
			return err
		}
		if loc, err := r.page.Location(ctx); err == nil {
			r.history = append(r.history, loc)
		}
		return r.page.Click(ctx, sel)
	case StepScroll:
		return r.scroll(ctx, s)
	case StepBack:
		return r.back(ctx, s)
	case StepDetect:
		return r.detect(ctx, s)
	case StepLinks:
		return r.links(ctx, s)
	case StepCapture:
		return r.capture(ctx, s)
	}
	return fmt.Errorf("unknown step kind %q", s.Kind)
}

func (r *runner) target(s Step) string {
	d := r.env.Descriptor
	switch s.Target {
	case TargetSearch:
		return r.env.URLs.SearchURL(d.Query())
	case TargetMaps:
		return r.env.URLs.MapsURL(d.Query())
	case TargetPrior:
		if d.PriorRef != "" {
			return d.PriorRef
		}
		return r.env.URLs.SearchURL(d.Query())
	}
	if d.Kind == job.KindSearch {
		return r.env.URLs.SearchURL(d.Query())
	}
	return d.Locator
}

func (r *runner) navigate(ctx context.Context, s Step) error {
	target := r.target(s)
	if target == "" {
		return errors.New("nothing to navigate to")
	}
	if err := r.page.Navigate(ctx, target); err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	r.history = append(r.history[:0], target)
	return r.checkBlocked(ctx)
}

func (r *runner) checkBlocked(ctx context.Context) error {
	html, err := r.page.HTML(ctx)
	if err != nil {
		return err
	}
	loc, _ := r.page.Location(ctx)
	detected, source := bypass.Analyze(&bypass.Signal{URL: loc, Body: []byte(html)}, r.env.Detectors)
	if !detected {
		return nil
	}
	metrics.BlockedPagesTotal.WithLabelValues(source).Inc()
	return fmt.Errorf("%s: %w", source, bypass.ErrBlocked)
}

// resolve returns the first selector present on the page, polling until ctx
// expires. A single selector is returned as is and the action waits for it.
func (r *runner) resolve(ctx context.Context, selectors []string) (string, error) {
	if len(selectors) == 1 {
		return selectors[0], nil
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		for _, sel := range selectors {
			ok, err := r.page.Exists(ctx, sel)
			if err != nil {
				return "", err
			}
			if ok {
				return sel, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("none of %q: %w: %w", selectors, browser.ErrNotFound, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *runner) scroll(ctx context.Context, s Step) error {
	sel := ""
	if len(s.Selectors) > 0 {
		var err error
		if sel, err = r.resolve(ctx, s.Selectors); err != nil {
			return err
		}
	}
	pixels := s.Pixels
	if pixels == 0 {
		pixels = 600
	}
	n := max(s.Repeat, 1)
	for i := 0; i < n; i++ {
		if err := r.page.Scroll(ctx, sel, pixels); err != nil {
			return err
		}
		if s.Duration > 0 {
			if err := sleep(ctx, s.Duration); err != nil {
				return err
			}
		}
	}
	return nil
}

// back goes one entry back in history. If that fails or the expected view
// doesn't come back, it loads the previous URL again, or reloads.
func (r *runner) back(ctx context.Context, s Step) error {
	err := r.page.Back(ctx)
	if err == nil && len(s.Selectors) > 0 {
		var sel string
		if sel, err = r.resolve(ctx, s.Selectors); err == nil {
			err = r.page.WaitVisible(ctx, sel)
		}
	}
	if err == nil {
		if len(r.history) > 1 {
			r.history = r.history[:len(r.history)-1]
		}
		return nil
	}
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}

	r.env.Logger.Debug("history back failed, reloading", "err", err)
	// The step budget may be spent; give the fallback its own.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.env.StepTimeout)
	defer cancel()
	if n := len(r.history); n > 0 {
		prev := r.history[n-1]
		r.history = r.history[:n-1]
		return r.page.Navigate(fctx, prev)
	}
	return r.page.Reload(fctx)
}

func (r *runner) document(ctx context.Context) (*goquery.Document, error) {
	html, err := r.page.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// detect polls the rendered document for any of the selectors, then for
// any of the phrases in the page text. The page is
// loaded by now, so running out the step budget means the signal is absent.
func (r *runner) detect(ctx context.Context, s Step) error {
	label := s.Label
	if label == "" {
		label = "signal"
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		doc, err := r.document(ctx)
		if err != nil {
			return err
		}
		for _, sel := range s.Selectors {
			found := doc.Find(sel).First()
			if found.Length() == 0 {
				continue
			}
			value, ok := found.Attr("src")
			if !ok {
				value, ok = found.Attr("data-src")
			}
			if !ok {
				value = strings.TrimSpace(found.Text())
			}
			r.res.Metadata[label] = value
			r.res.Metadata[label+"_selector"] = sel
			return nil
		}
		if matches := analyzer.FindPhrases(doc.Text(), s.Phrases); len(matches) > 0 {
			m := matches[0]
			r.res.Metadata[label] = m.Phrase
			if len(m.Sentences) > 0 {
				r.res.Metadata[label+"_context"] = m.Sentences[0]
			}
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%s: %w", label, ErrSignalAbsent)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var socialNetworks = []struct {
	name  string
	hosts []string
}{
	{"facebook", []string{"facebook.com", "fb.com"}},
	{"instagram", []string{"instagram.com"}},
	{"twitter", []string{"twitter.com", "x.com"}},
	{"linkedin", []string{"linkedin.com"}},
	{"youtube", []string{"youtube.com", "youtu.be"}},
	{"tiktok", []string{"tiktok.com"}},
	{"pinterest", []string{"pinterest.com"}},
	{"yelp", []string{"yelp.com"}},
}

// SocialNetwork names the network an href points at, if any. Google result
// links wrapped as /url?q=... are unwrapped first.
func SocialNetwork(href string) (string, string) {
	u, err := url.Parse(href)
	if err != nil {
		return "", ""
	}
	if u.Path == "/url" {
		if q := u.Query().Get("q"); q != "" {
			if inner, err := url.Parse(q); err == nil {
				u, href = inner, q
			}
		}
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, n := range socialNetworks {
		for _, h := range n.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return n.name, href
			}
		}
	}
	return "", ""
}

// links collects social profile links within the first container present.
func (r *runner) links(ctx context.Context, s Step) error {
	doc, err := r.document(ctx)
	if err != nil {
		return err
	}
	label := s.Label
	if label == "" {
		label = "social"
	}
	containers := s.Selectors
	if len(containers) == 0 {
		containers = []string{"body"}
	}

	found := 0
	for _, c := range containers {
		scope := doc.Find(c)
		if scope.Length() == 0 {
			continue
		}
		scope.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			name, link := SocialNetwork(href)
			if name == "" {
				return
			}
			key := label + "_" + name
			if _, dup := r.res.Metadata[key]; !dup {
				r.res.Metadata[key] = link
				found++
			}
		})
		break
	}
	if found == 0 {
		return fmt.Errorf("%s links: %w", label, ErrSignalAbsent)
	}
	return nil
}

func (r *runner) capture(ctx context.Context, s Step) error {
	sel := ""
	if len(s.Selectors) > 0 {
		var err error
		if sel, err = r.resolve(ctx, s.Selectors); err != nil {
			return err
		}
	}
	data, err := r.page.Screenshot(ctx, sel)
	if err != nil {
		return fmt.Errorf("screenshot %s: %w", s.Label, err)
	}
	if r.env.Capture == nil {
		return nil
	}
	path, err := r.env.Capture(s.Label, data)
	if err != nil {
		return fmt.Errorf("store %s: %w", s.Label, err)
	}
	r.res.Artifacts = append(r.res.Artifacts, path)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

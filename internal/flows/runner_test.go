package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/gbpsnap/internal/browser/browsertest"
	"github.com/FranksOps/gbpsnap/internal/bypass"
	"github.com/FranksOps/gbpsnap/internal/job"
)

func urlJob() job.Descriptor {
	d := job.NewDescriptor(1, []string{"url"}, []string{"https://joespizza.example"})
	d.ID, d.Kind, d.Locator, d.Flow = "1", job.KindURL, "https://joespizza.example", "iframe"
	return d
}

func searchJob() job.Descriptor {
	d := job.NewDescriptor(2, []string{"name", "city"}, []string{"Joe's Pizza", "Austin"})
	d.ID, d.Kind, d.Name, d.City, d.Flow = "2", job.KindSearch, "Joe's Pizza", "Austin", "panel"
	return d
}

func collect(t *testing.T) (func(string, []byte) (string, error), *[]string) {
	t.Helper()
	var labels []string
	return func(label string, data []byte) (string, error) {
		if len(data) == 0 {
			t.Errorf("empty screenshot for %s", label)
		}
		labels = append(labels, label)
		return fmt.Sprintf("/tmp/%s.png", label), nil
	}, &labels
}

func TestRun_IframeDetected(t *testing.T) {
	page := browsertest.NewPage("body", `iframe[src*="google.com/maps"]`)
	page.Content = `<html><body><iframe src="https://www.google.com/maps/embed?pb=!1m18"></iframe></body></html>`
	capture, labels := collect(t)

	def, _ := Defaults().Get("iframe")
	res, err := Run(context.Background(), page, def, Env{
		Descriptor:  urlJob(),
		StepTimeout: 5 * time.Second,
		Capture:     capture,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Artifacts) != 1 || (*labels)[0] != "map" {
		t.Errorf("expected one map artifact, got %v", res.Artifacts)
	}
	if !strings.HasPrefix(res.Metadata["map_embed"], "https://www.google.com/maps/embed") {
		t.Errorf("expected iframe src in metadata, got %v", res.Metadata)
	}
	if calls := page.Calls(); calls[0] != "navigate https://joespizza.example" {
		t.Errorf("expected navigation to locator first, got %v", calls)
	}
}

func TestRun_SignalAbsentIsTerminal(t *testing.T) {
	page := browsertest.NewPage("body")
	page.Content = `<html><body><p>No map here</p></body></html>`

	def := Definition{Name: "iframe", Steps: []Step{
		{Kind: StepNavigate},
		{Kind: StepDetect, Selectors: []string{`iframe[src*="google.com/maps"]`}, Timeout: 50 * time.Millisecond},
		{Kind: StepCapture, Label: "map"},
	}}
	res, err := Run(context.Background(), page, def, Env{Descriptor: urlJob()})
	if !errors.Is(err, ErrSignalAbsent) {
		t.Fatalf("expected ErrSignalAbsent, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Index != 1 || stepErr.Kind != StepDetect {
		t.Errorf("expected StepError at detect step, got %#v", err)
	}
	if len(res.Artifacts) != 0 {
		t.Errorf("expected no artifacts, got %v", res.Artifacts)
	}
}

func TestRun_SearchPanel(t *testing.T) {
	page := browsertest.NewPage("button#L2AGLb", "#rhs")
	capture, labels := collect(t)

	def, _ := Defaults().Get("panel")
	res, err := Run(context.Background(), page, def, Env{
		Descriptor:  searchJob(),
		StepTimeout: time.Second,
		Capture:     capture,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Artifacts) != 1 || (*labels)[0] != "panel" {
		t.Errorf("expected panel artifact, got %v", res.Artifacts)
	}
	calls := page.Calls()
	if !strings.HasPrefix(calls[0], "navigate https://www.google.com/search?") || !strings.Contains(calls[0], "q=Joe%27s+Pizza+Austin") {
		t.Errorf("expected google search navigation, got %q", calls[0])
	}
	if calls[len(calls)-1] != "screenshot #rhs" {
		t.Errorf("expected screenshot of the first present panel selector, got %v", calls)
	}
}

func TestRun_PriorRefPreferred(t *testing.T) {
	page := browsertest.NewPage()
	d := searchJob()
	d.PriorRef = "https://maps.google.com/?cid=123"

	def := Definition{Name: "x", Steps: []Step{{Kind: StepNavigate, Target: TargetPrior}}}
	if _, err := Run(context.Background(), page, def, Env{Descriptor: d}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := page.Calls(); calls[0] != "navigate https://maps.google.com/?cid=123" {
		t.Errorf("expected prior ref navigation, got %v", calls)
	}
}

func TestRun_BlockedPageIsRecoverable(t *testing.T) {
	page := browsertest.NewPage()
	page.Content = "<p>Our systems have detected unusual traffic from your computer network.</p>"

	def := Definition{Name: "x", Steps: []Step{{Kind: StepNavigate, Target: TargetSearch}}}
	_, err := Run(context.Background(), page, def, Env{Descriptor: searchJob()})
	if !errors.Is(err, bypass.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
	if errors.Is(err, ErrSignalAbsent) {
		t.Errorf("block page must not count as absent signal")
	}
}

func TestRun_OptionalStepSkipped(t *testing.T) {
	page := browsertest.NewPage("#panel")
	def := Definition{Name: "x", Steps: []Step{
		{Kind: StepNavigate},
		{Kind: StepClick, Selectors: []string{"#consent"}, Timeout: 20 * time.Millisecond, Optional: true},
		{Kind: StepWait, Selectors: []string{"#panel"}},
	}}
	if _, err := Run(context.Background(), page, def, Env{Descriptor: urlJob(), StepTimeout: time.Second}); err != nil {
		t.Fatalf("optional failure should be skipped, got %v", err)
	}
}

func TestRun_RequiredWaitTimesOut(t *testing.T) {
	page := browsertest.NewPage()
	def := Definition{Name: "x", Steps: []Step{
		{Kind: StepNavigate},
		{Kind: StepWait, Selectors: []string{"#a", "#b"}},
	}}
	_, err := Run(context.Background(), page, def, Env{Descriptor: urlJob(), StepTimeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout")
	}
	if errors.Is(err, ErrSignalAbsent) {
		t.Errorf("a missing selector is recoverable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestRun_BackFallsBackToPreviousURL(t *testing.T) {
	page := browsertest.NewPage("#open", "#panel")
	page.BackErr = errors.New("no history entry")

	def := Definition{Name: "x", Steps: []Step{
		{Kind: StepNavigate},
		{Kind: StepClick, Selectors: []string{"#open"}},
		{Kind: StepBack, Selectors: []string{"#panel"}},
	}}
	if _, err := Run(context.Background(), page, def, Env{Descriptor: urlJob(), StepTimeout: time.Second}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{
		"navigate https://joespizza.example",
		"click #open",
		"back",
		"navigate https://joespizza.example",
	}
	got := page.Calls()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestRun_SocialLinks(t *testing.T) {
	page := browsertest.NewPage("#rhs")
	page.Content = `<div id="rhs">
		<a href="https://www.facebook.com/joespizza">Facebook</a>
		<a href="/url?q=https://www.instagram.com/joespizza/&sa=U">Instagram</a>
		<a href="https://joespizza.example">Website</a>
	</div>`
	capture, _ := collect(t)

	def := Definition{Name: "social", Steps: []Step{
		{Kind: StepNavigate, Target: TargetSearch},
		{Kind: StepLinks, Label: "social", Selectors: []string{"#missing", "#rhs"}},
		{Kind: StepCapture, Label: "social", Selectors: []string{"#rhs"}},
	}}
	res, err := Run(context.Background(), page, def, Env{Descriptor: searchJob(), Capture: capture, StepTimeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Metadata["social_facebook"] != "https://www.facebook.com/joespizza" {
		t.Errorf("expected facebook link, got %v", res.Metadata)
	}
	if res.Metadata["social_instagram"] != "https://www.instagram.com/joespizza/" {
		t.Errorf("expected unwrapped instagram link, got %v", res.Metadata)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	page := browsertest.NewPage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	def := Definition{Name: "x", Steps: []Step{
		{Kind: StepNavigate},
		{Kind: StepSleep, Duration: time.Second},
	}}
	_, err := Run(ctx, page, def, Env{Descriptor: urlJob()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRun_DetectByPhrase(t *testing.T) {
	page := browsertest.NewPage("body")
	page.Content = `<html><body><div id="rhs"><span>4.4</span> · <a>318 Google reviews</a>
	<h3>Questions &amp; answers</h3></div></body></html>`

	def := Definition{Name: "x", Steps: []Step{
		{Kind: StepNavigate},
		{Kind: StepDetect, Label: "review_count", Selectors: []string{"g-review-stars"}, Phrases: []string{"Google reviews"}, Timeout: time.Second},
	}}
	res, err := Run(context.Background(), page, def, Env{Descriptor: urlJob()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Metadata["review_count"] != "Google reviews" {
		t.Errorf("expected phrase in metadata, got %v", res.Metadata)
	}
	if res.Metadata["review_count_context"] != "318 Google reviews" {
		t.Errorf("expected review count sentence, got %q", res.Metadata["review_count_context"])
	}
}

// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/FranksOps/gbpsnap/internal/browser"
)

// Page is a scripted fake tab. Selectors listed in Visible are present and
// visible; anything else is absent and waits until the step deadline.
type Page struct {
	mu sync.Mutex

	Visible    map[string]bool
	Content    string
	URL        string
	Image      []byte

	// NavigateFunc, when set, decides the result of each navigation.
	NavigateFunc func(url string) error
	// BackErr is returned by Back.
	BackErr error

	calls  []string
	closed bool
}

var _ browser.Page = (*Page)(nil)

// NewPage returns a fake page with the given selectors visible.
func NewPage(visible ...string) *Page {
	p := &Page{Visible: map[string]bool{}, Image: []byte("\x89PNG fake")}
	for _, v := range visible {
		p.Visible[v] = true
	}
	return p
}

func (p *Page) record(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded method calls in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) visible(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Visible[selector]
}

func waitOut(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		return context.DeadlineExceeded
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.record("navigate %s", url)
	if p.NavigateFunc != nil {
		if err := p.NavigateFunc(url); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.URL = url
	p.mu.Unlock()
	return ctx.Err()
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	p.record("wait %s", selector)
	if p.visible(selector) {
		return nil
	}
	return waitOut(ctx)
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.visible(selector), nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.record("click %s", selector)
	if p.visible(selector) {
		return nil
	}
	return waitOut(ctx)
}

func (p *Page) Scroll(ctx context.Context, selector string, pixels int) error {
	p.record("scroll %s %d", selector, pixels)
	if selector != "" && !p.visible(selector) {
		return fmt.Errorf("scroll %q: %w", selector, browser.ErrNotFound)
	}
	return nil
}

func (p *Page) Back(ctx context.Context) error {
	p.record("back")
	return p.BackErr
}

func (p *Page) Reload(ctx context.Context) error {
	p.record("reload")
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Content, nil
}

func (p *Page) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.URL, nil
}

func (p *Page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	p.record("screenshot %s", selector)
	if selector != "" && !p.visible(selector) {
		return nil, waitOut(ctx)
	}
	return p.Image, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("page closed twice")
	}
	p.closed = true
	return nil
}

// Opener hands out fake pages built by Factory and tracks how many are open.
type Opener struct {
	Factory func() *Page
	// OpenErr fails NewPage when set.
	OpenErr error

	mu     sync.Mutex
	pages  []*Page
	open   int
	peak   int
	opened int
}

var _ browser.Opener = (*Opener)(nil)

func (o *Opener) NewPage(ctx context.Context) (browser.Page, error) {
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	p := NewPage()
	if o.Factory != nil {
		p = o.Factory()
	}
	o.mu.Lock()
	o.pages = append(o.pages, p)
	o.open++
	o.opened++
	if o.open > o.peak {
		o.peak = o.open
	}
	o.mu.Unlock()
	return &tracked{Page: p, o: o}, nil
}

// Pages returns every page handed out so far.
func (o *Opener) Pages() []*Page {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Page, len(o.pages))
	copy(out, o.pages)
	return out
}

// Stats returns currently open, peak concurrently open, and total opened.
func (o *Opener) Stats() (open, peak, opened int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open, o.peak, o.opened
}

type tracked struct {
	*Page
	o *Opener
}

func (t *tracked) Close() error {
	err := t.Page.Close()
	if err == nil {
		t.o.mu.Lock()
		t.o.open--
		t.o.mu.Unlock()
	}
	return err
}

package browser

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Lazy launches the shared browser on the first NewPage, so a run that
// never opens a page never starts Chrome. A failed launch is remembered and
// returned to every later caller.
type Lazy struct {
	ctx    context.Context
	cfg    Config
	logger *slog.Logger

	once   sync.Once
	mu     sync.Mutex
	chrome *Chrome
	err    error
	closed bool
}

var _ Opener = (*Lazy)(nil)

// NewLazy records what Launch will be called with. ctx only carries values;
// its cancellation does not reach the browser.
func NewLazy(ctx context.Context, cfg Config, logger *slog.Logger) *Lazy {
	return &Lazy{ctx: context.WithoutCancel(ctx), cfg: cfg, logger: logger}
}

// NewPage launches the browser if needed and opens a tab.
func (l *Lazy) NewPage(ctx context.Context) (Page, error) {
	l.once.Do(func() {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			l.err = errors.New("browser is closed")
			return
		}
		chrome, err := Launch(l.ctx, l.cfg, l.logger)
		l.mu.Lock()
		defer l.mu.Unlock()
		if err == nil && l.closed {
			_ = chrome.Close()
			err = errors.New("browser is closed")
		}
		l.chrome, l.err = chrome, err
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.chrome.NewPage(ctx)
}

// Launched reports whether a browser process has been started.
func (l *Lazy) Launched() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chrome != nil
}

// Close shuts the browser down if it was launched. Safe to call more than
// once.
func (l *Lazy) Close() error {
	l.mu.Lock()
	l.closed = true
	chrome := l.chrome
	l.mu.Unlock()
	if chrome == nil {
		return nil
	}
	return chrome.Close()
}

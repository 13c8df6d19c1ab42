package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
)

const timestampLayout = "20060102-150405.000"

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// Store writes artifact files under a base directory, one subdirectory per
// flow.
type Store struct {
	BaseDir string
	// Now is overridable for deterministic names in tests.
	Now func() time.Time
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{BaseDir: baseDir, Now: time.Now}
}

// Name builds the deterministic artifact file name for a descriptor: its
// descriptive fields, the capture label and a millisecond timestamp.
func (s *Store) Name(d job.Descriptor, label, ext string) string {
	parts := []string{}
	for _, p := range []string{d.Name, d.City} {
		if clean := sanitize(p); clean != "" {
			parts = append(parts, clean)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, sanitize(d.ID))
	}
	if clean := sanitize(label); clean != "" {
		parts = append(parts, clean)
	}
	parts = append(parts, s.now().Format(timestampLayout))

	if ext == "" {
		ext = "png"
	}
	return strings.Join(parts, "_") + "." + strings.TrimPrefix(ext, ".")
}

// Save writes data for d under <base>/<flow>/ and returns the path.
func (s *Store) Save(d job.Descriptor, flow, label string, data []byte) (string, error) {
	dir := filepath.Join(s.BaseDir, sanitize(flow))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory %s: %w", dir, err)
	}

	base := filepath.Join(dir, s.Name(d, label, "png"))
	path := base
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	// Same names, same label, same millisecond: disambiguate.
	for i := 2; os.IsExist(err) && i < 100; i++ {
		path = fmt.Sprintf("%s-%d.png", strings.TrimSuffix(base, ".png"), i)
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create artifact %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return path, nil
}

// Discard removes artifacts written by an attempt that did not succeed.
func (s *Store) Discard(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func sanitize(v string) string {
	v = unsafeChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(v)), "-")
	v = strings.Trim(v, "-")
	if len(v) > 60 {
		v = strings.TrimRight(v[:60], "-")
	}
	return v
}

package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/gbpsnap/internal/job"
)

func fixedStore(dir string) *Store {
	s := NewStore(dir)
	s.Now = func() time.Time { return time.Date(2024, 5, 1, 13, 4, 5, 123e6, time.UTC) }
	return s
}

func TestStore_Name(t *testing.T) {
	s := fixedStore(t.TempDir())

	d := job.NewDescriptor(1, nil, nil)
	d.ID = "row-1"
	d.Name = "Müller & Söhne GmbH"
	d.City = "Bad Tölz"

	got := s.Name(d, "Reviews Tab", "png")
	want := "m-ller-s-hne-gmbh_bad-t-lz_reviews-tab_20240501-130405.123.png"
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}

	anon := job.NewDescriptor(2, nil, nil)
	anon.ID = "row-2"
	if got := s.Name(anon, "", ""); got != "row-2_20240501-130405.123.png" {
		t.Errorf("expected id fallback, got %s", got)
	}
}

func TestStore_SaveAndDiscard(t *testing.T) {
	dir := t.TempDir()
	s := fixedStore(dir)

	d := job.NewDescriptor(1, nil, nil)
	d.ID = "row-1"
	d.Name = "Acme"

	p1, err := s.Save(d, "photos", "photo", []byte("png-1"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if !strings.HasPrefix(p1, filepath.Join(dir, "photos")) {
		t.Errorf("expected artifact under flow dir, got %s", p1)
	}

	// Same name again must not overwrite the first file.
	p2, err := s.Save(d, "photos", "photo", []byte("png-2"))
	if err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("expected distinct paths for colliding names")
	}
	data, _ := os.ReadFile(p1)
	if string(data) != "png-1" {
		t.Errorf("first artifact was overwritten")
	}

	s.Discard([]string{p1, p2})
	for _, p := range []string{p1, p2} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed", p)
		}
	}
}

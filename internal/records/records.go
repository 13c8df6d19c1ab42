package records

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/FranksOps/gbpsnap/internal/job"
)

// ErrEmptyInput is returned when a source yields no rows.
var ErrEmptyInput = errors.New("input has no records")

// Column aliases, matched case-insensitively against the header.
var (
	idColumns      = []string{"id", "record_id"}
	locatorColumns = []string{"url", "website", "link", "target"}
	queryColumns   = []string{"query", "search"}
	nameColumns    = []string{"name", "business_name", "business"}
	cityColumns    = []string{"city", "location"}
	priorColumns   = []string{"gbp_url", "maps_url", "prior"}
	flowColumns    = []string{"flow"}
)

// Options tune how rows become descriptors.
type Options struct {
	// DefaultFlow applies to rows without a flow column value.
	DefaultFlow string
}

// LoadFile reads a CSV file with a header row.
func LoadFile(path string, opts Options) ([]job.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	descs, err := Load(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return descs, nil
}

// Load reads CSV records from r. The first row is the header. Rows that are
// entirely blank are skipped.
func Load(r io.Reader, opts Options) ([]job.Descriptor, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	idx := indexColumns(header)

	var descs []job.Descriptor
	seen := make(map[string]bool)
	row := 0
	for {
		values, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row+1, err)
		}
		if blank(values) {
			continue
		}
		row++
		d := build(row, header, values, idx, opts)
		// Every job needs its own outcome slot; repeated ids get the row appended.
		if seen[d.ID] {
			base := d.ID
			d.ID = fmt.Sprintf("%s#%d", base, row)
			for n := 2; seen[d.ID]; n++ {
				d.ID = fmt.Sprintf("%s#%d.%d", base, row, n)
			}
		}
		seen[d.ID] = true
		descs = append(descs, d)
	}

	if len(descs) == 0 {
		return nil, ErrEmptyInput
	}
	return descs, nil
}

type columnIndex struct {
	id, locator, query, name, city, prior, flow int
}

func indexColumns(header []string) columnIndex {
	find := func(aliases []string) int {
		for _, alias := range aliases {
			for i, h := range header {
				if strings.EqualFold(strings.TrimSpace(h), alias) {
					return i
				}
			}
		}
		return -1
	}
	return columnIndex{
		id:      find(idColumns),
		locator: find(locatorColumns),
		query:   find(queryColumns),
		name:    find(nameColumns),
		city:    find(cityColumns),
		prior:   find(priorColumns),
		flow:    find(flowColumns),
	}
}

func build(row int, header, values []string, idx columnIndex, opts Options) job.Descriptor {
	get := func(i int) string {
		if i < 0 || i >= len(values) {
			return ""
		}
		return strings.TrimSpace(values[i])
	}

	d := job.NewDescriptor(row, header, values)
	d.ID = get(idx.id)
	if d.ID == "" {
		d.ID = fmt.Sprintf("row-%d", row)
	}
	d.Name = get(idx.name)
	d.City = get(idx.city)
	d.PriorRef = get(idx.prior)
	d.Flow = get(idx.flow)
	if d.Flow == "" {
		d.Flow = opts.DefaultFlow
	}

	switch {
	case get(idx.locator) != "":
		d.Locator = normalizeURL(get(idx.locator))
		d.Kind = job.KindURL
	case get(idx.query) != "":
		d.Locator = get(idx.query)
		d.Kind = job.KindSearch
	case d.Name != "":
		d.Kind = job.KindSearch
	}
	return d
}

// FromURLs turns a plain list of locators (e.g. from a sitemap) into
// descriptors with a single "url" column.
func FromURLs(urls []string, opts Options) ([]job.Descriptor, error) {
	header := []string{"url"}
	idx := indexColumns(header)
	var descs []job.Descriptor
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			continue
		}
		descs = append(descs, build(len(descs)+1, header, []string{u}, idx, opts))
	}
	if len(descs) == 0 {
		return nil, ErrEmptyInput
	}
	return descs, nil
}

// Validate reports why a descriptor cannot be executed, or nil.
func Validate(d job.Descriptor) error {
	if d.Kind == "" {
		return fmt.Errorf("row %d: no url, query or business name", d.Row)
	}
	if d.Flow == "" {
		return fmt.Errorf("row %d: no flow configured", d.Row)
	}
	return nil
}

func normalizeURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

func blank(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

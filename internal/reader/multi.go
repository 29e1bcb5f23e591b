package reader

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	apperrors "hdxscraper/internal/errors"
)

// Resource is one downloadable file of a dataset.
type Resource struct {
	Name   string `yaml:"name" json:"name"`
	URL    string `yaml:"url" json:"url"`
	Format string `yaml:"format" json:"format"`
}

// Locator turns a dataset reference into a concrete resource.
type Locator interface {
	Locate(ctx context.Context, dataset, resource, format string) (Resource, error)
}

// StaticLocator looks resources up in a fixed dataset → resources table.
type StaticLocator map[string][]Resource

// Locate picks the named resource, or the first one of the requested format.
func (l StaticLocator) Locate(_ context.Context, dataset, resource, format string) (Resource, error) {
	resources, ok := l[dataset]
	if !ok {
		return Resource{}, apperrors.NewSourceUnavailableError(fmt.Sprintf("dataset %s not found", dataset), nil)
	}
	for _, r := range resources {
		if resource != "" && r.Name == resource {
			return r, nil
		}
	}
	if resource == "" {
		for _, r := range resources {
			if format == "" || strings.EqualFold(r.Format, format) {
				return r, nil
			}
		}
	}
	return Resource{}, apperrors.NewSourceUnavailableError(
		fmt.Sprintf("no resource %q (format %q) in dataset %s", resource, format, dataset), nil)
}

// Multi dispatches to a Reader by format, resolving dataset references
// first when a Locator is set.
type Multi struct {
	readers map[string]Reader
	locator Locator
}

// NewMulti creates a dispatcher. Formats are matched case-insensitively.
func NewMulti(locator Locator) *Multi {
	return &Multi{readers: make(map[string]Reader), locator: locator}
}

// Register binds a reader to one or more formats.
func (m *Multi) Register(r Reader, formats ...string) {
	for _, f := range formats {
		m.readers[strings.ToLower(f)] = r
	}
}

// Read implements Reader
func (m *Multi) Read(ctx context.Context, src Source) (Headers, Sequence, error) {
	if src.URL == "" && src.Dataset != "" {
		if m.locator == nil {
			return Headers{}, nil, apperrors.NewConfigError(fmt.Sprintf("dataset %s given but no dataset locator configured", src.Dataset), nil)
		}
		res, err := m.locator.Locate(ctx, src.Dataset, src.Resource, src.Format)
		if err != nil {
			return Headers{}, nil, err
		}
		src.URL = res.URL
		if src.Format == "" {
			src.Format = res.Format
		}
	}
	if src.URL == "" {
		return Headers{}, nil, apperrors.NewConfigError(fmt.Sprintf("no url for %s", src.Name), nil)
	}
	format := strings.ToLower(src.Format)
	if format == "" {
		format = inferFormat(src.URL)
	}
	r, ok := m.readers[format]
	if !ok {
		return Headers{}, nil, apperrors.NewConfigError(fmt.Sprintf("unsupported format %q for %s", format, src.Name), nil)
	}
	return r.Read(ctx, src)
}

func inferFormat(url string) string {
	if _, ok := SpreadsheetID(url); ok {
		return "gsheet"
	}
	clean, _, _ := strings.Cut(url, "?")
	return strings.TrimPrefix(strings.ToLower(path.Ext(clean)), ".")
}

// MemoryReader serves tables held in memory, keyed by URL. It applies the
// same header handling as file readers.
type MemoryReader struct {
	Tables map[string][][]string
}

// Read implements Reader
func (m *MemoryReader) Read(_ context.Context, src Source) (Headers, Sequence, error) {
	records, ok := m.Tables[src.URL]
	if !ok {
		return Headers{}, nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("no table %s", src.URL), nil)
	}
	return bindGrid(src, &sliceRecords{records: records}, nil)
}

// StringOpener serves fixed contents by URL.
type StringOpener map[string]string

// Open implements Opener
func (s StringOpener) Open(_ context.Context, url string) (io.ReadCloser, error) {
	content, ok := s[url]
	if !ok {
		return nil, apperrors.NewSourceUnavailableError(fmt.Sprintf("no content for %s", url), nil)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

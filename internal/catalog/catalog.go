// Package catalog resolves dataset references against a CKAN catalog such
// as HDX. It serves both dataset metadata for source records and the
// download location of dataset resources.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/reader"
	"hdxscraper/internal/sources"
)

const defaultCacheSize = 256

// Dataset is the part of a CKAN package the scrapers use.
type Dataset struct {
	Name          string `json:"name"`
	Title         string `json:"title"`
	DatasetSource string `json:"dataset_source"`
	DatasetDate   string `json:"dataset_date"`
	Organization  struct {
		Title string `json:"title"`
	} `json:"organization"`
	Resources []reader.Resource `json:"resources"`
}

type packageShow struct {
	Success bool    `json:"success"`
	Result  Dataset `json:"result"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// CKAN reads datasets through the package_show action.
type CKAN struct {
	base   string
	opener reader.Opener
	cache  *lru.Cache[string, Dataset]
	logger *slog.Logger
}

// NewCKAN creates a catalog client for the site at baseURL, for example
// https://data.humdata.org. Requests go through opener.
func NewCKAN(baseURL string, opener reader.Opener, logger *slog.Logger) (*CKAN, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, apperrors.NewConfigError("catalog url is empty", nil)
	}
	if opener == nil {
		return nil, apperrors.NewConfigError("catalog needs an opener", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, Dataset](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}
	return &CKAN{
		base:   strings.TrimRight(baseURL, "/"),
		opener: opener,
		cache:  cache,
		logger: logger.With(slog.String("component", "catalog")),
	}, nil
}

// Dataset fetches one dataset, served from cache after the first call.
func (c *CKAN) Dataset(ctx context.Context, name string) (Dataset, error) {
	if ds, ok := c.cache.Get(name); ok {
		return ds, nil
	}
	endpoint := c.base + "/api/3/action/package_show?id=" + url.QueryEscape(name)
	body, err := c.opener.Open(ctx, endpoint)
	if err != nil {
		return Dataset{}, err
	}
	defer body.Close()

	var resp packageShow
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return Dataset{}, apperrors.NewFormatError(fmt.Sprintf("dataset %s", name), err)
	}
	if !resp.Success {
		msg := "not found"
		if resp.Error != nil && resp.Error.Message != "" {
			msg = resp.Error.Message
		}
		return Dataset{}, apperrors.NewSourceUnavailableError(fmt.Sprintf("dataset %s: %s", name, msg), nil)
	}
	c.cache.Add(name, resp.Result)
	c.logger.DebugContext(ctx, "dataset_loaded",
		slog.String("dataset", name),
		slog.Int("resources", len(resp.Result.Resources)))
	return resp.Result, nil
}

// Metadata implements sources.Catalog. The source is the dataset source,
// or the organization when none is given.
func (c *CKAN) Metadata(ctx context.Context, dataset string) (sources.DatasetMetadata, error) {
	ds, err := c.Dataset(ctx, dataset)
	if err != nil {
		return sources.DatasetMetadata{}, err
	}
	meta := sources.DatasetMetadata{
		Source: ds.DatasetSource,
		URL:    c.base + "/dataset/" + ds.Name,
	}
	if meta.Source == "" {
		meta.Source = ds.Organization.Title
	}
	if span, ok := parseDatasetDate(ds.DatasetDate); ok {
		meta.Span = span
	} else if ds.DatasetDate != "" {
		c.logger.WarnContext(ctx, "dataset_date_invalid",
			slog.String("dataset", dataset),
			slog.String("date", ds.DatasetDate))
	}
	return meta, nil
}

// Locate implements reader.Locator
func (c *CKAN) Locate(ctx context.Context, dataset, resource, format string) (reader.Resource, error) {
	ds, err := c.Dataset(ctx, dataset)
	if err != nil {
		return reader.Resource{}, err
	}
	return reader.StaticLocator{dataset: ds.Resources}.Locate(ctx, dataset, resource, format)
}

// parseDatasetDate reads "[2020-01-01T00:00:00 TO 2020-12-31T23:59:59]" or
// a single date.
func parseDatasetDate(s string) (sources.Span, bool) {
	s = strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "[]"))
	if s == "" {
		return sources.Span{}, false
	}
	start, end, isRange := strings.Cut(s, " TO ")
	if !isRange {
		t, err := sources.ParseDate(s)
		if err != nil {
			return sources.Span{}, false
		}
		return sources.SpanOf(t), true
	}
	from, err := sources.ParseDate(start)
	if err != nil {
		return sources.Span{}, false
	}
	to, err := sources.ParseDate(end)
	if err != nil {
		return sources.Span{}, false
	}
	if sameDay(from, to) {
		return sources.SpanOf(to), true
	}
	return sources.Span{Start: from, End: to}, true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

var (
	_ sources.Catalog = (*CKAN)(nil)
	_ reader.Locator  = (*CKAN)(nil)
)

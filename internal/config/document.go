package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"hdxscraper/internal/admin"
	apperrors "hdxscraper/internal/errors"
)

// Aggregation actions.
const (
	ActionSum   = "sum"
	ActionMean  = "mean"
	ActionRange = "range"
	ActionEval  = "eval"
)

// Aggregation mappings resolved at run time.
const (
	MappingRegions = "regions"
	MappingGlobal  = "global"
)

// AggregationColumn configures one aggregated output column. Column is the
// input header, or HXL tag when the aggregation uses HXL.
type AggregationColumn struct {
	Column        string     `yaml:"column" validate:"required"`
	Action        string     `yaml:"action" validate:"required,aggaction"`
	Input         StringList `yaml:"input"`
	Output        string     `yaml:"output"`
	Rename        string     `yaml:"rename"`
	Formula       string     `yaml:"formula" validate:"required_if=Action eval"`
	PopulationKey string     `yaml:"population_key"`
}

// Inputs returns the columns read for this output, Column when none are
// listed.
func (c AggregationColumn) Inputs() []string {
	if len(c.Input) > 0 {
		return c.Input
	}
	return []string{c.Column}
}

// OutputName returns the output header or tag.
func (c AggregationColumn) OutputName() string {
	switch {
	case c.Output != "":
		return c.Output
	case c.Rename != "":
		return c.Rename
	}
	return c.Column
}

// AggregationSpec rolls the results of one level up into another.
type AggregationSpec struct {
	Name        string              `yaml:"name" validate:"required"`
	InputLevel  string              `yaml:"input_level" validate:"required"`
	OutputLevel string              `yaml:"output_level" validate:"required"`
	UseHXL      bool                `yaml:"use_hxl"`
	Mapping     string              `yaml:"mapping" validate:"omitempty,oneof=regions global"`
	AdminTable  map[string][]string `yaml:"admin_mapping"`
	Admins      []string            `yaml:"admins"`
	Columns     []AggregationColumn `yaml:"columns" validate:"required,min=1,dive"`
}

// AdditionalSource adds or adjusts a source record after the scrapers have
// run. Copy names an existing tag whose record fills unset fields.
type AdditionalSource struct {
	Indicator             string     `yaml:"indicator" validate:"required"`
	Source                string     `yaml:"source"`
	SourceURL             string     `yaml:"source_url"`
	SourceDate            SourceDate `yaml:"source_date"`
	Dataset               string     `yaml:"dataset"`
	ForceDateToday        bool       `yaml:"force_date_today"`
	Copy                  string     `yaml:"copy"`
	ShouldOverwriteSource *bool      `yaml:"should_overwrite_source"`
}

// NamedRegion is a region made of an explicit country list.
type NamedRegion struct {
	Name      string     `yaml:"name" validate:"required"`
	Countries StringList `yaml:"countries" validate:"required,min=1"`
}

// RegionSpec locates the country to region table.
type RegionSpec struct {
	URL               string        `yaml:"url"`
	Dataset           string        `yaml:"dataset"`
	Format            string        `yaml:"format"`
	Sheet             string        `yaml:"sheet"`
	ISO3Header        string        `yaml:"iso3_header" validate:"required"`
	RegionHeader      string        `yaml:"region_header" validate:"required"`
	ToplevelRegion    string        `yaml:"toplevel_region"`
	Ignore            StringList    `yaml:"ignore"`
	AdditionalRegions []NamedRegion `yaml:"additional_regions" validate:"dive"`
}

// Document is a parsed scraper document. Scrapers keep declaration order.
type Document struct {
	Scrapers          []*ScraperSpec
	TimeSeries        []*TimeSeriesSpec
	Aggregations      []AggregationSpec
	AdditionalSources []AdditionalSource
	Regions           *RegionSpec
}

// Scraper returns the named scraper spec.
func (d *Document) Scraper(name string) (*ScraperSpec, bool) {
	for _, s := range d.Scrapers {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

type documentYAML struct {
	Scrapers          yaml.MapSlice      `yaml:"scrapers"`
	TimeSeries        yaml.MapSlice      `yaml:"timeseries"`
	Aggregations      []AggregationSpec  `yaml:"aggregations"`
	AdditionalSources []AdditionalSource `yaml:"additional_sources"`
	Regions           *RegionSpec        `yaml:"regions"`
}

// LoadScrapers reads and validates a scraper document.
func LoadScrapers(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to read scraper document", err).
			WithContext("path", path)
	}
	return ParseScrapers(data)
}

// ParseScrapers decodes and validates a scraper document.
func ParseScrapers(data []byte) (*Document, error) {
	var raw documentYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.NewConfigError("failed to parse scraper document", err)
	}

	doc := &Document{
		Aggregations:      raw.Aggregations,
		AdditionalSources: raw.AdditionalSources,
		Regions:           raw.Regions,
	}
	seen := make(map[string]struct{}, len(raw.Scrapers))
	for _, item := range raw.Scrapers {
		name := fmt.Sprint(item.Key)
		if _, dup := seen[name]; dup {
			return nil, apperrors.NewConfigError(fmt.Sprintf("duplicate scraper %q", name), nil)
		}
		seen[name] = struct{}{}

		spec, err := decodeScraper(name, item.Value)
		if err != nil {
			return nil, err
		}
		doc.Scrapers = append(doc.Scrapers, spec)
	}

	seen = make(map[string]struct{}, len(raw.TimeSeries))
	for _, item := range raw.TimeSeries {
		name := fmt.Sprint(item.Key)
		if _, dup := seen[name]; dup {
			return nil, apperrors.NewConfigError(fmt.Sprintf("duplicate time series %q", name), nil)
		}
		seen[name] = struct{}{}

		spec := &TimeSeriesSpec{}
		if err := decodeStrict(name, item.Value, spec); err != nil {
			return nil, err
		}
		spec.Name = name
		doc.TimeSeries = append(doc.TimeSeries, spec)
	}

	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeScraper(name string, value interface{}) (*ScraperSpec, error) {
	spec := &ScraperSpec{}
	if err := decodeStrict(name, value, spec); err != nil {
		return nil, err
	}
	spec.Name = name
	return spec, nil
}

// decodeStrict re-encodes one named document entry and decodes it into out,
// rejecting unknown keys.
func decodeStrict(name string, value, out interface{}) error {
	encoded, err := yaml.Marshal(value)
	if err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("scraper %s", name), err)
	}
	if err := yaml.UnmarshalStrict(encoded, out); err != nil {
		return apperrors.NewConfigError(fmt.Sprintf("scraper %s", name), err)
	}
	return nil
}

// LoadAdminUnits reads the admin reference table.
func LoadAdminUnits(path string) ([]admin.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to read admin units", err).
			WithContext("path", path)
	}
	var doc struct {
		Units []admin.Unit `yaml:"units"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewConfigError("failed to parse admin units", err)
	}
	return doc.Units, nil
}

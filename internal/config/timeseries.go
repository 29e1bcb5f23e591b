package config

// TimeSeriesPrefix is prepended to time series names to form unit names.
const TimeSeriesPrefix = "timeseries_"

// TimeSeriesSpec configures a time series: one output row per source row,
// holding the row's date followed by the input columns.
type TimeSeriesSpec struct {
	Name string `yaml:"-"`

	Dataset  string     `yaml:"dataset"`
	Resource string     `yaml:"resource"`
	URL      string     `yaml:"url"`
	Format   string     `yaml:"format"`
	Sheet    string     `yaml:"sheet"`
	Headers  HeaderRows `yaml:"headers"`

	Input            StringList `yaml:"input" validate:"required,min=1"`
	Date             StringList `yaml:"date" validate:"required,min=1"`
	DateType         string     `yaml:"date_type" validate:"required,oneof=date year"`
	DateHXL          string     `yaml:"date_hxl"`
	IgnoreFutureDate *bool      `yaml:"ignore_future_date"`
	Output           StringList `yaml:"output"`
	OutputHXL        StringList `yaml:"output_hxl"`

	Source           TagValues         `yaml:"source"`
	SourceURL        TagValues         `yaml:"source_url"`
	SourceDate       SourceDate        `yaml:"source_date"`
	SourceDateFormat *SourceDateFormat `yaml:"source_date_format"`
	NoSources        bool              `yaml:"no_sources"`
}

// UnitName is the name the time series runs and reports under.
func (s *TimeSeriesSpec) UnitName() string { return TimeSeriesPrefix + s.Name }

// IgnoresFutureDates defaults to true.
func (s *TimeSeriesSpec) IgnoresFutureDates() bool {
	return s.IgnoreFutureDate == nil || *s.IgnoreFutureDate
}

// SourceSpec returns the provenance fields as a scraper spec so time series
// records are built the same way as scraper records.
func (s *TimeSeriesSpec) SourceSpec() *ScraperSpec {
	return &ScraperSpec{
		Name:             s.UnitName(),
		Dataset:          s.Dataset,
		URL:              s.URL,
		Source:           s.Source,
		SourceURL:        s.SourceURL,
		SourceDate:       s.SourceDate,
		SourceDateFormat: s.SourceDateFormat,
		NoSources:        s.NoSources,
	}
}

package config

import "strings"

// Level names accepted in scraper documents.
const (
	LevelNational    = "national"
	LevelSubnational = "subnational"
	LevelSingle      = "single"
)

// PopulationTag is the output tag that feeds the population registry.
const PopulationTag = "#population"

// FlattenSpec turns repeated column groups into extra rows. Original holds
// a column name with an incrementing number, for example "Value 1".
type FlattenSpec struct {
	Original string `yaml:"original" validate:"required"`
	New      string `yaml:"new" validate:"required"`
	ExtraCol string `yaml:"extracol"`
}

// SortSpec orders rows before selection.
type SortSpec struct {
	Keys    StringList `yaml:"keys" validate:"required,min=1"`
	Reverse bool       `yaml:"reverse"`
}

// SumCol is a formula evaluated over per admin sums of the inputs.
type SumCol struct {
	Formula         string `yaml:"formula" validate:"required"`
	MustBePopulated bool   `yaml:"mustbepopulated"`
}

// Subset is one named partition of the source rows with its own inputs and
// outputs.
type Subset struct {
	Name            string            `yaml:"name"`
	Filter          string            `yaml:"filter"`
	Input           StringList        `yaml:"input"`
	Transform       map[string]string `yaml:"transform"`
	Process         []string          `yaml:"process"`
	Sum             []SumCol          `yaml:"sum" validate:"dive"`
	InputAppend     StringList        `yaml:"input_append"`
	InputKeep       StringList        `yaml:"input_keep"`
	List            StringList        `yaml:"list"`
	InputIgnoreVals StringList        `yaml:"input_ignore_vals"`
	Output          StringList        `yaml:"output"`
	OutputHXL       StringList        `yaml:"output_hxl"`
	PopulationKey   string            `yaml:"population_key"`
}

// OutputCount returns how many output columns the subset produces.
func (s Subset) OutputCount() int {
	switch {
	case len(s.Process) > 0:
		return len(s.Process)
	case len(s.Sum) > 0:
		return len(s.Sum)
	}
	return len(s.Input)
}

// Accumulates reports whether input values are collected into lists.
func (s Subset) Accumulates() bool { return len(s.Process) > 0 || len(s.Sum) > 0 }

// ScraperSpec is the configuration of one configurable scraper. It is
// decoded once and never mutated afterwards.
type ScraperSpec struct {
	Name      string `yaml:"-"`
	Level     string `yaml:"level" validate:"omitempty,level"`
	LevelName string `yaml:"level_name"`

	Dataset     string     `yaml:"dataset"`
	Resource    string     `yaml:"resource"`
	URL         string     `yaml:"url"`
	Format      string     `yaml:"format"`
	Sheet       string     `yaml:"sheet"`
	Headers     HeaderRows `yaml:"headers"`
	UseHXL      bool       `yaml:"use_hxl"`
	ExcludeTags StringList `yaml:"exclude_tags"`

	Admin       AdminColumns `yaml:"admin"`
	AdminExact  bool         `yaml:"admin_exact"`
	AdminFilter StringList   `yaml:"admin_filter"`
	AdminSingle string       `yaml:"admin_single"`

	Date             StringList `yaml:"date"`
	DateType         string     `yaml:"date_type" validate:"omitempty,datetype"`
	DateLevel        string     `yaml:"date_level" validate:"omitempty,level"`
	SingleMaxdate    bool       `yaml:"single_maxdate"`
	IgnoreFutureDate *bool      `yaml:"ignore_future_date"`

	Prefilter       string              `yaml:"prefilter"`
	FilterCols      StringList          `yaml:"filter_cols"`
	ExternalFilter  map[string][]string `yaml:"external_filter"`
	StopRow         map[string]string   `yaml:"stop_row"`
	Flatten         []FlattenSpec       `yaml:"flatten" validate:"dive"`
	Sort            *SortSpec           `yaml:"sort"`
	AppendSeparator string              `yaml:"append_separator"`

	Subset  `yaml:",inline"`
	Subsets []Subset `yaml:"subsets" validate:"dive"`

	Source                 TagValues         `yaml:"source"`
	SourceURL              TagValues         `yaml:"source_url"`
	SourceDate             SourceDate        `yaml:"source_date"`
	SourceDateFormat       *SourceDateFormat `yaml:"source_date_format"`
	ForceDateToday         bool              `yaml:"force_date_today"`
	UseDateFromDateCol     bool              `yaml:"use_date_from_date_col"`
	ShouldOverwriteSources *bool             `yaml:"should_overwrite_sources"`
	NoSources              bool              `yaml:"no_sources"`
	SourceSuffix           string            `yaml:"source_suffix"`
	AdminSources           bool              `yaml:"admin_sources"`
	AdminSourceMapping     map[string]string `yaml:"admin_source_mapping"`

	CanFallback *bool `yaml:"can_fallback"`
}

// LevelOrDefault returns the declared level, national when unset.
func (s *ScraperSpec) LevelOrDefault() string {
	if s.Level == "" {
		return LevelNational
	}
	return s.Level
}

// OutputLevel is the result level the scraper's columns are reported under.
func (s *ScraperSpec) OutputLevel() string {
	if s.LevelName != "" {
		return s.LevelName
	}
	return s.LevelOrDefault()
}

// DateLevelOrDefault returns the level latest dates are tracked at. A fixed
// admin_single key always tracks one global date.
func (s *ScraperSpec) DateLevelOrDefault() string {
	if s.AdminSingle != "" {
		return LevelSingle
	}
	if s.DateLevel == "" {
		return s.LevelOrDefault()
	}
	return s.DateLevel
}

// IgnoresFutureDates defaults to true.
func (s *ScraperSpec) IgnoresFutureDates() bool {
	return s.IgnoreFutureDate == nil || *s.IgnoreFutureDate
}

// AllowsFallback defaults to true.
func (s *ScraperSpec) AllowsFallback() bool {
	return s.CanFallback == nil || *s.CanFallback
}

// AllSubsets returns the declared subsets, or the inline one.
func (s *ScraperSpec) AllSubsets() []Subset {
	if len(s.Subsets) > 0 {
		return s.Subsets
	}
	return []Subset{s.Subset}
}

// OutputTags lists the HXL tags of every subset in order.
func (s *ScraperSpec) OutputTags() []string {
	var tags []string
	for _, sub := range s.AllSubsets() {
		tags = append(tags, sub.OutputHXL...)
	}
	return tags
}

// ProducesPopulation reports whether any output feeds the population
// registry. A use_hxl subset without output tags outputs its input tags,
// and when those are inferred it may output #population unless excluded.
func (s *ScraperSpec) ProducesPopulation() bool {
	if StringList(s.OutputTags()).Contains(PopulationTag) {
		return true
	}
	if !s.UseHXL {
		return false
	}
	for _, sub := range s.AllSubsets() {
		if len(sub.OutputHXL) > 0 {
			continue
		}
		if len(sub.Input) > 0 {
			if sub.Input.Contains(PopulationTag) {
				return true
			}
			continue
		}
		if !s.ExcludeTags.Contains(PopulationTag) {
			return true
		}
	}
	return false
}

// ConsumesPopulation reports whether any formula reads the population
// registry.
func (s *ScraperSpec) ConsumesPopulation() bool {
	for _, sub := range s.AllSubsets() {
		for _, p := range sub.Process {
			if strings.Contains(p, PopulationTag) {
				return true
			}
		}
		for _, c := range sub.Sum {
			if strings.Contains(c.Formula, PopulationTag) {
				return true
			}
		}
	}
	return false
}

// LevelNumber maps a level name to the admin level used by the resolver.
// Single maps to -1.
func LevelNumber(level string) int {
	switch level {
	case LevelSingle:
		return -1
	case LevelSubnational:
		return 1
	}
	return 0
}

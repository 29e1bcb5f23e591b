package scraper

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"hdxscraper/internal/aggregate"
	"hdxscraper/internal/config"
	apperrors "hdxscraper/internal/errors"
	"hdxscraper/internal/expr"
	"hdxscraper/internal/reader"
)

// RegionLookup maps country ISO3 codes to the regions they belong to.
type RegionLookup struct {
	// Regions lists the top level region, the named regions, then the
	// regions read from the table in alphabetical order.
	Regions []string
	// Primary is each country's region from the table.
	Primary map[string]string
	// Memberships lists every region a country counts towards.
	Memberships map[string][]string
}

// LoadRegions reads the region table described by spec.
func LoadRegions(ctx context.Context, r reader.Reader, spec *config.RegionSpec, countries []string) (*RegionLookup, error) {
	_, seq, err := r.Read(ctx, reader.Source{
		Name:    "regions",
		URL:     spec.URL,
		Dataset: spec.Dataset,
		Format:  spec.Format,
		Sheet:   spec.Sheet,
	})
	if err != nil {
		return nil, apperrors.NewSourceUnavailableError("regions", err)
	}
	rows, err := reader.Drain(seq)
	if err != nil {
		return nil, apperrors.NewFormatError("regions", err)
	}
	return NewRegionLookup(spec, rows, countries), nil
}

// NewRegionLookup builds the lookup from table rows. When countries is empty
// every country in the table is used.
func NewRegionLookup(spec *config.RegionSpec, rows []reader.Row, countries []string) *RegionLookup {
	allowed := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		allowed[strings.ToUpper(c)] = struct{}{}
	}
	l := &RegionLookup{
		Primary:     make(map[string]string),
		Memberships: make(map[string][]string),
	}

	seen := make(map[string]struct{})
	var tableRegions []string
	var iso3s []string
	for _, row := range rows {
		iso3 := strings.ToUpper(strings.TrimSpace(expr.Format(row[spec.ISO3Header])))
		if iso3 == "" {
			continue
		}
		if _, ok := allowed[iso3]; len(allowed) > 0 && !ok {
			continue
		}
		region := strings.TrimSpace(expr.Format(row[spec.RegionHeader]))
		if region == "" || spec.Ignore.Contains(region) {
			continue
		}
		if _, ok := l.Primary[iso3]; !ok {
			iso3s = append(iso3s, iso3)
		}
		l.Primary[iso3] = region
		l.add(iso3, region)
		if _, ok := seen[region]; !ok {
			seen[region] = struct{}{}
			tableRegions = append(tableRegions, region)
		}
	}
	sort.Strings(tableRegions)

	var named []string
	for _, nr := range spec.AdditionalRegions {
		if spec.Ignore.Contains(nr.Name) {
			continue
		}
		named = append(named, nr.Name)
		for _, c := range nr.Countries {
			l.add(strings.ToUpper(c), nr.Name)
		}
	}

	if spec.ToplevelRegion != "" {
		l.Regions = append(l.Regions, spec.ToplevelRegion)
		members := countries
		if len(members) == 0 {
			members = iso3s
		}
		for _, c := range members {
			l.add(strings.ToUpper(c), spec.ToplevelRegion)
		}
	}
	l.Regions = append(l.Regions, named...)
	l.Regions = append(l.Regions, tableRegions...)
	return l
}

func (l *RegionLookup) add(iso3, region string) {
	for _, r := range l.Memberships[iso3] {
		if r == region {
			return
		}
	}
	l.Memberships[iso3] = append(l.Memberships[iso3], region)
}

// Mapping returns the country to region mapping used by aggregations.
func (l *RegionLookup) Mapping() aggregate.Mapping {
	m := make(aggregate.Mapping, len(l.Memberships))
	for iso3, regions := range l.Memberships {
		m[iso3] = append([]string(nil), regions...)
	}
	return m
}

// String summarises the lookup for logs.
func (l *RegionLookup) String() string {
	return fmt.Sprintf("%d regions, %d countries", len(l.Regions), len(l.Memberships))
}

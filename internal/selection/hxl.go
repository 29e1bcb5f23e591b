package selection

import (
	"strings"

	"hdxscraper/internal/config"
	"hdxscraper/internal/reader"
)

// HXLLayout is what a tagged source contributes to a use_hxl scraper.
type HXLLayout struct {
	Admin   [][]string
	Subsets []config.Subset
}

// InferHXL derives admin columns and subset inputs from the tag line of a
// source. Country and adm1 code tags become admin columns, the date column
// is skipped, and every other tag not excluded becomes an input whose output
// header is the source header. Subsets keep any inputs and outputs they
// already declare.
func InferHXL(spec *config.ScraperSpec, headers reader.Headers) HXLLayout {
	var (
		adminCols [][]string
		inputs    []string
		columns   []string
	)
	dateLevel := spec.DateLevelOrDefault()
	for i, name := range headers.Names {
		if i >= len(headers.HXLTags) {
			break
		}
		tag := headers.HXLTags[i]
		if tag == "" || spec.ExcludeTags.Contains(tag) {
			continue
		}
		if dateLevel != config.LevelSingle {
			if strings.Contains(tag, "#country") {
				if strings.Contains(tag, "code") {
					if len(adminCols) == 0 {
						adminCols = append(adminCols, nil)
					}
					adminCols[0] = []string{tag}
				}
				continue
			}
			if dateLevel != config.LevelNational && strings.Contains(tag, "#adm1") {
				if strings.Contains(tag, "code") {
					if len(adminCols) == 0 {
						adminCols = append(adminCols, nil)
					}
					if len(adminCols) == 1 {
						adminCols = append(adminCols, []string{tag})
					}
				}
				continue
			}
		}
		if spec.Date.Contains(tag) || spec.Date.Contains(name) {
			continue
		}
		inputs = append(inputs, tag)
		columns = append(columns, name)
	}

	layout := HXLLayout{Admin: adminCols}
	if len(layout.Admin) == 0 {
		layout.Admin = spec.Admin
	}
	for _, sub := range spec.AllSubsets() {
		if len(sub.Input) == 0 {
			sub.Input = append(config.StringList(nil), inputs...)
		}
		if len(sub.Output) == 0 {
			sub.Output = append(config.StringList(nil), columns...)
		}
		if len(sub.OutputHXL) == 0 {
			sub.OutputHXL = append(config.StringList(nil), sub.Input...)
		}
		layout.Subsets = append(layout.Subsets, sub)
	}
	return layout
}

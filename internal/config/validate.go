package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	apperrors "hdxscraper/internal/errors"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func documentValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("level", isLevel)
		_ = v.RegisterValidation("datetype", isDateType)
		_ = v.RegisterValidation("aggaction", isAggAction)

		// Report fields by their document keys
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		validate = v
	})
	return validate
}

func isLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case LevelNational, LevelSubnational, LevelSingle:
		return true
	}
	return false
}

func isDateType(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "date", "year", "int":
		return true
	}
	return false
}

func isAggAction(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case ActionSum, ActionMean, ActionRange, ActionEval:
		return true
	}
	return false
}

// ValidateScraper checks one scraper spec, including the cross-field rules
// struct tags cannot express.
func ValidateScraper(spec *ScraperSpec) error {
	if err := documentValidator().Struct(spec); err != nil {
		return validationError(spec.Name, err)
	}

	level := spec.LevelOrDefault()
	if spec.AdminSingle == "" && !spec.UseHXL && level != LevelSingle && LevelNumber(level) >= len(spec.Admin) {
		return apperrors.NewConfigError(fmt.Sprintf("scraper %s: no admin column for level %s", spec.Name, level), nil)
	}
	if spec.URL == "" && spec.Dataset == "" {
		return apperrors.NewConfigError(fmt.Sprintf("scraper %s: url or dataset is required", spec.Name), nil)
	}

	for i, sub := range spec.AllSubsets() {
		name := sub.Name
		if name == "" {
			name = fmt.Sprintf("subset %d", i+1)
		}
		if len(sub.Input) == 0 && !spec.UseHXL {
			return apperrors.NewConfigError(fmt.Sprintf("scraper %s %s: input is required", spec.Name, name), nil)
		}
		if len(sub.Input) > 0 {
			want := sub.OutputCount()
			if len(sub.Output) != want && !(spec.UseHXL && len(sub.Output) == 0) {
				return apperrors.NewConfigError(
					fmt.Sprintf("scraper %s %s: %d output columns for %d values", spec.Name, name, len(sub.Output), want), nil)
			}
			if len(sub.OutputHXL) > 0 && len(sub.OutputHXL) != want {
				return apperrors.NewConfigError(
					fmt.Sprintf("scraper %s %s: %d output_hxl tags for %d values", spec.Name, name, len(sub.OutputHXL), want), nil)
			}
		}
		if len(sub.Process) > 0 && len(sub.Sum) > 0 {
			return apperrors.NewConfigError(fmt.Sprintf("scraper %s %s: process and sum are exclusive", spec.Name, name), nil)
		}
	}
	return nil
}

// ValidateTimeSeries checks one time series spec.
func ValidateTimeSeries(spec *TimeSeriesSpec) error {
	owner := spec.UnitName()
	if err := documentValidator().Struct(spec); err != nil {
		return validationError(owner, err)
	}
	if spec.URL == "" && spec.Dataset == "" {
		return apperrors.NewConfigError(fmt.Sprintf("%s: url or dataset is required", owner), nil)
	}
	if len(spec.Output) != len(spec.Input) {
		return apperrors.NewConfigError(
			fmt.Sprintf("%s: %d output columns for %d inputs", owner, len(spec.Output), len(spec.Input)), nil)
	}
	if len(spec.OutputHXL) > 0 && len(spec.OutputHXL) != len(spec.Input) {
		return apperrors.NewConfigError(
			fmt.Sprintf("%s: %d output_hxl tags for %d inputs", owner, len(spec.OutputHXL), len(spec.Input)), nil)
	}
	return nil
}

// ValidateDocument checks every part of a parsed document.
func ValidateDocument(doc *Document) error {
	for _, spec := range doc.Scrapers {
		if err := ValidateScraper(spec); err != nil {
			return err
		}
	}
	for _, ts := range doc.TimeSeries {
		if err := ValidateTimeSeries(ts); err != nil {
			return err
		}
	}
	names := make(map[string]struct{})
	for i := range doc.Aggregations {
		agg := &doc.Aggregations[i]
		if err := documentValidator().Struct(agg); err != nil {
			return validationError(agg.Name, err)
		}
		if _, dup := names[agg.Name]; dup {
			return apperrors.NewConfigError(fmt.Sprintf("duplicate aggregation %q", agg.Name), nil)
		}
		names[agg.Name] = struct{}{}
		if agg.Mapping == "" && len(agg.AdminTable) == 0 {
			return apperrors.NewConfigError(fmt.Sprintf("aggregation %s: mapping or admin_mapping is required", agg.Name), nil)
		}
		if agg.Mapping == MappingRegions && doc.Regions == nil {
			return apperrors.NewConfigError(fmt.Sprintf("aggregation %s: regions mapping needs a regions section", agg.Name), nil)
		}
	}
	for i := range doc.AdditionalSources {
		if err := documentValidator().Struct(&doc.AdditionalSources[i]); err != nil {
			return validationError("additional_sources", err)
		}
	}
	if doc.Regions != nil {
		if err := documentValidator().Struct(doc.Regions); err != nil {
			return validationError("regions", err)
		}
		if doc.Regions.URL == "" && doc.Regions.Dataset == "" {
			return apperrors.NewConfigError("regions: url or dataset is required", nil)
		}
	}
	return nil
}

func validationError(owner string, err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.NewConfigError(owner, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatValidationError(fe))
	}
	return apperrors.NewConfigError(fmt.Sprintf("%s: %s", owner, strings.Join(msgs, "; ")), nil).
		WithContext("fields", len(fieldErrs))
}

func formatValidationError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "level":
		return fmt.Sprintf("%s must be national, subnational or single, got %q", field, fe.Value())
	case "datetype":
		return fmt.Sprintf("%s must be date, year or int, got %q", field, fe.Value())
	case "aggaction":
		return fmt.Sprintf("%s must be sum, mean, range or eval, got %q", field, fe.Value())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

package selection

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"hdxscraper/internal/expr"
	"hdxscraper/internal/sources"
)

// DateKind is how a date column is interpreted.
type DateKind string

// Date kinds accepted by date_type.
const (
	KindDate DateKind = "date"
	KindYear DateKind = "year"
	KindInt  DateKind = "int"
)

// Date is a typed row date. Dates of one kind compare by their ordinal.
type Date struct {
	Kind DateKind
	t    time.Time
	n    int64
}

// IsZero reports whether no date is set.
func (d Date) IsZero() bool { return d.Kind == "" }

// Compare returns -1, 0 or 1. A zero Date sorts before any other.
func (d Date) Compare(o Date) int {
	switch {
	case d.IsZero() && o.IsZero():
		return 0
	case d.IsZero():
		return -1
	case o.IsZero():
		return 1
	}
	if d.Kind == KindDate {
		return d.t.Compare(o.t)
	}
	switch {
	case d.n < o.n:
		return -1
	case d.n > o.n:
		return 1
	}
	return 0
}

// Time converts the date for use as a source date. Years map to January 1
// and ints are read as Unix timestamps.
func (d Date) Time() time.Time {
	switch d.Kind {
	case KindDate:
		return d.t
	case KindYear:
		return time.Date(int(d.n), time.January, 1, 0, 0, 0, 0, time.UTC)
	case KindInt:
		return time.Unix(d.n, 0).UTC()
	}
	return time.Time{}
}

// String renders the date.
func (d Date) String() string {
	switch d.Kind {
	case KindDate:
		return d.t.Format("2006-01-02")
	case KindYear, KindInt:
		return strconv.FormatInt(d.n, 10)
	}
	return ""
}

// DateOf builds a date of the given kind from a time.
func DateOf(kind DateKind, t time.Time) Date {
	switch kind {
	case KindYear:
		return Date{Kind: kind, n: int64(t.Year())}
	case KindInt:
		return Date{Kind: kind, n: t.Unix()}
	}
	return Date{Kind: KindDate, t: t}
}

// ParseDate types a raw cell value.
func ParseDate(kind DateKind, raw any) (Date, error) {
	if t, ok := raw.(time.Time); ok {
		return DateOf(kind, t), nil
	}
	s := strings.TrimSpace(expr.Format(raw))
	if s == "" {
		return Date{}, fmt.Errorf("empty date")
	}
	switch kind {
	case KindDate:
		t, err := sources.ParseDate(s)
		if err != nil {
			return Date{}, err
		}
		return Date{Kind: KindDate, t: t}, nil
	case KindYear, KindInt:
		n, ok := expr.ToNumber(s)
		if !ok {
			return Date{}, fmt.Errorf("%s %q is not a number", kind, s)
		}
		f, _ := expr.ToFloat(n)
		return Date{Kind: kind, n: int64(f)}, nil
	}
	return Date{}, fmt.Errorf("unknown date type %q", kind)
}

// InFuture reports whether d lies after today. Int dates never do.
func (d Date) InFuture(today time.Time) bool {
	switch d.Kind {
	case KindDate:
		return d.t.After(today)
	case KindYear:
		return d.n > int64(today.Year())
	}
	return false
}

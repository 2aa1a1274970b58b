package service

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidemark-io/tidemark/internal/core/period"
	"github.com/tidemark-io/tidemark/internal/core/query"
	"github.com/tidemark-io/tidemark/internal/core/record"
)

// ParseQuery builds a Query from HTTP request parameters. Repeated parameters
// (filter_by, filter_by_prefix, collect) accumulate; the rest take their last
// value, matching gin's Query semantics.
func ParseQuery(values url.Values) (query.Query, error) {
	var spec query.Spec

	if raw := values.Get("start_at"); raw != "" {
		t, err := record.ParseTimestamp(raw)
		if err != nil {
			return query.Query{}, fmt.Errorf("invalid start_at: %w", err)
		}
		spec.StartAt = &t
	}
	if raw := values.Get("end_at"); raw != "" {
		t, err := record.ParseTimestamp(raw)
		if err != nil {
			return query.Query{}, fmt.Errorf("invalid end_at: %w", err)
		}
		spec.EndAt = &t
	}
	if raw := values.Get("duration"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return query.Query{}, fmt.Errorf("invalid duration %q", raw)
		}
		spec.Duration = n
	}
	if raw := values.Get("period"); raw != "" {
		p, err := period.Parse(raw)
		if err != nil {
			return query.Query{}, err
		}
		spec.Period = p
	}

	for _, raw := range values["filter_by"] {
		f, err := parseFilter(raw, "filter_by")
		if err != nil {
			return query.Query{}, err
		}
		spec.FilterBy = append(spec.FilterBy, f)
	}
	for _, raw := range values["filter_by_prefix"] {
		f, err := parseFilter(raw, "filter_by_prefix")
		if err != nil {
			return query.Query{}, err
		}
		spec.FilterPrefix = append(spec.FilterPrefix, f)
	}

	spec.GroupBy = values.Get("group_by")

	if raw := values.Get("sort_by"); raw != "" {
		field, direction, ok := strings.Cut(raw, ":")
		if !ok {
			return query.Query{}, fmt.Errorf("sort_by must be <field>:<direction>, got %q", raw)
		}
		spec.SortBy = &query.Sort{Field: field, Direction: direction}
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return query.Query{}, fmt.Errorf("invalid limit %q", raw)
		}
		spec.Limit = n
	}

	for _, raw := range values["collect"] {
		field, method, ok := strings.Cut(raw, ":")
		if !ok {
			method = query.MethodSet
		}
		spec.Collect = append(spec.Collect, query.Collect{Field: field, Method: method})
	}

	if raw := values.Get("flatten"); raw != "" {
		flatten, err := strconv.ParseBool(raw)
		if err != nil {
			return query.Query{}, fmt.Errorf("invalid flatten %q", raw)
		}
		spec.Flatten = flatten
	}
	if raw := values.Get("inclusive_end"); raw != "" {
		inclusive, err := strconv.ParseBool(raw)
		if err != nil {
			return query.Query{}, fmt.Errorf("invalid inclusive_end %q", raw)
		}
		spec.InclusiveEnd = inclusive
	}

	return query.Build(spec)
}

// parseFilter splits "key:value" and decodes the value: booleans and numbers
// take their typed form, everything else stays a string.
func parseFilter(raw, param string) (query.Filter, error) {
	key, value, ok := strings.Cut(raw, ":")
	if !ok || key == "" {
		return query.Filter{}, fmt.Errorf("%s must be <key>:<value>, got %q", param, raw)
	}
	return query.Filter{Key: key, Value: filterValue(value)}, nil
}

func filterValue(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n
	}
	return raw
}

// ShadowCheck - Surveillance Detection for Wardriving Data
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shadowcheck

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/shadowcheck/internal/detection"
)

func parseAnomalyFilter(r *http.Request) (detection.AnomalyFilter, error) {
	q := r.URL.Query()
	var (
		filter detection.AnomalyFilter
		err    error
	)

	for _, v := range parseCommaSeparated(q.Get("detector")) {
		dt, ok := detection.ParseDetectorType(v)
		if !ok {
			return filter, fmt.Errorf("unknown detector: %s", v)
		}
		filter.DetectorTypes = append(filter.DetectorTypes, dt)
	}
	if filter.Labels, err = parseSeverities(q.Get("label")); err != nil {
		return filter, err
	}
	filter.TransmitterID = strings.ToUpper(strings.TrimSpace(q.Get("transmitter")))

	if v := q.Get("min_confidence"); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil || c < 0 || c > 1 {
			return filter, fmt.Errorf("min_confidence must be between 0 and 1")
		}
		filter.MinConfidence = c
	}
	if filter.Since, err = parseTimeParam(q.Get("since"), "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = parseTimeParam(q.Get("until"), "until"); err != nil {
		return filter, err
	}
	if filter.Since != nil && filter.Until != nil && filter.Until.Before(*filter.Since) {
		return filter, fmt.Errorf("until must not be before since")
	}

	filter.OrderBy = q.Get("order_by")
	filter.OrderDir = strings.ToLower(q.Get("order_dir"))
	if filter.OrderDir != "" && filter.OrderDir != "asc" && filter.OrderDir != "desc" {
		return filter, fmt.Errorf("order_dir must be asc or desc")
	}

	if filter.Limit, filter.Offset, err = parsePagination(r); err != nil {
		return filter, err
	}
	return filter, nil
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageSize {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func parseSeverities(value string) ([]detection.Severity, error) {
	var out []detection.Severity
	for _, v := range parseCommaSeparated(value) {
		s := detection.Severity(strings.ToLower(v))
		if s.Rank() == 0 {
			return nil, fmt.Errorf("unknown severity: %s", v)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseTimeParam(value, name string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", name)
	}
	return &t, nil
}

// parseCommaSeparated parses a comma-separated string into a slice
func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}

	var result []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

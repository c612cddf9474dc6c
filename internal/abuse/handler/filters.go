package handler

import (
	"net/url"
	"strconv"
	"time"

	"warden/internal/abuse/models"
	dErrors "warden/pkg/domain-errors"
)

// parseDetectionQuery reads the listing filter and page from query parameters.
func parseDetectionQuery(q url.Values) (models.DetectionFilter, models.Pagination, error) {
	var (
		filter models.DetectionFilter
		page   models.Pagination
	)

	if v := q.Get("status"); v != "" {
		status, err := models.ParseDetectionStatus(v)
		if err != nil {
			return filter, page, err
		}
		filter.Status = status
	}
	if v := q.Get("tier"); v != "" {
		tier := models.Tier(v)
		if !tier.IsValid() {
			return filter, page, dErrors.New(dErrors.CodeInvalidInput, "unknown tier: "+v)
		}
		filter.Tier = tier
	}
	if v := q.Get("operation"); v != "" {
		if !models.Operation(v).Validate() {
			return filter, page, dErrors.New(dErrors.CodeInvalidInput, "invalid operation")
		}
		filter.Operation = models.Operation(v)
	}
	if v := q.Get("identifier"); v != "" {
		id, err := models.ParseIdentifier(v)
		if err != nil {
			return filter, page, err
		}
		filter.Identifier = &id
	}
	if v := q.Get("min_score"); v != "" {
		score, err := strconv.ParseFloat(v, 64)
		if err != nil || score < 0 {
			return filter, page, dErrors.New(dErrors.CodeInvalidInput, "min_score must be a non-negative number")
		}
		filter.MinScore = &score
	}
	var err error
	if filter.CreatedAfter, err = parseTimeParam(q, "created_after"); err != nil {
		return filter, page, err
	}
	if filter.CreatedBefore, err = parseTimeParam(q, "created_before"); err != nil {
		return filter, page, err
	}

	page.Cursor = q.Get("cursor")
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return filter, page, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
		}
		page.Limit = limit
	}
	return filter, page.Normalized(), nil
}

func parseTimeParam(q url.Values, name string) (*time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, name+" must be an RFC 3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}

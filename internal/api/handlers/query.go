package handlers

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dom/pickup-match/internal/domain"
	"github.com/google/uuid"
)

// parseMatchFilter reads list parameters from the query string. Unknown
// parameters are ignored; malformed ones are reported per field.
func parseMatchFilter(q url.Values) (domain.MatchFilter, error) {
	var (
		f      domain.MatchFilter
		fields []domain.FieldError
	)
	bad := func(field, message string) {
		fields = append(fields, domain.FieldError{Field: field, Message: message})
	}

	if v := q.Get("status"); v != "" {
		status := domain.MatchStatus(strings.ToUpper(v))
		if !status.Valid() {
			bad("status", "unknown status")
		} else {
			f.Status = &status
		}
	}
	if v := q.Get("category"); v != "" {
		category := domain.MatchCategory(strings.ToUpper(v))
		if !category.Valid() {
			bad("category", "unknown category")
		} else {
			f.Category = &category
		}
	}
	if v := q.Get("locationCategory"); v != "" {
		lc := domain.LocationCategory(strings.ToUpper(v))
		if !lc.Valid() {
			bad("locationCategory", "unknown location category")
		} else {
			f.LocationCategory = &lc
		}
	}
	if v := q.Get("hostId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			bad("hostId", "must be a UUID")
		} else {
			f.HostID = &id
		}
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			bad("from", "must be an RFC 3339 timestamp")
		} else {
			f.ScheduledFrom = &t
		}
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			bad("to", "must be an RFC 3339 timestamp")
		} else {
			f.ScheduledTo = &t
		}
	}
	if f.ScheduledFrom != nil && f.ScheduledTo != nil && f.ScheduledTo.Before(*f.ScheduledFrom) {
		bad("to", "must not be before from")
	}

	f.Search = q.Get("q")
	f.Location = q.Get("location")

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			bad("page", "must be a positive integer")
		}
		f.Page = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			bad("limit", "must be a positive integer")
		}
		f.Limit = n
	}

	switch v := domain.SortField(q.Get("sortBy")); v {
	case "", domain.SortByCreatedAt, domain.SortByScheduledAt, domain.SortByUpdatedAt:
		f.SortBy = v
	default:
		bad("sortBy", "must be createdAt, scheduledAt or updatedAt")
	}
	switch v := domain.SortDirection(strings.ToLower(q.Get("sortDir"))); v {
	case "", domain.SortAsc, domain.SortDesc:
		f.SortDir = v
	default:
		bad("sortDir", "must be asc or desc")
	}

	if len(fields) > 0 {
		return domain.MatchFilter{}, domain.NewValidationError("invalid query parameters", fields...)
	}
	return f, nil
}

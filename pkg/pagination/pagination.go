package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/JaimeStill/tally/pkg/query"
)

// ErrUnknownSort reports a sort field with no comparator.
var ErrUnknownSort = errors.New("unknown sort field")

// PageRequest is a client request for one page, with optional search and sort.
type PageRequest struct {
	Page     int
	PageSize int
	Search   *string
	Sort     []query.SortField
}

// Normalize clamps the page and page size into the configured bounds.
func (r *PageRequest) Normalize(cfg Config) {
	r.Page = max(r.Page, 1)
	if r.PageSize < 1 {
		r.PageSize = cfg.DefaultPageSize
	}
	r.PageSize = min(r.PageSize, cfg.MaxPageSize)
}

// Offset is the number of items before the requested page.
func (r *PageRequest) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// PageRequestFromQuery reads page, page_size, search, and sort from values.
// Unparseable numbers fall back to the configured defaults.
func PageRequestFromQuery(values url.Values, cfg Config) PageRequest {
	req := PageRequest{Sort: query.ParseSortFields(values.Get("sort"))}
	req.Page, _ = strconv.Atoi(values.Get("page"))
	req.PageSize, _ = strconv.Atoi(values.Get("page_size"))
	if s := values.Get("search"); s != "" {
		req.Search = &s
	}
	req.Normalize(cfg)
	return req
}

// PageResult is one page of items with the totals needed to page further.
type PageResult[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalPages int `json:"total_pages"`
}

// NewPageResult wraps data with its paging metadata. TotalPages is at least 1
// and Data is never nil.
func NewPageResult[T any](data []T, total, page, pageSize int) PageResult[T] {
	pages := 1
	if pageSize > 0 && total > 0 {
		pages = (total + pageSize - 1) / pageSize
	}
	if data == nil {
		data = []T{}
	}
	return PageResult[T]{
		Data:       data,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: pages,
	}
}

// Slice pages through items that are already filtered and sorted.
func Slice[T any](items []T, req PageRequest) PageResult[T] {
	total := len(items)
	start := min(req.Offset(), total)
	end := min(start+req.PageSize, total)
	return NewPageResult(items[start:end], total, req.Page, req.PageSize)
}

// Comparators maps sort field names to three-way comparisons.
type Comparators[T any] map[string]func(a, b T) int

// Sort orders items in place by fields, falling back to their existing
// order on ties. An unmapped field leaves items untouched and returns
// ErrUnknownSort.
func Sort[T any](items []T, fields []query.SortField, cmps Comparators[T]) error {
	if len(fields) == 0 {
		return nil
	}

	chain := make([]func(a, b T) int, len(fields))
	for i, f := range fields {
		cmp, ok := cmps[f.Field]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSort, f.Field)
		}
		if f.Descending {
			chain[i] = func(a, b T) int { return cmp(b, a) }
		} else {
			chain[i] = cmp
		}
	}

	slices.SortStableFunc(items, func(a, b T) int {
		for _, cmp := range chain {
			if c := cmp(a, b); c != 0 {
				return c
			}
		}
		return 0
	})
	return nil
}

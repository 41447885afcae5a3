package api

import (
	"net/http"
	"strconv"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Page is a 1-based page request taken from ?page= and ?limit=.
type Page struct {
	Number int
	Size   int
}

// pageFromQuery reads page and limit, falling back to page 1 and
// defaultPageSize. Sizes above maxPageSize are clamped.
func pageFromQuery(r *http.Request) Page {
	q := r.URL.Query()
	p := Page{Number: 1, Size: defaultPageSize}
	if n, err := strconv.Atoi(q.Get("page")); err == nil && n > 0 {
		p.Number = n
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		p.Size = min(n, maxPageSize)
	}
	return p
}

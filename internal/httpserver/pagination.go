package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

const (
	// DefaultPageSize is the default number of items per page.
	DefaultPageSize = 50
	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 200
)

// CursorParams holds the parsed query parameters for cursor pagination.
// The cursor is the id of the last item of the previous page; results
// continue strictly after that row in the stable sort order.
type CursorParams struct {
	Cursor *uuid.UUID // nil means start from the beginning
	Limit  int
}

// ParseCursorParams extracts cursor pagination parameters from the request.
func ParseCursorParams(r *http.Request) (CursorParams, error) {
	p := CursorParams{Limit: DefaultPageSize}

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("limit must be a positive integer")
		}
		if n > MaxPageSize {
			n = MaxPageSize
		}
		p.Limit = n
	}

	if v := r.URL.Query().Get("cursor"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return p, fmt.Errorf("invalid cursor: %w", err)
		}
		p.Cursor = &id
	}

	return p, nil
}

// SetNextCursor exposes the continuation cursor on the response. A page
// fetched with limit+1 rows has more data when the extra row came back;
// callers pass the id of the last row actually returned.
func SetNextCursor(w http.ResponseWriter, lastID uuid.UUID) {
	w.Header().Set("X-Next-Cursor", lastID.String())
}

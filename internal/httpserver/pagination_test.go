package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestParseCursorParams(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantCursor bool
		wantErr    bool
	}{
		{
			name:      "defaults",
			query:     "",
			wantLimit: DefaultPageSize,
		},
		{
			name:      "custom limit",
			query:     "limit=100",
			wantLimit: 100,
		},
		{
			name:      "limit capped at max",
			query:     "limit=500",
			wantLimit: MaxPageSize,
		},
		{
			name:    "negative limit",
			query:   "limit=-1",
			wantErr: true,
		},
		{
			name:    "zero limit",
			query:   "limit=0",
			wantErr: true,
		},
		{
			name:    "non-numeric limit",
			query:   "limit=abc",
			wantErr: true,
		},
		{
			name:    "cursor must be a uuid",
			query:   "cursor=invalid",
			wantErr: true,
		},
		{
			name:       "valid cursor",
			query:      "cursor=550e8400-e29b-41d4-a716-446655440000&limit=10",
			wantLimit:  10,
			wantCursor: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			p, err := ParseCursorParams(r)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCursorParams() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if p.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if (p.Cursor != nil) != tt.wantCursor {
				t.Errorf("Cursor present = %v, want %v", p.Cursor != nil, tt.wantCursor)
			}
		})
	}
}

func TestSetNextCursor(t *testing.T) {
	w := httptest.NewRecorder()
	id := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	SetNextCursor(w, id)
	if got := w.Header().Get("X-Next-Cursor"); got != id.String() {
		t.Errorf("X-Next-Cursor = %q, want %q", got, id.String())
	}
}

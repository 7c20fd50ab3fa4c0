package ack

import (
	"bytes"
	"strings"
	"testing"
)

func TestPageEscapesAlarmFields(t *testing.T) {
	data := pageData{
		PersonName: `<script>alert(1)</script>`,
		RoomLabel:  `Room "A&B"`,
		SiteName:   `<img src=x onerror=alert(2)>`,
		CreatedAt:  "2026-03-01T12:00:00Z",
		Status:     "TRIGGERED",
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, data); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "<script>alert(1)</script>") {
		t.Error("person name rendered unescaped")
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Error("expected escaped script tag in output")
	}
	if strings.Contains(out, "<img src=x") {
		t.Error("site name rendered unescaped")
	}
}

func TestPageStates(t *testing.T) {
	tests := []struct {
		name     string
		data     pageData
		wantForm bool
		wantText string
	}{
		{
			name:     "triggered shows the form",
			data:     pageData{Status: "TRIGGERED"},
			wantForm: true,
		},
		{
			name:     "acknowledged hides the form",
			data:     pageData{Status: "ACKNOWLEDGED", Acknowledged: true},
			wantText: "already been acknowledged",
		},
		{
			name:     "terminal hides the form",
			data:     pageData{Status: "RESOLVED", Terminal: true},
			wantText: "closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := pageTmpl.Execute(&buf, tt.data); err != nil {
				t.Fatalf("Execute() error: %v", err)
			}
			out := buf.String()
			hasForm := strings.Contains(out, "<form")
			if hasForm != tt.wantForm {
				t.Errorf("form present = %v, want %v", hasForm, tt.wantForm)
			}
			if tt.wantText != "" && !strings.Contains(out, tt.wantText) {
				t.Errorf("output missing %q", tt.wantText)
			}
		})
	}
}

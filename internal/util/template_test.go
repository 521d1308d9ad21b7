package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	state := map[string]any{
		"initial_request": "launch the new website",
		"tags":            []string{"home", "work"},
		"items":           []any{"a", 1},
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "no markers", text: "plain text", want: "plain text"},
		{name: "field", text: "{{.initial_request}}", want: "launch the new website"},
		{name: "missing field", text: "[{{.missing}}]", want: "[]"},
		{name: "default", text: `{{default "none" .missing}}`, want: "none"},
		{name: "join strings", text: `{{join ", " .tags}}`, want: "home, work"},
		{name: "join any", text: `{{join "-" .items}}`, want: "a-1"},
		{name: "upper", text: `{{upper .initial_request}}`, want: "LAUNCH THE NEW WEBSITE"},
		{name: "no html escaping", text: "{{.q}}", want: "a < b & c"},
	}

	state["q"] = "a < b & c"

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderTemplate(tt.text, state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderTemplate_ParseError(t *testing.T) {
	_, err := RenderTemplate("{{.broken", nil)
	assert.Error(t, err)
}

func TestNewExecutionID(t *testing.T) {
	a := NewExecutionID("weekly_review")
	b := NewExecutionID("weekly_review")

	assert.True(t, strings.HasPrefix(a, "weekly_review_"))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("weekly_review_")+8)
}

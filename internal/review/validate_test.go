package review

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/review/entity"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		form entity.FormData
		want FieldErrors
	}{
		{"valid", entity.FormData{Body: "Great tool, highly recommend it!", Rating: 5}, FieldErrors{}},
		{"exactly ten after trim", entity.FormData{Body: "  0123456789  ", Rating: 1}, FieldErrors{}},
		{"blank body", entity.FormData{Body: "   ", Rating: 3}, FieldErrors{"body": "Review content is required"}},
		{"short body", entity.FormData{Body: " too short ", Rating: 3}, FieldErrors{"body": "Review must be at least 10 characters long"}},
		{"long title", entity.FormData{Title: strings.Repeat("x", 201), Body: "long enough body", Rating: 3},
			FieldErrors{"title": "Title must be 200 characters or less"}},
		{"title at limit", entity.FormData{Title: strings.Repeat("é", 200), Body: "long enough body", Rating: 3}, FieldErrors{}},
		{"missing rating", entity.FormData{Body: "long enough body"}, FieldErrors{"rating": "Please select a rating from 1 to 5 stars"}},
		{"rating too high", entity.FormData{Body: "long enough body", Rating: 6}, FieldErrors{"rating": "Please select a rating from 1 to 5 stars"}},
		{"rating negative", entity.FormData{Body: "long enough body", Rating: -1}, FieldErrors{"rating": "Please select a rating from 1 to 5 stars"}},
		{"everything wrong", entity.FormData{Title: strings.Repeat("x", 250), Rating: 9}, FieldErrors{
			"title":  "Title must be 200 characters or less",
			"body":   "Review content is required",
			"rating": "Please select a rating from 1 to 5 stars",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.form))
		})
	}
}

func TestValidateBodyLengthBoundary(t *testing.T) {
	for n := 0; n <= 15; n++ {
		form := entity.FormData{Body: strings.Repeat("a", n), Rating: 4}
		_, hasErr := Validate(form)["body"]
		assert.Equal(t, n < 10, hasErr, "body length %d", n)
	}
}

func TestValidateSurvivesPersistence(t *testing.T) {
	forms := []entity.FormData{
		{Body: "Great tool, highly recommend it!", Rating: 5},
		{Title: "Hm", Body: "short", Rating: 0},
	}
	for _, f := range forms {
		b, err := json.Marshal(entity.ReviewDraft{Product: entity.ProductRef{ID: "p"}, FormData: f})
		require.NoError(t, err)
		var back entity.ReviewDraft
		require.NoError(t, json.Unmarshal(b, &back))
		assert.Equal(t, Validate(f), Validate(back.FormData))
	}
}

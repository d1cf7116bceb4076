package apiclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoReviews = `[
	{"id":"r1","product_id":"p1","user_id":"u1","body":"Works well for our team","rating":5,"helpful_count":3,"created_at":"2025-05-01T10:00:00Z"},
	{"id":"r2","product_id":"p1","user_id":"u2","title":"Meh","body":"Setup took far too long","rating":2,"helpful_count":0,"created_at":"2025-05-02T10:00:00Z"}
]`

func TestNormalizeReviewsShapes(t *testing.T) {
	shapes := map[string]string{
		"bare array": twoReviews,
		"reviews":    `{"reviews":` + twoReviews + `}`,
		"data":       `{"data":` + twoReviews + `,"total":2}`,
		"results":    `{"results":` + twoReviews + `,"page":1}`,
	}
	want := NormalizeReviews([]byte(twoReviews))
	require.Len(t, want, 2)

	for name, body := range shapes {
		t.Run(name, func(t *testing.T) {
			got := NormalizeReviews([]byte(body))
			assert.Equal(t, want, got)
		})
	}
}

func TestNormalizeReviewsPriority(t *testing.T) {
	body := `{"results":[{"id":"c"}],"data":[{"id":"b"}],"reviews":[{"id":"a"}]}`
	got := NormalizeReviews([]byte(body))
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	// a non-array under a higher priority key is skipped
	body = `{"reviews":{"count":0},"data":[{"id":"b"}]}`
	got = NormalizeReviews([]byte(body))
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestNormalizeReviewsUnknownShape(t *testing.T) {
	assert.Empty(t, NormalizeReviews([]byte(`{"items":[{"id":"x"}]}`)))
	assert.Empty(t, NormalizeReviews([]byte(`null`)))
	assert.Empty(t, NormalizeReviews(nil))
}

func TestNormalizeReviewsLenientFields(t *testing.T) {
	body := `[
		{"review_id":42,"content":"Legacy content field","score":4,"upvotes":7,"created_date":"2025-01-01T00:00:00Z"},
		{"foo":"bar"},
		"not an object",
		{"_id":"m1"}
	]`
	got := NormalizeReviews([]byte(body))
	require.Len(t, got, 2)
	assert.Equal(t, "42", got[0].ID)
	assert.Equal(t, "Legacy content field", got[0].Body)
	assert.Equal(t, 4, got[0].Rating)
	assert.Equal(t, 7, got[0].HelpfulCount)
	assert.Equal(t, 2025, got[0].CreatedAt.Year())
	assert.Equal(t, "m1", got[1].ID)
}

package apiclient

import (
	"bytes"
	"encoding/json"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/catalog/entity"
)

// Envelope keys tried, in order, when a list endpoint answers with an object.
var (
	reviewKeys  = []string{"reviews", "data", "results"}
	productKeys = []string{"products", "data", "results"}
	companyKeys = []string{"companies", "data", "results"}
)

// NormalizeReviews turns any of the shapes served by the reviews endpoint
// into a slice. Priority: bare array, then .reviews, .data, .results. An
// unrecognised shape yields an empty list. Elements that are not objects or
// carry neither an id nor a body are dropped.
func NormalizeReviews(raw []byte) []entity.Review {
	items := extractList(raw, reviewKeys...)
	out := make([]entity.Review, 0, len(items))
	for _, item := range items {
		if !isObject(item) {
			continue
		}
		var r entity.Review
		if err := json.Unmarshal(item, &r); err != nil {
			continue
		}
		if r.ID == "" && r.Body == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

func decodeList[T any](raw []byte, keys ...string) []T {
	items := extractList(raw, keys...)
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func extractList(raw []byte, keys ...string) []json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	switch raw[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err == nil {
			return arr
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil
		}
		for _, k := range keys {
			v, ok := obj[k]
			if !ok {
				continue
			}
			var arr []json.RawMessage
			if err := json.Unmarshal(v, &arr); err == nil && isArray(v) {
				return arr
			}
		}
	}
	return nil
}

func isArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

package review

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/review/entity"
)

// FieldErrors maps a form field (by its JSON name) to the message shown next
// to it. An empty map means the form is valid. The key "general" carries a
// failure that belongs to no single field.
type FieldErrors map[string]string

const FieldGeneral = "general"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("trimmin", func(fl validator.FieldLevel) bool {
		n, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return utf8.RuneCountInString(strings.TrimSpace(fl.Field().String())) >= n
	})
	return v
}

// Validate checks the form the way the composition surface does. It never
// fails; problems come back as messages.
func Validate(form entity.FormData) FieldErrors {
	out := FieldErrors{}
	err := validate.Struct(form)
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out[FieldGeneral] = "Invalid review"
		return out
	}
	for _, e := range verrs {
		out[e.Field()] = fieldMessage(e)
	}
	return out
}

func fieldMessage(e validator.FieldError) string {
	switch e.Field() {
	case "title":
		return "Title must be 200 characters or less"
	case "body":
		if e.Tag() == "notblank" {
			return "Review content is required"
		}
		return "Review must be at least 10 characters long"
	case "rating":
		return "Please select a rating from 1 to 5 stars"
	}
	return e.Field() + " is invalid"
}

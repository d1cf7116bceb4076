package catalog

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/catalog/entity"
)

const (
	MsgSolutionSubmitted = "Solution submitted successfully!"
	msgSolutionFailed    = "Error submitting solution: "

	maxTaglineRunes = 200
)

// SolutionForm is the add-solution form as the user filled it in.
type SolutionForm struct {
	Name        string `json:"name" validate:"required,max=200"`
	Category    string `json:"category" validate:"required,oneof=hosting feature_toggles ci_cd observability other"`
	Description string `json:"description"`
	HomepageURL string `json:"homepage_url" validate:"omitempty,url"`
	CompanyID   string `json:"company_id"`
}

// InvalidSolutionError lists the form fields that need fixing, keyed by their
// JSON name.
type InvalidSolutionError struct {
	Fields map[string]string
}

func (e *InvalidSolutionError) Error() string { return "invalid solution" }

// ProductCreator submits a new listing on behalf of the signed-in browser.
type ProductCreator interface {
	CreateProduct(ctx context.Context, in entity.NewProduct) (*entity.Product, error)
}

var solutionValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}()

func solutionMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "name":
		if fe.Tag() == "max" {
			return "Product name must be 200 characters or less"
		}
		return "Product name is required"
	case "category":
		if fe.Tag() == "oneof" {
			return "Please choose one of the listed categories"
		}
		return "Product category is required"
	case "homepage_url":
		return "Homepage must be a valid URL"
	}
	return "Invalid value"
}

// ValidateSolution trims the form in place and reports what is wrong with it.
// A nil map means the form can be sent.
func ValidateSolution(f *SolutionForm) map[string]string {
	f.Name = strings.TrimSpace(f.Name)
	f.Category = strings.TrimSpace(f.Category)
	f.Description = strings.TrimSpace(f.Description)
	f.HomepageURL = strings.TrimSpace(f.HomepageURL)
	f.CompanyID = strings.TrimSpace(f.CompanyID)

	err := solutionValidator.Struct(f)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return map[string]string{"general": "Invalid form"}
	}
	out := make(map[string]string, len(ves))
	for _, fe := range ves {
		if _, seen := out[fe.Field()]; !seen {
			out[fe.Field()] = solutionMessage(fe)
		}
	}
	return out
}

var (
	slugDrop   = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpaces = regexp.MustCompile(`\s+`)
	slugDashes = regexp.MustCompile(`-+`)
)

// Slugify derives the listing slug from its name: lower case, letters, digits
// and single dashes only.
func Slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugDrop.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugDashes.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// SubmitSolution validates the form and creates the listing through c. The
// company is optional; the tagline is the first 200 characters of the
// description.
func (s *Service) SubmitSolution(ctx context.Context, c ProductCreator, f SolutionForm) (*entity.Product, error) {
	if errs := ValidateSolution(&f); errs != nil {
		return nil, &InvalidSolutionError{Fields: errs}
	}
	in := entity.NewProduct{
		CompanyID:   f.CompanyID,
		Name:        f.Name,
		Slug:        Slugify(f.Name),
		Category:    f.Category,
		Description: f.Description,
		HomepageURL: f.HomepageURL,
	}
	if f.Description != "" {
		in.ShortTagline = truncateRunes(f.Description, maxTaglineRunes)
	}

	p, err := c.CreateProduct(ctx, in)
	if err != nil {
		s.logger.Errorw("create product", "name", in.Name, "err", err)
		return nil, &LoadError{Message: msgSolutionFailed + err.Error(), Err: err}
	}
	s.logger.Infow("solution submitted", "product_id", p.ID, "slug", in.Slug)
	return p, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

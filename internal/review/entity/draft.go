package entity

import "time"

// FormData is the content of the review composition surface.
type FormData struct {
	Title  string `json:"title" validate:"max=200"`
	Body   string `json:"body" validate:"notblank,trimmin=10"`
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
}

// NewFormData returns the form as first shown to the user: empty text and a
// five star rating preselected.
func NewFormData() FormData {
	return FormData{Rating: 5}
}

// ProductRef identifies the product a review is about.
type ProductRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// ReviewDraft is a composition parked across a login redirect.
type ReviewDraft struct {
	ID         string     `json:"id"`
	Product    ProductRef `json:"product"`
	FormData   FormData   `json:"formData"`
	ReturnPath string     `json:"returnPath"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// CreateReviewRequest is the body of POST /reviews.
type CreateReviewRequest struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Rating    int    `json:"rating"`
}

package entity

import (
	"encoding/json"
	"time"
)

// Product is a software listing owned by the review API.
type Product struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"company_id,omitempty"`
	Name         string    `json:"name"`
	Slug         string    `json:"slug,omitempty"`
	Category     string    `json:"category,omitempty"`
	ShortTagline string    `json:"short_tagline,omitempty"`
	Description  string    `json:"description,omitempty"`
	HomepageURL  string    `json:"homepage_url,omitempty"`
	DocsURL      string    `json:"docs_url,omitempty"`
	LogoURL      string    `json:"logo_url,omitempty"`
	AvgRating    *float64  `json:"avg_rating,omitempty"`
	TotalReviews int       `json:"total_reviews"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// Rating returns the average rating, zero when the product has none yet.
func (p Product) Rating() float64 {
	if p.AvgRating == nil {
		return 0
	}
	return *p.AvgRating
}

// Summary returns the description, falling back to the tagline.
func (p Product) Summary() string {
	if p.Description != "" {
		return p.Description
	}
	if p.ShortTagline != "" {
		return p.ShortTagline
	}
	return "No description available."
}

// NewProduct is a listing submitted by a user.
type NewProduct struct {
	CompanyID    string `json:"company_id,omitempty"`
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	Category     string `json:"category"`
	ShortTagline string `json:"short_tagline,omitempty"`
	Description  string `json:"description,omitempty"`
	HomepageURL  string `json:"homepage_url,omitempty"`
}

// Company is a vendor owned by the review API.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Website   string    `json:"website,omitempty"`
	Slug      string    `json:"slug,omitempty"`
	LogoURL   string    `json:"logo_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Review is a published review. The API has shipped several spellings of
// the same fields; UnmarshalJSON accepts all of them.
type Review struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	AuthorID     string    `json:"user_id"`
	Title        string    `json:"title,omitempty"`
	Body         string    `json:"body"`
	Rating       int       `json:"rating"`
	HelpfulCount int       `json:"helpful_count"`
	FlagCount    int       `json:"flag_count,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type reviewWire struct {
	ID            looseID    `json:"id"`
	ReviewID      looseID    `json:"review_id"`
	MongoID       looseID    `json:"_id"`
	ReviewIDCamel looseID    `json:"reviewId"`
	ProductID     looseID    `json:"product_id"`
	UserID        looseID    `json:"user_id"`
	AuthorID      looseID    `json:"author_id"`
	Title         string     `json:"title"`
	Body          string     `json:"body"`
	Content       string     `json:"content"`
	ReviewContent string     `json:"review_content"`
	Text          string     `json:"text"`
	Description   string     `json:"description"`
	Comment       string     `json:"comment"`
	Rating        *float64   `json:"rating"`
	Score         *float64   `json:"score"`
	HelpfulCount  *int       `json:"helpful_count"`
	Upvotes       *int       `json:"upvotes"`
	FlagCount     int        `json:"flag_count"`
	CreatedAt     *time.Time `json:"created_at"`
	CreatedDate   *time.Time `json:"created_date"`
	Date          *time.Time `json:"date"`
}

func (r *Review) UnmarshalJSON(b []byte) error {
	var w reviewWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Review{
		ID:        firstNonEmpty(string(w.ID), string(w.ReviewID), string(w.MongoID), string(w.ReviewIDCamel)),
		ProductID: string(w.ProductID),
		AuthorID:  firstNonEmpty(string(w.UserID), string(w.AuthorID)),
		Title:     w.Title,
		Body:      firstNonEmpty(w.Body, w.Content, w.ReviewContent, w.Text, w.Description, w.Comment),
		FlagCount: w.FlagCount,
	}
	switch {
	case w.Rating != nil:
		r.Rating = int(*w.Rating)
	case w.Score != nil:
		r.Rating = int(*w.Score)
	}
	switch {
	case w.HelpfulCount != nil:
		r.HelpfulCount = *w.HelpfulCount
	case w.Upvotes != nil:
		r.HelpfulCount = *w.Upvotes
	}
	for _, t := range []*time.Time{w.CreatedAt, w.CreatedDate, w.Date} {
		if t != nil {
			r.CreatedAt = *t
			break
		}
	}
	return nil
}

// looseID accepts both string and numeric identifiers.
type looseID string

func (l *looseID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*l = looseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*l = looseID(n.String())
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

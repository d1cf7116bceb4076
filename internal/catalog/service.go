// Package catalog prepares the product and company views the browser reads.
package catalog

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-review-web/internal/catalog/entity"
)

const (
	MsgProductsFailed  = "Failed to load software data. Please try again later."
	MsgCompaniesFailed = "Failed to load companies data. Please try again later."
	MsgDetailFailed    = "Failed to load software details. Please try again later."
	MsgCompanyFailed   = "Failed to load company details. Please try again later."
)

// LoadError is a failed call to the review API. Message is what the user sees,
// next to the retry control for page loads.
type LoadError struct {
	Message string
	Err     error
}

func (e *LoadError) Error() string { return fmt.Sprintf("%s: %v", e.Message, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

type Source interface {
	ListProducts(ctx context.Context, params url.Values) ([]entity.Product, error)
	SearchProducts(ctx context.Context, query string) ([]entity.Product, error)
	ProductsByCategory(ctx context.Context, category string) ([]entity.Product, error)
	ProductsByCompany(ctx context.Context, companyID string) ([]entity.Product, error)
	GetProduct(ctx context.Context, id string) (*entity.Product, error)
	ListCompanies(ctx context.Context, params url.Values) ([]entity.Company, error)
	SearchCompanies(ctx context.Context, query string) ([]entity.Company, error)
	GetCompany(ctx context.Context, id string) (*entity.Company, error)
	ReviewsByProduct(ctx context.Context, productID string) ([]entity.Review, error)
}

type ProductQuery struct {
	Search   string
	Category string
	Sort     string
}

type CompanyQuery struct {
	Search string
	Sort   string
}

// Detail is a product page: the product and whatever reviews could be read.
type Detail struct {
	Product  entity.Product  `json:"product"`
	Category string          `json:"categoryName"`
	Reviews  []entity.Review `json:"reviews"`
}

// CompanyDetail is a company page: the company and the products it lists.
type CompanyDetail struct {
	Company  entity.Company   `json:"company"`
	Products []entity.Product `json:"products"`
}

type Service struct {
	src    Source
	logger *zap.SugaredLogger
}

func NewService(src Source, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{src: src, logger: logger}
}

// Products reads the listing. A search term goes to the API's search
// endpoint and a concrete category to the category endpoint; the result is
// then filtered and sorted the same way either way.
func (s *Service) Products(ctx context.Context, q ProductQuery) ([]entity.Product, error) {
	var (
		ps  []entity.Product
		err error
	)
	term := strings.TrimSpace(q.Search)
	switch {
	case term != "":
		ps, err = s.src.SearchProducts(ctx, term)
		// the API already matched the term, possibly on fields we never see
		q.Search = ""
	case q.Category != "" && q.Category != "all":
		ps, err = s.src.ProductsByCategory(ctx, q.Category)
	default:
		ps, err = s.src.ListProducts(ctx, nil)
	}
	if err != nil {
		s.logger.Errorw("list products", "search", term, "category", q.Category, "err", err)
		return nil, &LoadError{Message: MsgProductsFailed, Err: err}
	}
	return FilterProducts(ps, q), nil
}

func (s *Service) Companies(ctx context.Context, q CompanyQuery) ([]entity.Company, error) {
	var (
		cs  []entity.Company
		err error
	)
	term := strings.TrimSpace(q.Search)
	if term != "" {
		cs, err = s.src.SearchCompanies(ctx, term)
		q.Search = ""
	} else {
		cs, err = s.src.ListCompanies(ctx, nil)
	}
	if err != nil {
		s.logger.Errorw("list companies", "search", term, "err", err)
		return nil, &LoadError{Message: MsgCompaniesFailed, Err: err}
	}
	return FilterCompanies(cs, q), nil
}

// minSuggestLen is how much the user has to type before companies are
// suggested.
const minSuggestLen = 2

// CompanySuggestions backs the company picker of the add-solution form. Short
// queries and failed lookups yield no suggestions.
func (s *Service) CompanySuggestions(ctx context.Context, query string) []entity.Company {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < minSuggestLen {
		return []entity.Company{}
	}
	cs, err := s.src.SearchCompanies(ctx, query)
	if err != nil {
		s.logger.Warnw("search companies", "query", query, "err", err)
		return []entity.Company{}
	}
	if cs == nil {
		cs = []entity.Company{}
	}
	return cs
}

// CompanyDetail loads a company and its products. As with product pages, a
// failed product lookup leaves the list empty.
func (s *Service) CompanyDetail(ctx context.Context, id string) (*CompanyDetail, error) {
	c, err := s.src.GetCompany(ctx, id)
	if err != nil {
		s.logger.Errorw("get company", "company_id", id, "err", err)
		return nil, &LoadError{Message: MsgCompanyFailed, Err: err}
	}
	ps, err := s.src.ProductsByCompany(ctx, id)
	if err != nil {
		s.logger.Warnw("load company products, showing none", "company_id", id, "err", err)
	}
	if ps == nil {
		ps = []entity.Product{}
	}
	return &CompanyDetail{Company: *c, Products: ps}, nil
}

// ProductDetail loads a product and its reviews. Failing to read the reviews
// is not fatal; the page shows the product with no reviews.
func (s *Service) ProductDetail(ctx context.Context, id string) (*Detail, error) {
	p, err := s.src.GetProduct(ctx, id)
	if err != nil {
		s.logger.Errorw("get product", "product_id", id, "err", err)
		return nil, &LoadError{Message: MsgDetailFailed, Err: err}
	}
	reviews, err := s.src.ReviewsByProduct(ctx, id)
	if err != nil {
		s.logger.Warnw("load reviews, showing none", "product_id", id, "err", err)
		reviews = nil
	}
	if reviews == nil {
		reviews = []entity.Review{}
	}
	return &Detail{Product: *p, Category: CategoryDisplayName(p.Category), Reviews: reviews}, nil
}

// FilterProducts applies the listing's search box, category picker and sort
// order. Unknown sort keys keep the API order.
func FilterProducts(ps []entity.Product, q ProductQuery) []entity.Product {
	term := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]entity.Product, 0, len(ps))
	for _, p := range ps {
		if term != "" && !strings.Contains(strings.ToLower(p.Name), term) &&
			!strings.Contains(strings.ToLower(p.Summary()), term) {
			continue
		}
		if q.Category != "" && q.Category != "all" && p.Category != q.Category {
			continue
		}
		out = append(out, p)
	}

	switch q.Sort {
	case "rating":
		slices.SortStableFunc(out, func(a, b entity.Product) int { return cmp.Compare(b.Rating(), a.Rating()) })
	case "reviews":
		slices.SortStableFunc(out, func(a, b entity.Product) int { return cmp.Compare(b.TotalReviews, a.TotalReviews) })
	case "name":
		slices.SortStableFunc(out, func(a, b entity.Product) int { return compareNames(a.Name, b.Name) })
	}
	return out
}

func FilterCompanies(cs []entity.Company, q CompanyQuery) []entity.Company {
	term := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]entity.Company, 0, len(cs))
	for _, c := range cs {
		if term != "" && !strings.Contains(strings.ToLower(c.Name), term) &&
			!strings.Contains(strings.ToLower(c.Website), term) {
			continue
		}
		out = append(out, c)
	}

	switch q.Sort {
	case "name":
		slices.SortStableFunc(out, func(a, b entity.Company) int { return compareNames(a.Name, b.Name) })
	case "created":
		slices.SortStableFunc(out, func(a, b entity.Company) int { return b.CreatedAt.Compare(a.CreatedAt) })
	case "updated":
		slices.SortStableFunc(out, func(a, b entity.Company) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	}
	return out
}

func compareNames(a, b string) int {
	if c := cmp.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return cmp.Compare(a, b)
}

var categoryNames = map[string]string{
	"all":             "All Categories",
	"hosting":         "Web Hosting",
	"feature_toggles": "Feature Management",
	"ci_cd":           "CI/CD & DevOps",
	"observability":   "Monitoring & Analytics",
	"other":           "Other Tools",
}

// CategoryDisplayName maps a category key to its label. Unknown keys are
// shown as they are.
func CategoryDisplayName(category string) string {
	if name, ok := categoryNames[category]; ok {
		return name
	}
	return category
}

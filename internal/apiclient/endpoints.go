package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	authentity "github.com/ovaphlow/pitchfork/service-review-web/internal/auth/entity"
	catalog "github.com/ovaphlow/pitchfork/service-review-web/internal/catalog/entity"
	review "github.com/ovaphlow/pitchfork/service-review-web/internal/review/entity"
)

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token string              `json:"token"`
	User  authentity.Identity `json:"user"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Handle   string `json:"handle"`
}

type flagRequest struct {
	Reason string `json:"reason"`
}

func (cn *Conn) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	var out AuthResponse
	err := cn.doJSON(ctx, call{route: "POST /auth/login", method: http.MethodPost, path: "/auth/login",
		body: loginRequest{Email: email, Password: password}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (cn *Conn) Register(ctx context.Context, email, password, handle string) (*AuthResponse, error) {
	var out AuthResponse
	err := cn.doJSON(ctx, call{route: "POST /auth/register", method: http.MethodPost, path: "/auth/register",
		body: registerRequest{Email: email, Password: password, Handle: handle}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile fetches the current identity. Both a bare identity and one wrapped
// in {"user": ...} are accepted.
func (cn *Conn) Profile(ctx context.Context) (*authentity.Identity, error) {
	b, err := cn.do(ctx, call{route: "GET /auth/profile", method: http.MethodGet, path: "/auth/profile"})
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		User *authentity.Identity `json:"user"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil && wrapped.User != nil && wrapped.User.ID != "" {
		return wrapped.User, nil
	}
	var id authentity.Identity
	if err := json.Unmarshal(b, &id); err != nil {
		return nil, &APIError{Status: http.StatusOK, Message: "malformed profile response"}
	}
	if id.ID == "" {
		return nil, &APIError{Status: http.StatusOK, Message: "profile response without id"}
	}
	return &id, nil
}

func (cn *Conn) ListProducts(ctx context.Context, params url.Values) ([]catalog.Product, error) {
	path := "/products"
	if q := params.Encode(); q != "" {
		path += "?" + q
	}
	b, err := cn.do(ctx, call{route: "GET /products", method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	return decodeList[catalog.Product](b, productKeys...), nil
}

func (cn *Conn) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	var p catalog.Product
	err := cn.doJSON(ctx, call{route: "GET /products/{id}", method: http.MethodGet, path: "/products/" + url.PathEscape(id)}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (cn *Conn) SearchProducts(ctx context.Context, query string) ([]catalog.Product, error) {
	b, err := cn.do(ctx, call{route: "GET /products/search", method: http.MethodGet,
		path: "/products/search?q=" + url.QueryEscape(query)})
	if err != nil {
		return nil, err
	}
	return decodeList[catalog.Product](b, productKeys...), nil
}

func (cn *Conn) ProductsByCategory(ctx context.Context, category string) ([]catalog.Product, error) {
	b, err := cn.do(ctx, call{route: "GET /products/category/{category}", method: http.MethodGet,
		path: "/products/category/" + url.PathEscape(category)})
	if err != nil {
		return nil, err
	}
	return decodeList[catalog.Product](b, productKeys...), nil
}

func (cn *Conn) ProductsByCompany(ctx context.Context, companyID string) ([]catalog.Product, error) {
	b, err := cn.do(ctx, call{route: "GET /products/company/{id}", method: http.MethodGet,
		path: "/products/company/" + url.PathEscape(companyID)})
	if err != nil {
		return nil, err
	}
	return decodeList[catalog.Product](b, productKeys...), nil
}

func (cn *Conn) CreateProduct(ctx context.Context, in catalog.NewProduct) (*catalog.Product, error) {
	var p catalog.Product
	err := cn.doJSON(ctx, call{route: "POST /products", method: http.MethodPost, path: "/products", body: in}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (cn *Conn) ListCompanies(ctx context.Context, params url.Values) ([]catalog.Company, error) {
	path := "/companies"
	if q := params.Encode(); q != "" {
		path += "?" + q
	}
	b, err := cn.do(ctx, call{route: "GET /companies", method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	return decodeList[catalog.Company](b, companyKeys...), nil
}

func (cn *Conn) GetCompany(ctx context.Context, id string) (*catalog.Company, error) {
	var c catalog.Company
	err := cn.doJSON(ctx, call{route: "GET /companies/{id}", method: http.MethodGet, path: "/companies/" + url.PathEscape(id)}, &c)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (cn *Conn) SearchCompanies(ctx context.Context, query string) ([]catalog.Company, error) {
	b, err := cn.do(ctx, call{route: "GET /companies/search", method: http.MethodGet,
		path: "/companies/search?q=" + url.QueryEscape(query)})
	if err != nil {
		return nil, err
	}
	return decodeList[catalog.Company](b, companyKeys...), nil
}

// ReviewsByProduct returns the product's reviews whatever envelope the API used.
func (cn *Conn) ReviewsByProduct(ctx context.Context, productID string) ([]catalog.Review, error) {
	b, err := cn.do(ctx, call{route: "GET /reviews/product/{id}", method: http.MethodGet,
		path: "/reviews/product/" + url.PathEscape(productID)})
	if err != nil {
		return nil, err
	}
	return NormalizeReviews(b), nil
}

func (cn *Conn) CreateReview(ctx context.Context, in review.CreateReviewRequest) error {
	_, err := cn.do(ctx, call{route: "POST /reviews", method: http.MethodPost, path: "/reviews", body: in})
	return err
}

func (cn *Conn) Upvote(ctx context.Context, reviewID string) error {
	_, err := cn.do(ctx, call{route: "POST /reviews/{id}/upvote", method: http.MethodPost,
		path: "/reviews/" + url.PathEscape(reviewID) + "/upvote"})
	return err
}

func (cn *Conn) Downvote(ctx context.Context, reviewID string) error {
	_, err := cn.do(ctx, call{route: "POST /reviews/{id}/downvote", method: http.MethodPost,
		path: "/reviews/" + url.PathEscape(reviewID) + "/downvote"})
	return err
}

func (cn *Conn) Flag(ctx context.Context, reviewID, reason string) error {
	_, err := cn.do(ctx, call{route: "POST /reviews/{id}/flag", method: http.MethodPost,
		path: "/reviews/" + url.PathEscape(reviewID) + "/flag", body: flagRequest{Reason: reason}})
	return err
}

package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Sternrassler/storefront-client/pkg/pagination"
)

// Listing endpoints. All of them page with ?page=N and answer {"data": [...], "next": ...}.
const (
	ProductsPath  = "/api/v1/products/"
	BranchesPath  = "/api/v1/branches/"
	AddressesPath = "/api/v1/addresses/"
	OrdersPath    = "/api/v1/orders/"
)

// Product is a catalog item.
type Product struct {
	ID                   int64   `json:"id"`
	Name                 string  `json:"name"`
	Category             string  `json:"category"`
	Price                float64 `json:"price"`
	ImageURL             string  `json:"image_url,omitempty"`
	InStock              bool    `json:"in_stock"`
	RequiresPrescription bool    `json:"requires_prescription"`
}

// Branch is a pharmacy location.
type Branch struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	City      string  `json:"city"`
	Address   string  `json:"address"`
	Phone     string  `json:"phone,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	OpenNow   bool    `json:"open_now"`
}

// Address is a delivery address of the signed-in user.
type Address struct {
	ID        int64  `json:"id"`
	Label     string `json:"label"`
	Street    string `json:"street"`
	City      string `json:"city"`
	IsDefault bool   `json:"is_default"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID int64   `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
}

// Order is a placed order as reported by the backend.
type Order struct {
	ID        int64       `json:"id"`
	Status    string      `json:"status"`
	BranchID  int64       `json:"branch_id"`
	AddressID int64       `json:"address_id,omitempty"`
	Items     []OrderItem `json:"items"`
	Total     float64     `json:"total"`
	CreatedAt string      `json:"created_at"`
}

// ProductQuery filters the product list. The zero value lists everything.
type ProductQuery struct {
	Search   string
	Category string
	BranchID int64
	Ordering string
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	setIfNotEmpty(v, "search", q.Search)
	setIfNotEmpty(v, "category", q.Category)
	if q.BranchID > 0 {
		v.Set("branch", strconv.FormatInt(q.BranchID, 10))
	}
	setIfNotEmpty(v, "ordering", q.Ordering)
	return v
}

// BranchQuery filters the branch list.
type BranchQuery struct {
	City   string
	Search string
}

func (q BranchQuery) values() url.Values {
	v := url.Values{}
	setIfNotEmpty(v, "city", q.City)
	setIfNotEmpty(v, "search", q.Search)
	return v
}

// OrderQuery filters the signed-in user's orders.
type OrderQuery struct {
	Status string
}

func (q OrderQuery) values() url.Values {
	v := url.Values{}
	setIfNotEmpty(v, "status", q.Status)
	return v
}

func setIfNotEmpty(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

// listPage fetches one page of a listing endpoint.
func listPage[T any](ctx context.Context, c *Client, path string, query url.Values, page int) (pagination.Page[T], error) {
	if page < 1 {
		return pagination.Page[T]{}, fmt.Errorf("invalid page %d", page)
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("page", strconv.Itoa(page))

	var result pagination.Page[T]
	if err := c.getJSON(ctx, path, query, &result); err != nil {
		return pagination.Page[T]{}, fmt.Errorf("list %s page %d: %w", path, page, err)
	}
	if result.Data == nil {
		result.Data = []T{}
	}
	return result, nil
}

// ListProducts fetches one page of the product catalog.
func (c *Client) ListProducts(ctx context.Context, q ProductQuery, page int) (pagination.Page[Product], error) {
	return listPage[Product](ctx, c, ProductsPath, q.values(), page)
}

// ListBranches fetches one page of pharmacy branches.
func (c *Client) ListBranches(ctx context.Context, q BranchQuery, page int) (pagination.Page[Branch], error) {
	return listPage[Branch](ctx, c, BranchesPath, q.values(), page)
}

// ListAddresses fetches one page of the user's saved addresses. Requires a session.
func (c *Client) ListAddresses(ctx context.Context, page int) (pagination.Page[Address], error) {
	if err := c.requireSession(ctx); err != nil {
		return pagination.Page[Address]{}, err
	}
	return listPage[Address](ctx, c, AddressesPath, nil, page)
}

// ListOrders fetches one page of the user's orders. Requires a session.
func (c *Client) ListOrders(ctx context.Context, q OrderQuery, page int) (pagination.Page[Order], error) {
	if err := c.requireSession(ctx); err != nil {
		return pagination.Page[Order]{}, err
	}
	return listPage[Order](ctx, c, OrdersPath, q.values(), page)
}

// ProductPages returns a fetch function over the product list for q.
func (c *Client) ProductPages(q ProductQuery) pagination.FetchFunc[Product] {
	return func(ctx context.Context, page int) (pagination.Page[Product], error) {
		return c.ListProducts(ctx, q, page)
	}
}

// BranchPages returns a fetch function over the branch list for q.
func (c *Client) BranchPages(q BranchQuery) pagination.FetchFunc[Branch] {
	return func(ctx context.Context, page int) (pagination.Page[Branch], error) {
		return c.ListBranches(ctx, q, page)
	}
}

// AddressPages returns a fetch function over the user's addresses.
func (c *Client) AddressPages() pagination.FetchFunc[Address] {
	return c.ListAddresses
}

// OrderPages returns a fetch function over the user's orders for q.
func (c *Client) OrderPages(q OrderQuery) pagination.FetchFunc[Order] {
	return func(ctx context.Context, page int) (pagination.Page[Order], error) {
		return c.ListOrders(ctx, q, page)
	}
}

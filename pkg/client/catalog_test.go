package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/Sternrassler/storefront-client/internal/testutil"
	"github.com/Sternrassler/storefront-client/pkg/cache"
	"github.com/Sternrassler/storefront-client/pkg/pagination"
	"github.com/Sternrassler/storefront-client/pkg/secrets"
)

func productCatalog(n int) []any {
	items := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		category := "vitamins"
		if i%2 == 0 {
			category = "pain-relief"
		}
		items = append(items, Product{
			ID:       int64(i),
			Name:     fmt.Sprintf("Product %d", i),
			Category: category,
			Price:    float64(i) + 0.99,
			InStock:  true,
		})
	}
	return items
}

func TestQueryValues(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{name: "empty product query", got: ProductQuery{}.values().Encode(), want: ""},
		{
			name: "full product query",
			got:  ProductQuery{Search: "ibu", Category: "pain-relief", BranchID: 7, Ordering: "-price"}.values().Encode(),
			want: "branch=7&category=pain-relief&ordering=-price&search=ibu",
		},
		{name: "branch query", got: BranchQuery{City: "Riga"}.values().Encode(), want: "city=Riga"},
		{name: "order query", got: OrderQuery{Status: "delivered"}.values().Encode(), want: "status=delivered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("values() = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestListProducts_Pages(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetListing(ProductsPath, productCatalog(5), 2)

	client := newTestClient(t, redisClient, mock.URL())
	ctx := context.Background()

	tests := []struct {
		page     int
		wantIDs  []int64
		wantNext bool
	}{
		{page: 1, wantIDs: []int64{1, 2}, wantNext: true},
		{page: 2, wantIDs: []int64{3, 4}, wantNext: true},
		{page: 3, wantIDs: []int64{5}, wantNext: false},
		{page: 4, wantIDs: []int64{}, wantNext: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			page, err := client.ListProducts(ctx, ProductQuery{}, tt.page)
			if err != nil {
				t.Fatalf("ListProducts() failed: %v", err)
			}

			ids := []int64{}
			for _, p := range page.Data {
				ids = append(ids, p.ID)
			}
			if !reflect.DeepEqual(ids, tt.wantIDs) {
				t.Errorf("IDs = %v, want %v", ids, tt.wantIDs)
			}
			if page.HasNext() != tt.wantNext {
				t.Errorf("HasNext() = %v, want %v", page.HasNext(), tt.wantNext)
			}
		})
	}
}

func TestListProducts_InvalidPage(t *testing.T) {
	redisClient := setupTestRedis(t)
	client := newTestClient(t, redisClient, "http://example.com")

	if _, err := client.ListProducts(context.Background(), ProductQuery{}, 0); err == nil {
		t.Error("ListProducts(page 0) should fail")
	}
}

func TestListProducts_SendsQuery(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetListing(ProductsPath, productCatalog(6), 10)
	mock.FilterListing(ProductsPath, "category", func(item any) string {
		return item.(Product).Category
	})

	client := newTestClient(t, redisClient, mock.URL())

	page, err := client.ListProducts(context.Background(), ProductQuery{Category: "pain-relief", Search: "pro"}, 1)
	if err != nil {
		t.Fatalf("ListProducts() failed: %v", err)
	}

	if len(page.Data) != 3 {
		t.Errorf("len(Data) = %d, want 3 pain-relief products", len(page.Data))
	}
	requests := mock.GetRequests()
	if len(requests) != 1 || requests[0] != ProductsPath+"?category=pain-relief&page=1&search=pro" {
		t.Errorf("requests = %v", requests)
	}
}

func TestProductPages_WithPagedFetcher(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetListing(ProductsPath, productCatalog(7), 3)

	client := newTestClient(t, redisClient, mock.URL())

	fetcher := pagination.New(client.ProductPages(ProductQuery{}), pagination.WithName("products"))
	items, err := pagination.Drain(context.Background(), fetcher, 0)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}

	if len(items) != 7 {
		t.Errorf("len(items) = %d, want 7", len(items))
	}
	for i, p := range items {
		if p.ID != int64(i+1) {
			t.Errorf("items[%d].ID = %d, want %d", i, p.ID, i+1)
		}
	}
	if fetcher.HasMore() || fetcher.CurrentPage() != 4 {
		t.Errorf("HasMore() = %v, CurrentPage() = %d, want exhausted at page 4", fetcher.HasMore(), fetcher.CurrentPage())
	}
}

func TestProductPages_FailureKeepsPage(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetListing(ProductsPath, productCatalog(4), 2)

	client := newTestClient(t, redisClient, mock.URL())
	ctx := context.Background()

	fetcher := pagination.New(client.ProductPages(ProductQuery{}), pagination.WithName("products"))
	fetcher.Advance(ctx)

	// one more than the client retries
	mock.FailNext(ProductsPath, 3, testutil.NewServerErrorResponse())
	fetcher.Advance(ctx)

	if !errors.Is(fetcher.Err(), ErrRetryExhausted) {
		t.Errorf("Err() = %v, want ErrRetryExhausted", fetcher.Err())
	}
	if fetcher.Len() != 2 || fetcher.CurrentPage() != 2 {
		t.Errorf("Len() = %d, CurrentPage() = %d, want 2 and 2", fetcher.Len(), fetcher.CurrentPage())
	}

	fetcher.Advance(ctx)
	if fetcher.Err() != nil || fetcher.Len() != 4 {
		t.Errorf("after retry Err() = %v, Len() = %d, want nil and 4", fetcher.Err(), fetcher.Len())
	}
}

func TestListAddresses_RequiresSession(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetListing(AddressesPath, []any{Address{ID: 1, Label: "Home", City: "Riga", IsDefault: true}}, 10)
	mock.RequireAuth(AddressesPath)
	mock.SetCredentials("+37120000000", "s3cret", "access-1", "refresh-1")

	client := newTestClient(t, redisClient, mock.URL())
	ctx := context.Background()

	if _, err := client.ListAddresses(ctx, 1); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("ListAddresses() without session error = %v, want ErrNotAuthenticated", err)
	}
	if got := mock.GetRequestCount(); got != 0 {
		t.Errorf("server saw %d requests, want none without a session", got)
	}

	if err := client.Login(ctx, "+37120000000", "s3cret"); err != nil {
		t.Fatalf("Login() failed: %v", err)
	}

	page, err := client.ListAddresses(ctx, 1)
	if err != nil {
		t.Fatalf("ListAddresses() failed: %v", err)
	}
	if len(page.Data) != 1 || page.Data[0].Label != "Home" {
		t.Errorf("Data = %+v, want the home address", page.Data)
	}
}

func TestListOrders_ExpiredSession(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetListing(OrdersPath, []any{Order{ID: 10, Status: "delivered"}}, 10)
	mock.RequireAuth(OrdersPath)
	mock.SetCredentials("+37120000000", "s3cret", "access-1", "refresh-1")

	client := newTestClient(t, redisClient, mock.URL())
	ctx := context.Background()
	client.Secrets().Set(ctx, secrets.KeyAccessToken, "stale-token")

	_, err := client.ListOrders(ctx, OrderQuery{}, 1)
	if !IsAuth(err) {
		t.Errorf("ListOrders() error = %v, want auth error", err)
	}
	if IsRetryable(err) {
		t.Error("auth errors should not be retried")
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("server saw %d requests, want 1 (no retry for 401)", got)
	}
}

func TestLogin(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetCredentials("+37120000000", "s3cret", "access-1", "refresh-1")

	tests := []struct {
		name      string
		phone     string
		password  string
		wantErr   bool
		wantAuth  bool
		wantToken string
	}{
		{name: "valid credentials", phone: "+37120000000", password: "s3cret", wantToken: "access-1"},
		{name: "wrong password", phone: "+37120000000", password: "nope", wantErr: true, wantAuth: true},
		{name: "missing phone", password: "s3cret", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, redisClient, mock.URL())
			ctx := context.Background()

			err := client.Login(ctx, tt.phone, tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Login() error = %v, wantErr %v", err, tt.wantErr)
			}
			if IsAuth(err) != tt.wantAuth {
				t.Errorf("IsAuth(%v) = %v, want %v", err, IsAuth(err), tt.wantAuth)
			}

			token, _ := client.Secrets().Get(ctx, secrets.KeyAccessToken)
			if token != tt.wantToken {
				t.Errorf("stored access token = %q, want %q", token, tt.wantToken)
			}
			if client.Authenticated(ctx) != (tt.wantToken != "") {
				t.Errorf("Authenticated() = %v", client.Authenticated(ctx))
			}
		})
	}
}

func TestLogout(t *testing.T) {
	redisClient := setupTestRedis(t)
	client := newTestClient(t, redisClient, "http://example.com")
	ctx := context.Background()

	// no session yet
	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() without session failed: %v", err)
	}

	client.Secrets().Set(ctx, secrets.KeyAccessToken, "access-1")
	client.Secrets().Set(ctx, secrets.KeyRefreshToken, "refresh-1")

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() failed: %v", err)
	}
	for _, key := range []string{secrets.KeyAccessToken, secrets.KeyRefreshToken} {
		if _, err := client.Secrets().Get(ctx, key); !errors.Is(err, secrets.ErrNotFound) {
			t.Errorf("Get(%q) error = %v, want ErrNotFound", key, err)
		}
	}
}

func TestPlaceOrder(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()

	var received OrderRequest
	mock.SetHandler(OrdersPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer access-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Order{
			ID:       99,
			Status:   "pending",
			BranchID: received.BranchID,
			Items:    received.Items,
			Total:    9.9,
		})
	})

	client := newTestClient(t, redisClient, mock.URL())
	ctx := context.Background()

	request := OrderRequest{
		BranchID:      7,
		Items:         []OrderItem{{ProductID: 1, Quantity: 2}},
		PaymentMethod: "card_on_delivery",
	}

	if _, err := client.PlaceOrder(ctx, request); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("PlaceOrder() without session error = %v, want ErrNotAuthenticated", err)
	}

	client.Secrets().Set(ctx, secrets.KeyAccessToken, "access-1")

	order, err := client.PlaceOrder(ctx, request)
	if err != nil {
		t.Fatalf("PlaceOrder() failed: %v", err)
	}
	if order.ID != 99 || order.Status != "pending" || order.BranchID != 7 {
		t.Errorf("order = %+v, want pending order 99 at branch 7", order)
	}
	if !reflect.DeepEqual(received.Items, request.Items) || received.PaymentMethod != "card_on_delivery" {
		t.Errorf("backend received %+v, want %+v", received, request)
	}
}

func TestLogout_DropsCachedPages(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()
	mock.SetListing(ProductsPath, productCatalog(3), 10)
	mock.SetListing(AddressesPath, []any{Address{ID: 1, Label: "Home", City: "Riga"}}, 10)
	mock.RequireAuth(AddressesPath)

	client := newTestClient(t, redisClient, mock.URL())
	ctx := context.Background()
	client.Secrets().Set(ctx, secrets.KeyAccessToken, "access-1")

	if _, err := client.ListAddresses(ctx, 1); err != nil {
		t.Fatalf("ListAddresses() failed: %v", err)
	}
	if _, err := client.ListProducts(ctx, ProductQuery{}, 1); err != nil {
		t.Fatalf("ListProducts() failed: %v", err)
	}

	page1 := url.Values{"page": {"1"}}
	addresses := cache.Key{Endpoint: AddressesPath, QueryParams: page1, Principal: principalOf("access-1")}
	products := cache.Key{Endpoint: ProductsPath, QueryParams: page1, Principal: principalOf("access-1")}
	if _, err := client.GetCache().Get(ctx, addresses); err != nil {
		t.Fatalf("address page not cached before logout: %v", err)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout() failed: %v", err)
	}

	for name, key := range map[string]cache.Key{"addresses": addresses, "products": products} {
		if _, err := client.GetCache().Get(ctx, key); !errors.Is(err, cache.ErrCacheMiss) {
			t.Errorf("%s page after logout: error = %v, want ErrCacheMiss", name, err)
		}
	}
}

func TestPlaceOrder_DropsCachedOrderHistory(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockStorefront()
	defer mock.Close()

	mock.SetHandler(OrdersPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(Order{ID: 11, Status: "pending", BranchID: 7})
			return
		}
		w.Header().Set("ETag", `"orders-v1"`)
		w.Header().Set("Cache-Control", "private, max-age=60")
		json.NewEncoder(w).Encode(map[string]any{
			"data": []Order{{ID: 10, Status: "delivered"}},
			"next": nil,
		})
	})

	client := newTestClient(t, redisClient, mock.URL())
	ctx := context.Background()
	client.Secrets().Set(ctx, secrets.KeyAccessToken, "access-1")

	if _, err := client.ListOrders(ctx, OrderQuery{}, 1); err != nil {
		t.Fatalf("ListOrders() failed: %v", err)
	}
	history := cache.Key{Endpoint: OrdersPath, QueryParams: url.Values{"page": {"1"}}, Principal: principalOf("access-1")}
	if _, err := client.GetCache().Get(ctx, history); err != nil {
		t.Fatalf("order history not cached: %v", err)
	}

	if _, err := client.PlaceOrder(ctx, OrderRequest{BranchID: 7, Items: []OrderItem{{ProductID: 1, Quantity: 1}}}); err != nil {
		t.Fatalf("PlaceOrder() failed: %v", err)
	}

	if _, err := client.GetCache().Get(ctx, history); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("order history after PlaceOrder: error = %v, want ErrCacheMiss", err)
	}

	if _, err := client.ListOrders(ctx, OrderQuery{}, 1); err != nil {
		t.Fatalf("ListOrders() after order failed: %v", err)
	}
	if got := mock.GetConditionalCount(); got != 0 {
		t.Errorf("conditional requests = %d, want a fresh fetch after the order", got)
	}
}

package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
)

// FakeOrder is one order served by FakeStorefront.
type FakeOrder struct {
	Code       string
	Status     string
	ChangeTime string
	Customer   string
	Items      []FakeItem
}

// FakeItem is one order line of a FakeOrder.
type FakeItem struct {
	VariantCode string
	Amount      float64
	TotalPrice  float64
}

// FakeStorefront serves the order endpoints of the storefront API.
type FakeStorefront struct {
	Server *httptest.Server
	Token  string

	mu      sync.Mutex
	orders  []FakeOrder
	lists   atomic.Int64
	details atomic.Int64
}

// NewFakeStorefront starts a storefront API that accepts token.
func NewFakeStorefront(token string, orders ...FakeOrder) *FakeStorefront {
	f := &FakeStorefront{Token: token, orders: orders}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/orders", f.listOrders)
	mux.HandleFunc("GET /api/orders/{code}", f.orderDetail)
	f.Server = httptest.NewServer(f.authorize(mux))
	return f
}

// Close stops the server.
func (f *FakeStorefront) Close() {
	f.Server.Close()
}

// URL returns the API base URL.
func (f *FakeStorefront) URL() string {
	return f.Server.URL
}

// ListCalls returns how many list pages were served.
func (f *FakeStorefront) ListCalls() int64 {
	return f.lists.Load()
}

// DetailCalls returns how many order details were served.
func (f *FakeStorefront) DetailCalls() int64 {
	return f.details.Load()
}

func (f *FakeStorefront) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Access-Token") != f.Token {
			http.Error(w, `{"errors":[{"message":"invalid token"}]}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeStorefront) listOrders(w http.ResponseWriter, _ *http.Request) {
	f.lists.Add(1)
	f.mu.Lock()
	orders := make([]map[string]any, 0, len(f.orders))
	for _, o := range f.orders {
		orders = append(orders, orderJSON(o, false))
	}
	f.mu.Unlock()

	writeJSON(w, map[string]any{
		"data": map[string]any{
			"orders": orders,
			"paginator": map[string]any{
				"totalCount":   len(orders),
				"page":         1,
				"pageCount":    1,
				"itemsPerPage": 50,
			},
		},
	})
}

func (f *FakeStorefront) orderDetail(w http.ResponseWriter, r *http.Request) {
	f.details.Add(1)
	code := r.PathValue("code")

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if strings.EqualFold(o.Code, code) {
			writeJSON(w, map[string]any{"data": map[string]any{"order": orderJSON(o, true)}})
			return
		}
	}
	http.Error(w, fmt.Sprintf(`{"errors":[{"message":"order %s not found"}]}`, code), http.StatusNotFound)
}

func orderJSON(o FakeOrder, withItems bool) map[string]any {
	order := map[string]any{
		"code":         o.Code,
		"status":       map[string]any{"name": o.Status},
		"creationTime": o.ChangeTime,
		"changeTime":   o.ChangeTime,
		"price":        map[string]any{"currencyCode": "CZK", "withVat": "100.00"},
	}
	if o.Customer != "" {
		order["customer"] = map[string]any{"guid": o.Customer, "email": o.Customer + "@example.com"}
	}
	if withItems {
		items := make([]map[string]any, 0, len(o.Items))
		for _, it := range o.Items {
			items = append(items, map[string]any{
				"code":           it.VariantCode,
				"name":           it.VariantCode,
				"amount":         it.Amount,
				"itemPriceTotal": map[string]any{"withVat": it.TotalPrice},
			})
		}
		order["items"] = items
	}
	return order
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

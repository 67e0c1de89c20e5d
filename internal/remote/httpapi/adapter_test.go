package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepilot/sync-orchestrator/internal/remote"
)

const listPayload = `{
  "data": {
    "orders": [
      {
        "code": "2025000101",
        "status": {"id": -2, "name": "Vyřízena"},
        "creationTime": "2025-03-01T10:00:00+0100",
        "changeTime": "2025-03-02T11:30:00+0100",
        "price": {"currencyCode": "CZK", "withVat": "1210.00", "withVatInBaseCurrency": "1210.00"},
        "customer": {"guid": "c-1", "email": "jana@example.com", "fullName": "Jana Nováková"}
      },
      {
        "code": "2025000102",
        "status": "new",
        "creationTime": "2025-03-02T08:00:00Z",
        "changeTime": "2025-03-02T09:00:00Z",
        "price": {"currencyCode": "EUR", "withVat": 40.5, "withVatInBaseCurrency": null},
        "items": [
          {"code": "V-1", "productGuid": "p-1", "name": "Mug", "amount": "2.000",
           "itemPrice": {"withVat": "20.25"}, "itemPriceTotal": {"withVat": "40.50"}}
        ]
      }
    ],
    "paginator": {"totalCount": 120, "page": 2, "pageCount": 3, "itemsOnPage": 2, "itemsPerPage": 50}
  }
}`

func newTestAdapter(t *testing.T, handler http.HandlerFunc, opts ...Option) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	opts = append([]Option{WithRetryInterval(time.Millisecond)}, opts...)
	a, err := New(server.URL, "token-1", opts...)
	require.NoError(t, err)
	return a
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New("not a url", "t")
	require.Error(t, err)
	_, err = New("https://api.example.com", "t", WithRetryInterval(0))
	require.Error(t, err)
	_, err = New("https://api.example.com", "t", WithHTTPClient(nil))
	require.Error(t, err)
}

func TestListOrders(t *testing.T) {
	t.Parallel()

	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("itemsPerPage"))
		assert.Equal(t, "2025-03-01T00:00:00Z", r.URL.Query().Get("changeTimeFrom"))
		assert.False(t, r.URL.Query().Has("changeTimeTo"))
		assert.Equal(t, "token-1", r.Header.Get(TokenHeader))
		assert.Equal(t, "ext-7", r.Header.Get(ShopHeader))
		_, _ = w.Write([]byte(listPayload))
	})

	shop := remote.Shop{ID: 7, ExternalID: "ext-7"}
	page, err := a.ListOrders(context.Background(), shop, remote.Filter{PerPage: 50, ChangeTimeFrom: &from}, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.PageCount)
	assert.Equal(t, 120, page.Total)
	assert.Equal(t, 50, page.PerPage)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, "2025000101", first.Code)
	assert.Equal(t, "Vyřízena", first.Status)
	assert.Equal(t, time.Date(2025, 3, 2, 10, 30, 0, 0, time.UTC), first.ChangeTime)
	require.NotNil(t, first.TotalAmount)
	assert.InDelta(t, 1210.0, *first.TotalAmount, 0.001)
	require.NotNil(t, first.Customer)
	assert.Equal(t, "c-1", first.Customer.GUID)
	assert.Equal(t, "Jana Nováková", first.Customer.FullName)
	assert.False(t, first.HasItems())
	assert.Nil(t, first.Items)
	assert.Contains(t, string(first.Raw), `"code": "2025000101"`)

	second := page.Items[1]
	assert.Equal(t, "new", second.Status)
	assert.Nil(t, second.TotalAmountBase)
	assert.Nil(t, second.Customer)
	require.True(t, second.HasItems())
	assert.Equal(t, "V-1", second.Items[0].VariantCode)
	assert.InDelta(t, 2.0, second.Items[0].Quantity, 0.001)
	require.NotNil(t, second.Items[0].TotalPrice)
	assert.InDelta(t, 40.5, *second.Items[0].TotalPrice, 0.001)
	assert.Nil(t, second.Items[0].TotalPriceBase)
}

func TestListOrdersMetaFallback(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"orders":[]},"meta":{"page":1,"page_count":0,"total":0,"per_page":25}}`))
	})

	page, err := a.ListOrders(context.Background(), remote.Shop{ID: 1}, remote.Filter{}, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 25, page.PerPage)
}

func TestListOrdersRejectsBadPayloads(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
	}{
		{name: "orders is an object", payload: `{"data":{"orders":{"code":"x"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.payload))
			})
			_, err := a.ListOrders(context.Background(), remote.Shop{ID: 1}, remote.Filter{}, 1)
			require.Error(t, err)
		})
	}

	a := newTestAdapter(t, func(http.ResponseWriter, *http.Request) {
		t.Error("request must not be sent")
	})
	_, err := a.ListOrders(context.Background(), remote.Shop{ID: 1}, remote.Filter{}, 0)
	require.Error(t, err)
}

func TestListOrdersSkipsUndecodableOrders(t *testing.T) {
	t.Parallel()

	const valid = `{"code":"A1","creationTime":"2025-01-01T00:00:00Z","changeTime":"2025-01-02T00:00:00Z"}`
	tests := []struct {
		name    string
		broken  string
		skipped int
	}{
		{name: "empty change time", broken: `{"code":"A2","creationTime":"2025-01-01T00:00:00Z","changeTime":""}`, skipped: 1},
		{name: "bad change time", broken: `{"code":"A2","creationTime":"2025-01-01T00:00:00Z","changeTime":"yesterday"}`, skipped: 1},
		{name: "bad creation time", broken: `{"code":"A2","creationTime":"soon","changeTime":"2025-01-02T00:00:00Z"}`, skipped: 1},
		{name: "missing code", broken: `{"changeTime":"2025-01-02T00:00:00Z"}`, skipped: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload := `{"data":{"orders":[` + valid + `,` + tt.broken + `],"paginator":{"page":1,"pageCount":2}}}`
			a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(payload))
			})

			page, err := a.ListOrders(context.Background(), remote.Shop{ID: 1}, remote.Filter{}, 1)
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, "A1", page.Items[0].Code)
			assert.Equal(t, tt.skipped, page.Skipped)
			assert.Equal(t, 2, page.PageCount)
		})
	}
}

func TestGetOrderDetail(t *testing.T) {
	t.Parallel()

	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders/2025%2F01", r.URL.EscapedPath())
		assert.Equal(t, "items", r.URL.Query().Get("include"))
		_, _ = w.Write([]byte(`{"data":{"order":{
			"code":"2025/01","creationTime":"2025-01-01T00:00:00Z","changeTime":"2025-01-02T00:00:00Z",
			"items":[{"code":"V-9","name":"Plate","amount":1}]}}}`))
	})

	order, err := a.GetOrderDetail(context.Background(), remote.Shop{ID: 1}, "2025/01")
	require.NoError(t, err)
	assert.Equal(t, "2025/01", order.Code)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "V-9", order.Items[0].VariantCode)

	_, err = a.GetOrderDetail(context.Background(), remote.Shop{ID: 1}, "")
	require.Error(t, err)
}

func TestRateLimitRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"orders":[]}}`))
	})

	page, err := a.ListOrders(context.Background(), remote.Shop{ID: 1}, remote.Filter{}, 1)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitGivesUp(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithMaxRetries(2))

	_, err := a.ListOrders(context.Background(), remote.Shop{ID: 1}, remote.Filter{}, 1)
	require.Error(t, err)

	var httpErr *remote.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, httpErr.IsRateLimited())
	assert.Equal(t, int32(3), calls.Load())
}

func TestAuthErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := a.GetOrderDetail(context.Background(), remote.Shop{ID: 1}, "A")
	require.Error(t, err)

	var httpErr *remote.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.True(t, httpErr.IsAuthExpired())
	assert.Equal(t, int32(1), calls.Load())
}

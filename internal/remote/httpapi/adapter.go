// Package httpapi implements remote.Client over the platforms' JSON REST APIs.
//
// Both the storefront and the marketplace expose the same order resource
// layout:
//
//	GET {base}/api/orders?page=N&itemsPerPage=M&changeTimeFrom=...
//	GET {base}/api/orders/{code}?include=items
//
// List responses carry the orders under data.orders and the pagination meta
// under data.paginator (older marketplace deployments use a top level meta
// object with snake_case keys instead).
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	"github.com/storepilot/sync-orchestrator/internal/httpclient"
	"github.com/storepilot/sync-orchestrator/internal/remote"
)

const (
	// TokenHeader carries the API access token
	TokenHeader = "X-Access-Token"
	// ShopHeader carries the external id of the shop
	ShopHeader = "X-Shop-Id"

	defaultMaxRetries    = 3
	defaultRetryInterval = 500 * time.Millisecond
)

// Adapter is a remote.Client over HTTP.
type Adapter struct {
	http          httpclient.Client
	baseURL       string
	token         string
	maxRetries    uint
	retryInterval time.Duration
	logger        *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter) error

// WithHTTPClient replaces the HTTP transport.
func WithHTTPClient(client httpclient.Client) Option {
	return func(a *Adapter) error {
		if client == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		a.http = client
		return nil
	}
}

// WithMaxRetries sets how many times a rate limited request is retried.
func WithMaxRetries(n uint) Option {
	return func(a *Adapter) error {
		a.maxRetries = n
		return nil
	}
}

// WithRetryInterval sets the initial backoff when the remote sends no Retry-After.
func WithRetryInterval(d time.Duration) Option {
	return func(a *Adapter) error {
		if d <= 0 {
			return fmt.Errorf("retry interval must be positive")
		}
		a.retryInterval = d
		return nil
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) error {
		a.logger = logger
		return nil
	}
}

// New creates an Adapter for the API at baseURL authenticated with token.
func New(baseURL, token string, opts ...Option) (*Adapter, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}

	a := &Adapter{
		http:          httpclient.NewDefaultClient(0),
		baseURL:       strings.TrimRight(baseURL, "/"),
		token:         token,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// ListOrders implements remote.Client.
func (a *Adapter) ListOrders(ctx context.Context, shop remote.Shop, filter remote.Filter, page int) (*remote.OrderPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be at least 1, got %d", page)
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	for key, value := range filter.Values() {
		query.Set(key, value)
	}

	body, err := a.get(ctx, shop, a.baseURL+"/api/orders?"+query.Encode())
	if err != nil {
		return nil, err
	}

	orders := gjson.GetBytes(body, "data.orders")
	if orders.Exists() && !orders.IsArray() {
		return nil, fmt.Errorf("unexpected orders payload for shop %d: not an array", shop.ID)
	}

	result := &remote.OrderPage{
		Items:     make([]remote.Order, 0, len(orders.Array())),
		Page:      firstInt(body, "data.paginator.page", "meta.page"),
		PageCount: firstInt(body, "data.paginator.pageCount", "meta.page_count"),
		Total:     firstInt(body, "data.paginator.totalCount", "meta.total"),
		PerPage:   firstInt(body, "data.paginator.itemsPerPage", "meta.per_page"),
	}
	for _, item := range orders.Array() {
		order, err := parseOrder(item)
		if err != nil {
			// One broken order must not block the rest of the shop's sync.
			result.Skipped++
			a.logger.WarnContext(ctx, "Skipping order that cannot be decoded",
				"shop_id", shop.ID,
				"page", page,
				"order_code", item.Get("code").String(),
				"error", err)
			continue
		}
		result.Items = append(result.Items, *order)
	}
	return result, nil
}

// GetOrderDetail implements remote.Client.
func (a *Adapter) GetOrderDetail(ctx context.Context, shop remote.Shop, code string) (*remote.Order, error) {
	if code == "" {
		return nil, fmt.Errorf("order code is required")
	}

	body, err := a.get(ctx, shop, a.baseURL+"/api/orders/"+url.PathEscape(code)+"?include=items")
	if err != nil {
		return nil, err
	}

	order := gjson.GetBytes(body, "data.order")
	if !order.Exists() {
		return nil, fmt.Errorf("order %s: response has no data.order", code)
	}
	return parseOrder(order)
}

// get performs the request, retrying while the remote answers 429.
func (a *Adapter) get(ctx context.Context, shop remote.Shop, endpoint string) ([]byte, error) {
	header := http.Header{}
	header.Set(TokenHeader, a.token)
	if shop.ExternalID != "" {
		header.Set(ShopHeader, shop.ExternalID)
	}

	var lastErr error
	operation := func() ([]byte, error) {
		body, err := a.http.Get(ctx, endpoint, header)
		if err == nil {
			return body, nil
		}
		lastErr = err

		httpErr, ok := httpclient.AsHTTPError(err)
		if !ok || !httpErr.IsRateLimited() {
			return nil, backoff.Permanent(err)
		}
		if httpErr.RetryAfter > 0 {
			return nil, backoff.RetryAfter(int(math.Ceil(httpErr.RetryAfter.Seconds())))
		}
		return nil, err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = a.retryInterval

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(a.maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.WarnContext(ctx, "Remote API rate limited, retrying",
				"shop_id", shop.ID,
				"url", endpoint,
				"retry_in", next,
				"error", err)
		}),
	)
	if err != nil {
		// Report the HTTP error rather than the retry-after marker of the last attempt.
		var retryAfter *backoff.RetryAfterError
		if errors.As(err, &retryAfter) && lastErr != nil {
			return nil, lastErr
		}
		return nil, err
	}
	return body, nil
}

func parseOrder(node gjson.Result) (*remote.Order, error) {
	code := node.Get("code").String()
	if code == "" {
		return nil, fmt.Errorf("order without code")
	}

	changeTime, err := parseTime(node.Get("changeTime").String())
	if err != nil {
		return nil, fmt.Errorf("order %s: invalid changeTime: %w", code, err)
	}
	createdAt, err := parseTime(node.Get("creationTime").String())
	if err != nil {
		return nil, fmt.Errorf("order %s: invalid creationTime: %w", code, err)
	}

	order := &remote.Order{
		Code:            code,
		Status:          firstString(node, "status.name", "status"),
		CreatedAt:       createdAt,
		ChangeTime:      changeTime,
		Currency:        node.Get("price.currencyCode").String(),
		TotalAmount:     optionalFloat(node.Get("price.withVat")),
		TotalAmountBase: optionalFloat(node.Get("price.withVatInBaseCurrency")),
		Raw:             []byte(node.Raw),
	}

	if customer := node.Get("customer"); customer.IsObject() {
		order.Customer = &remote.Customer{
			GUID:     customer.Get("guid").String(),
			Email:    firstString(customer, "email", "billingAddress.email"),
			FullName: firstString(customer, "fullName", "billingAddress.fullName"),
			Raw:      []byte(customer.Raw),
		}
	}

	items := node.Get("items")
	if items.IsArray() {
		order.Items = make([]remote.OrderItem, 0, len(items.Array()))
	}
	for _, item := range items.Array() {
		order.Items = append(order.Items, remote.OrderItem{
			VariantCode:    item.Get("code").String(),
			ProductGUID:    item.Get("productGuid").String(),
			Name:           item.Get("name").String(),
			Quantity:       item.Get("amount").Float(),
			UnitPrice:      optionalFloat(item.Get("itemPrice.withVat")),
			TotalPrice:     optionalFloat(item.Get("itemPriceTotal.withVat")),
			TotalPriceBase: optionalFloat(item.Get("itemPriceTotal.withVatInBaseCurrency")),
		})
	}
	return order, nil
}

var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05-0700"}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", value)
}

func optionalFloat(r gjson.Result) *float64 {
	if !r.Exists() || r.Type == gjson.Null || r.String() == "" {
		return nil
	}
	v := r.Float()
	return &v
}

func firstInt(body []byte, paths ...string) int {
	for _, path := range paths {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type != gjson.Null {
			return int(r.Int())
		}
	}
	return 0
}

func firstString(node gjson.Result, paths ...string) string {
	for _, path := range paths {
		if r := node.Get(path); r.Exists() && r.Type == gjson.String {
			return r.String()
		}
	}
	return ""
}

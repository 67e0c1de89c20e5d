// Package remote defines the contract of the external e-commerce platforms
// the orchestrator pulls orders from.
package remote

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Platform names a kind of remote API
type Platform string

const (
	// PlatformStorefront is the primary storefront API
	PlatformStorefront Platform = "storefront"
	// PlatformMarketplace is the secondary marketplace API
	PlatformMarketplace Platform = "marketplace"
)

// Shop identifies one connected remote account.
type Shop struct {
	ID         int64
	Name       string
	Platform   Platform
	ExternalID string
	Active     bool
}

// Filter narrows a ListOrders call. Nil and empty fields are not sent.
type Filter struct {
	PerPage        int
	ChangeTimeFrom *time.Time
	ChangeTimeTo   *time.Time
	Statuses       []string
}

// Values returns the filter as request parameters with empty values stripped.
func (f Filter) Values() map[string]string {
	values := map[string]string{}
	if f.PerPage > 0 {
		values["itemsPerPage"] = strconv.Itoa(f.PerPage)
	}
	if f.ChangeTimeFrom != nil && !f.ChangeTimeFrom.IsZero() {
		values["changeTimeFrom"] = f.ChangeTimeFrom.UTC().Format(time.RFC3339)
	}
	if f.ChangeTimeTo != nil && !f.ChangeTimeTo.IsZero() {
		values["changeTimeTo"] = f.ChangeTimeTo.UTC().Format(time.RFC3339)
	}
	statuses := make([]string, 0, len(f.Statuses))
	for _, s := range f.Statuses {
		if s != "" {
			statuses = append(statuses, s)
		}
	}
	if len(statuses) > 0 {
		values["statusIds"] = strings.Join(statuses, ",")
	}
	return values
}

// Order is an order as returned by a remote API. Summaries from ListOrders
// usually carry no Items; GetOrderDetail fills them in. Nil Items means the
// lines are unknown, an empty slice means the order has none.
type Order struct {
	Code            string
	Status          string
	CreatedAt       time.Time
	ChangeTime      time.Time
	Currency        string
	TotalAmount     *float64
	TotalAmountBase *float64
	Customer        *Customer
	Items           []OrderItem
	Raw             json.RawMessage
}

// HasItems reports whether the order already carries its line items.
func (o *Order) HasItems() bool {
	return o != nil && len(o.Items) > 0
}

// Customer is the buyer of an order. GUID is empty for guest checkouts.
type Customer struct {
	GUID     string
	Email    string
	FullName string
	Raw      json.RawMessage
}

// OrderItem is one line of an order.
type OrderItem struct {
	VariantCode    string
	ProductGUID    string
	Name           string
	Quantity       float64
	UnitPrice      *float64
	TotalPrice     *float64
	TotalPriceBase *float64
}

// OrderPage is one page of a ListOrders response. Page, PageCount, Total and
// PerPage are zero when the remote did not report them.
type OrderPage struct {
	Items []Order
	// Skipped counts orders of the page that could not be decoded and were
	// left out of Items.
	Skipped   int
	Page      int
	PageCount int
	Total     int
	PerPage   int
}

package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// DemoToolkit is the in-process Toolkit used when no external data
// service is configured. It serves a small seeded storefront dataset.
type DemoToolkit struct {
	mu        sync.RWMutex
	customers map[string]map[string]interface{}
	orders    map[string]map[string]interface{}
	payments  map[string]map[string]interface{}
	products  []map[string]interface{}
}

// NewDemoToolkit seeds the dataset.
func NewDemoToolkit() *DemoToolkit {
	return &DemoToolkit{
		customers: map[string]map[string]interface{}{
			"CUST-1001": {
				"id":     "CUST-1001",
				"name":   "Maya Chen",
				"email":  "maya.chen@example.com",
				"tier":   "gold",
				"joined": "2023-02-14",
			},
			"CUST-2001": {
				"id":     "CUST-2001",
				"name":   "Sam Okafor",
				"email":  "sam.okafor@example.com",
				"tier":   "silver",
				"joined": "2024-07-01",
			},
		},
		orders: map[string]map[string]interface{}{
			"ORD-10001": {
				"id":       "ORD-10001",
				"customer": "CUST-1001",
				"status":   "shipped",
				"carrier":  "UPS",
				"eta":      "2 days",
				"items":    []string{"wireless headphones", "usb-c cable"},
			},
			"ORD-10002": {
				"id":       "ORD-10002",
				"customer": "CUST-2001",
				"status":   "processing",
				"carrier":  "",
				"eta":      "5 days",
				"items":    []string{"running shoes"},
			},
		},
		payments: map[string]map[string]interface{}{
			"ORD-10001": {
				"order":  "ORD-10001",
				"method": "visa ending 4242",
				"amount": 89.99,
				"status": "charged",
			},
			"ORD-10002": {
				"order":  "ORD-10002",
				"method": "paypal",
				"amount": 129.00,
				"status": "pending",
			},
		},
		products: []map[string]interface{}{
			{"name": "wireless headphones", "category": "electronics", "price": 79.99},
			{"name": "mechanical keyboard", "category": "electronics", "price": 119.00},
			{"name": "running shoes", "category": "sports", "price": 129.00},
			{"name": "yoga mat", "category": "sports", "price": 34.50},
			{"name": "linen shirt", "category": "clothing", "price": 45.00},
			{"name": "cast iron skillet", "category": "home", "price": 39.99},
			{"name": "science fiction anthology", "category": "books", "price": 18.25},
		},
	}
}

func (d *DemoToolkit) LookupCustomer(_ context.Context, customerID string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.customers[customerID]
	if !ok {
		return nil, fmt.Errorf("customer %s not found", customerID)
	}
	return c, nil
}

func (d *DemoToolkit) TrackOrder(_ context.Context, orderID string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return o, nil
}

func (d *DemoToolkit) SearchProducts(_ context.Context, query, category string, maxResults int) (interface{}, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	q := strings.ToLower(query)

	d.mu.RLock()
	defer d.mu.RUnlock()
	var hits []map[string]interface{}
	for _, p := range d.products {
		if category != "" && !strings.EqualFold(p["category"].(string), category) {
			continue
		}
		name := p["name"].(string)
		if q == "" || strings.Contains(name, q) || strings.Contains(q, name) || category != "" {
			hits = append(hits, p)
		}
		if len(hits) >= maxResults {
			break
		}
	}
	return map[string]interface{}{"query": query, "category": category, "results": hits}, nil
}

func (d *DemoToolkit) PaymentInfo(_ context.Context, orderID string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.payments[orderID]
	if !ok {
		return nil, fmt.Errorf("no payment record for order %s", orderID)
	}
	return p, nil
}

func (d *DemoToolkit) Recommendations(_ context.Context, customerID, category string) (interface{}, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var picks []map[string]interface{}
	for _, p := range d.products {
		if category != "" && !strings.EqualFold(p["category"].(string), category) {
			continue
		}
		picks = append(picks, p)
		if len(picks) >= 3 {
			break
		}
	}
	return map[string]interface{}{"customer": customerID, "recommendations": picks}, nil
}

var _ Toolkit = (*DemoToolkit)(nil)

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	customerIDPattern = regexp.MustCompile(`(?i)CUST-\d+`)
	orderIDPattern    = regexp.MustCompile(`(?i)ORD-\d+`)
)

var productCategories = []string{"electronics", "clothing", "home", "books", "sports"}

// Toolkit provides the storefront lookups the built-in agents call.
// Implementations are external collaborators (data service clients).
type Toolkit interface {
	LookupCustomer(ctx context.Context, customerID string) (interface{}, error)
	TrackOrder(ctx context.Context, orderID string) (interface{}, error)
	SearchProducts(ctx context.Context, query, category string, maxResults int) (interface{}, error)
	PaymentInfo(ctx context.Context, orderID string) (interface{}, error)
	Recommendations(ctx context.Context, customerID, category string) (interface{}, error)
}

// queryInputSchema is the input contract shared by the built-in agents.
const queryInputSchema = `{
	"type": "object",
	"required": ["query"],
	"properties": {
		"query": {"type": "string", "minLength": 1}
	}
}`

// RegisterBuiltins registers the storefront agent set. Registration
// order matters: routing ties resolve to the earliest registration, and
// "general" is the configured fallback.
func RegisterBuiltins(r *Registry, tk Toolkit) error {
	builtins := []struct {
		card    Card
		handler Handler
	}{
		{
			card: Card{
				ID:              "customer_info",
				Name:            "Customer Info",
				Description:     "Looks up customer account details by customer id.",
				Capabilities:    []string{"customer_lookup"},
				RoutingKeywords: []string{"customer", "account", "profile"},
				InputSchema:     json.RawMessage(queryInputSchema),
			},
			handler: customerInfoHandler(tk),
		},
		{
			card: Card{
				ID:              "order_tracking",
				Name:            "Order Tracking",
				Description:     "Reports order status and delivery progress by order id.",
				Capabilities:    []string{"order_tracking"},
				RoutingKeywords: []string{"order", "track", "delivery", "shipping"},
				InputSchema:     json.RawMessage(queryInputSchema),
			},
			handler: orderTrackingHandler(tk),
		},
		{
			card: Card{
				ID:              "product_search",
				Name:            "Product Search",
				Description:     "Searches the catalog, optionally filtered by category.",
				Capabilities:    []string{"product_search"},
				RoutingKeywords: []string{"search", "product", "find", "looking for"},
				InputSchema:     json.RawMessage(queryInputSchema),
			},
			handler: productSearchHandler(tk),
		},
		{
			card: Card{
				ID:              "payment_info",
				Name:            "Payment Info",
				Description:     "Reports payment and refund state for an order.",
				Capabilities:    []string{"payment_lookup"},
				RoutingKeywords: []string{"payment", "refund", "charge", "billing", "invoice"},
				InputSchema:     json.RawMessage(queryInputSchema),
			},
			handler: paymentInfoHandler(tk),
		},
		{
			card: Card{
				ID:              "recommendation",
				Name:            "Recommendations",
				Description:     "Suggests products based on customer history and category.",
				Capabilities:    []string{"recommendations"},
				RoutingKeywords: []string{"recommend", "suggest", "suggestion"},
				InputSchema:     json.RawMessage(queryInputSchema),
			},
			handler: recommendationHandler(tk),
		},
		{
			card: Card{
				ID:          "general",
				Name:        "General Assistant",
				Description: "Fallback agent for queries no specialist matches.",
			},
			handler: generalHandler(),
		},
	}

	for _, b := range builtins {
		if err := r.Register(b.card, b.handler); err != nil {
			return fmt.Errorf("register builtin %s: %w", b.card.ID, err)
		}
	}
	return nil
}

func queryFrom(payload map[string]interface{}) string {
	q, _ := payload["query"].(string)
	return q
}

func customerInfoHandler(tk Toolkit) Handler {
	return func(ctx context.Context, payload map[string]interface{}, _ *HandlerContext) (interface{}, error) {
		query := queryFrom(payload)
		customerID := strings.ToUpper(customerIDPattern.FindString(query))
		if customerID == "" {
			return map[string]interface{}{
				"response": "Could you please provide your customer ID? It should be in the format CUST-XXXX.",
			}, nil
		}
		info, err := tk.LookupCustomer(ctx, customerID)
		if err != nil {
			return nil, fmt.Errorf("lookup customer %s: %w", customerID, err)
		}
		return map[string]interface{}{
			"customerId": customerID,
			"customer":   info,
		}, nil
	}
}

func orderTrackingHandler(tk Toolkit) Handler {
	return func(ctx context.Context, payload map[string]interface{}, _ *HandlerContext) (interface{}, error) {
		query := queryFrom(payload)
		orderID := strings.ToUpper(orderIDPattern.FindString(query))
		if orderID == "" {
			return map[string]interface{}{
				"response": "Could you please provide your order ID? It should be in the format ORD-XXXXX.",
			}, nil
		}
		status, err := tk.TrackOrder(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("track order %s: %w", orderID, err)
		}
		return map[string]interface{}{
			"orderId": orderID,
			"status":  status,
		}, nil
	}
}

func productSearchHandler(tk Toolkit) Handler {
	return func(ctx context.Context, payload map[string]interface{}, _ *HandlerContext) (interface{}, error) {
		query := queryFrom(payload)
		category := extractCategory(query)
		maxResults := 5
		if n, ok := payload["maxResults"].(float64); ok && n > 0 {
			maxResults = int(n)
		}
		results, err := tk.SearchProducts(ctx, query, category, maxResults)
		if err != nil {
			return nil, fmt.Errorf("search products: %w", err)
		}
		return map[string]interface{}{
			"query":    query,
			"category": category,
			"results":  results,
		}, nil
	}
}

func paymentInfoHandler(tk Toolkit) Handler {
	return func(ctx context.Context, payload map[string]interface{}, _ *HandlerContext) (interface{}, error) {
		query := queryFrom(payload)
		orderID := strings.ToUpper(orderIDPattern.FindString(query))
		if orderID == "" {
			return map[string]interface{}{
				"response": "Could you please provide the order ID for the payment you are inquiring about? Format: ORD-XXXXX.",
			}, nil
		}
		payment, err := tk.PaymentInfo(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("payment info %s: %w", orderID, err)
		}
		return map[string]interface{}{
			"orderId": orderID,
			"payment": payment,
		}, nil
	}
}

func recommendationHandler(tk Toolkit) Handler {
	return func(ctx context.Context, payload map[string]interface{}, _ *HandlerContext) (interface{}, error) {
		query := queryFrom(payload)
		customerID := strings.ToUpper(customerIDPattern.FindString(query))
		category := extractCategory(query)
		recs, err := tk.Recommendations(ctx, customerID, category)
		if err != nil {
			return nil, fmt.Errorf("recommendations: %w", err)
		}
		return map[string]interface{}{
			"customerId":      customerID,
			"category":        category,
			"recommendations": recs,
		}, nil
	}
}

func generalHandler() Handler {
	return func(_ context.Context, payload map[string]interface{}, _ *HandlerContext) (interface{}, error) {
		return map[string]interface{}{
			"response": "I can help with customer accounts, order tracking, product search, payments, and recommendations. What do you need?",
			"query":    queryFrom(payload),
		}, nil
	}
}

func extractCategory(query string) string {
	lower := strings.ToLower(query)
	for _, cat := range productCategories {
		if strings.Contains(lower, cat) {
			return strings.ToUpper(cat[:1]) + cat[1:]
		}
	}
	return ""
}

package agent

import (
	"context"
	"errors"
	"testing"
)

type fakeToolkit struct {
	lastCustomer string
	lastOrder    string
	lastCategory string
	failOrders   bool
}

func (f *fakeToolkit) LookupCustomer(_ context.Context, customerID string) (interface{}, error) {
	f.lastCustomer = customerID
	return map[string]interface{}{"name": "Ada"}, nil
}

func (f *fakeToolkit) TrackOrder(_ context.Context, orderID string) (interface{}, error) {
	if f.failOrders {
		return nil, errors.New("order service down")
	}
	f.lastOrder = orderID
	return "shipped", nil
}

func (f *fakeToolkit) SearchProducts(_ context.Context, _, category string, _ int) (interface{}, error) {
	f.lastCategory = category
	return []string{"laptop"}, nil
}

func (f *fakeToolkit) PaymentInfo(_ context.Context, orderID string) (interface{}, error) {
	f.lastOrder = orderID
	return "paid", nil
}

func (f *fakeToolkit) Recommendations(_ context.Context, customerID, category string) (interface{}, error) {
	f.lastCustomer = customerID
	f.lastCategory = category
	return []string{"headphones"}, nil
}

func builtinRegistry(t *testing.T, tk Toolkit) *Registry {
	t.Helper()
	r := NewRegistry("general", nil)
	if err := RegisterBuiltins(r, tk); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	return r
}

func TestBuiltins_RegisterAll(t *testing.T) {
	r := builtinRegistry(t, &fakeToolkit{})
	if got := len(r.List()); got != 6 {
		t.Fatalf("registered %d builtins, want 6", got)
	}
}

func TestBuiltins_RouteOrderQuery(t *testing.T) {
	r := builtinRegistry(t, &fakeToolkit{})
	id, ok := r.Route("where is my order? please track ORD-10001", RouteParams{})
	if !ok || id != "order_tracking" {
		t.Fatalf("route = %q ok=%v, want order_tracking", id, ok)
	}
}

func TestBuiltins_RouteUnmatchedFallsBackToGeneral(t *testing.T) {
	r := builtinRegistry(t, &fakeToolkit{})
	id, ok := r.Route("hello there", RouteParams{})
	if !ok || id != "general" {
		t.Fatalf("route = %q ok=%v, want general", id, ok)
	}
}

func TestOrderTrackingHandler_ExtractsOrderID(t *testing.T) {
	tk := &fakeToolkit{}
	r := builtinRegistry(t, tk)
	reg, _ := r.Get("order_tracking")

	result, err := reg.Handler(context.Background(), map[string]interface{}{"query": "status of ord-10001 please"}, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if tk.lastOrder != "ORD-10001" {
		t.Fatalf("toolkit saw order %q, want ORD-10001", tk.lastOrder)
	}
	out, ok := result.(map[string]interface{})
	if !ok || out["orderId"] != "ORD-10001" {
		t.Fatalf("result = %#v, want orderId ORD-10001", result)
	}
}

func TestOrderTrackingHandler_MissingIDPromptsCaller(t *testing.T) {
	tk := &fakeToolkit{}
	r := builtinRegistry(t, tk)
	reg, _ := r.Get("order_tracking")

	result, err := reg.Handler(context.Background(), map[string]interface{}{"query": "where is my stuff"}, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	out := result.(map[string]interface{})
	if _, ok := out["response"]; !ok {
		t.Fatalf("expected prompt for order id, got %#v", out)
	}
	if tk.lastOrder != "" {
		t.Fatalf("toolkit called with %q despite missing id", tk.lastOrder)
	}
}

func TestOrderTrackingHandler_ToolkitErrorSurfaces(t *testing.T) {
	r := builtinRegistry(t, &fakeToolkit{failOrders: true})
	reg, _ := r.Get("order_tracking")

	if _, err := reg.Handler(context.Background(), map[string]interface{}{"query": "track ORD-1"}, nil); err == nil {
		t.Fatal("expected toolkit error to surface")
	}
}

func TestCustomerInfoHandler_ExtractsCustomerID(t *testing.T) {
	tk := &fakeToolkit{}
	r := builtinRegistry(t, tk)
	reg, _ := r.Get("customer_info")

	if _, err := reg.Handler(context.Background(), map[string]interface{}{"query": "my account, cust-2001"}, nil); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if tk.lastCustomer != "CUST-2001" {
		t.Fatalf("toolkit saw customer %q, want CUST-2001", tk.lastCustomer)
	}
}

func TestRecommendationHandler_ExtractsCategory(t *testing.T) {
	tk := &fakeToolkit{}
	r := builtinRegistry(t, tk)
	reg, _ := r.Get("recommendation")

	if _, err := reg.Handler(context.Background(), map[string]interface{}{"query": "suggest some electronics for CUST-2002"}, nil); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if tk.lastCategory != "Electronics" {
		t.Fatalf("category = %q, want Electronics", tk.lastCategory)
	}
	if tk.lastCustomer != "CUST-2002" {
		t.Fatalf("customer = %q, want CUST-2002", tk.lastCustomer)
	}
}

func TestBuiltins_InputSchemaRequiresQuery(t *testing.T) {
	r := builtinRegistry(t, &fakeToolkit{})
	if err := r.ValidateInput("order_tracking", map[string]interface{}{}); err == nil {
		t.Fatal("expected schema rejection for missing query")
	}
	if err := r.ValidateInput("order_tracking", map[string]interface{}{"query": "track ORD-1"}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
}

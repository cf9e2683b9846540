package agent

import (
	"context"
	"testing"
)

func TestDemoToolkit_Lookups(t *testing.T) {
	tk := NewDemoToolkit()
	ctx := context.Background()

	if _, err := tk.LookupCustomer(ctx, "CUST-1001"); err != nil {
		t.Fatalf("known customer: %v", err)
	}
	if _, err := tk.LookupCustomer(ctx, "CUST-9999"); err == nil {
		t.Fatal("expected error for unknown customer")
	}
	if _, err := tk.TrackOrder(ctx, "ORD-10001"); err != nil {
		t.Fatalf("known order: %v", err)
	}
	if _, err := tk.PaymentInfo(ctx, "ORD-99999"); err == nil {
		t.Fatal("expected error for unknown payment")
	}
}

func TestDemoToolkit_SearchByCategory(t *testing.T) {
	tk := NewDemoToolkit()

	// Category matching is case-insensitive.
	res, err := tk.SearchProducts(context.Background(), "", "Electronics", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	hits := res.(map[string]interface{})["results"].([]map[string]interface{})
	if len(hits) == 0 {
		t.Fatal("expected electronics hits")
	}
	for _, h := range hits {
		if h["category"] != "electronics" {
			t.Fatalf("hit outside category: %v", h)
		}
	}
}

func TestDemoToolkit_Recommendations(t *testing.T) {
	tk := NewDemoToolkit()
	res, err := tk.Recommendations(context.Background(), "CUST-1001", "sports")
	if err != nil {
		t.Fatalf("recommendations: %v", err)
	}
	picks := res.(map[string]interface{})["recommendations"].([]map[string]interface{})
	if len(picks) == 0 || len(picks) > 3 {
		t.Fatalf("picks = %d, want 1..3", len(picks))
	}
}

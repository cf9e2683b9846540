package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func noopHandler(_ context.Context, _ map[string]interface{}, _ *HandlerContext) (interface{}, error) {
	return nil, nil
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.Register(Card{ID: "a"}, noopHandler); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(Card{ID: "a"}, noopHandler)
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Fatalf("err = %v, want ErrDuplicateAgent", err)
	}
}

func TestRegister_Invalid(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.Register(Card{}, noopHandler); !errors.Is(err, ErrInvalidAgent) {
		t.Fatalf("missing id: err = %v, want ErrInvalidAgent", err)
	}
	if err := r.Register(Card{ID: "a"}, nil); !errors.Is(err, ErrInvalidAgent) {
		t.Fatalf("nil handler: err = %v, want ErrInvalidAgent", err)
	}
	bad := Card{ID: "b", InputSchema: json.RawMessage(`{"type": 42}`)}
	if err := r.Register(bad, noopHandler); !errors.Is(err, ErrInvalidAgent) {
		t.Fatalf("bad schema: err = %v, want ErrInvalidAgent", err)
	}
}

func TestGet_AndList(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.Register(Card{ID: "a", Name: "Agent A"}, noopHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	reg, ok := r.Get("a")
	if !ok {
		t.Fatal("expected agent a")
	}
	if reg.Status != StatusActive {
		t.Fatalf("status = %q, want active", reg.Status)
	}
	if reg.Health.Status != HealthHealthy {
		t.Fatalf("health = %q, want healthy", reg.Health.Status)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected no agent for unknown id")
	}

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("list len = %d, want 1", len(list))
	}
	if list[0].Card.Name != "Agent A" {
		t.Fatalf("list card name = %q, want Agent A", list[0].Card.Name)
	}
}

func TestRoute_KeywordScore(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.Register(Card{ID: "x", RoutingKeywords: []string{"order", "track"}}, noopHandler); err != nil {
		t.Fatalf("register x: %v", err)
	}
	if err := r.Register(Card{ID: "y", RoutingKeywords: []string{"pay"}}, noopHandler); err != nil {
		t.Fatalf("register y: %v", err)
	}

	id, ok := r.Route("track my order", RouteParams{})
	if !ok || id != "x" {
		t.Fatalf("route = %q ok=%v, want x", id, ok)
	}
}

func TestRoute_ExplicitOverride(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.Register(Card{ID: "x", RoutingKeywords: []string{"order"}}, noopHandler); err != nil {
		t.Fatalf("register x: %v", err)
	}
	if err := r.Register(Card{ID: "y"}, noopHandler); err != nil {
		t.Fatalf("register y: %v", err)
	}
	// Even an inactive agent wins when named explicitly.
	if err := r.SetStatus("y", StatusInactive); err != nil {
		t.Fatalf("set status: %v", err)
	}

	id, ok := r.Route("order status", RouteParams{AgentID: "y"})
	if !ok || id != "y" {
		t.Fatalf("route = %q ok=%v, want explicit y", id, ok)
	}

	// An unregistered explicit id falls through to scoring.
	id, ok = r.Route("order status", RouteParams{AgentID: "ghost"})
	if !ok || id != "x" {
		t.Fatalf("route = %q ok=%v, want x after ghost fallthrough", id, ok)
	}
}

func TestRoute_CapabilityBonus(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.Register(Card{ID: "kw", RoutingKeywords: []string{"status"}}, noopHandler); err != nil {
		t.Fatalf("register kw: %v", err)
	}
	if err := r.Register(Card{ID: "cap", Capabilities: []string{"customer_lookup"}}, noopHandler); err != nil {
		t.Fatalf("register cap: %v", err)
	}

	// "status" scores 6 for kw; the capability bonus of 50 dominates.
	id, ok := r.Route("status please", RouteParams{Capability: "customer_lookup"})
	if !ok || id != "cap" {
		t.Fatalf("route = %q ok=%v, want cap", id, ok)
	}
}

func TestRoute_TieFirstRegistered(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.Register(Card{ID: "first", RoutingKeywords: []string{"order"}}, noopHandler); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := r.Register(Card{ID: "second", RoutingKeywords: []string{"order"}}, noopHandler); err != nil {
		t.Fatalf("register second: %v", err)
	}

	for i := 0; i < 10; i++ {
		id, ok := r.Route("my order", RouteParams{})
		if !ok || id != "first" {
			t.Fatalf("route = %q ok=%v, want first on tie (iteration %d)", id, ok, i)
		}
	}
}

func TestRoute_NeverReturnsInactive(t *testing.T) {
	r := NewRegistry("fallback", nil)
	if err := r.Register(Card{ID: "x", RoutingKeywords: []string{"order"}}, noopHandler); err != nil {
		t.Fatalf("register x: %v", err)
	}
	if err := r.Register(Card{ID: "fallback"}, noopHandler); err != nil {
		t.Fatalf("register fallback: %v", err)
	}
	if err := r.SetStatus("x", StatusInactive); err != nil {
		t.Fatalf("set status: %v", err)
	}

	id, ok := r.Route("my order", RouteParams{})
	if !ok || id != "fallback" {
		t.Fatalf("route = %q ok=%v, want fallback when x inactive", id, ok)
	}
}

func TestRoute_Fallbacks(t *testing.T) {
	r := NewRegistry("general", nil)

	// Nothing registered: no route.
	if id, ok := r.Route("hello", RouteParams{}); ok {
		t.Fatalf("expected no route, got %q", id)
	}

	// Only a non-default agent registered: first active wins.
	if err := r.Register(Card{ID: "only"}, noopHandler); err != nil {
		t.Fatalf("register only: %v", err)
	}
	if id, ok := r.Route("hello", RouteParams{}); !ok || id != "only" {
		t.Fatalf("route = %q ok=%v, want only", id, ok)
	}

	// Default agent registered: it takes precedence over first active.
	if err := r.Register(Card{ID: "general"}, noopHandler); err != nil {
		t.Fatalf("register general: %v", err)
	}
	if id, ok := r.Route("hello", RouteParams{}); !ok || id != "general" {
		t.Fatalf("route = %q ok=%v, want general default", id, ok)
	}

	// All inactive: no route.
	if err := r.SetStatus("only", StatusInactive); err != nil {
		t.Fatalf("set status only: %v", err)
	}
	if err := r.SetStatus("general", StatusInactive); err != nil {
		t.Fatalf("set status general: %v", err)
	}
	if id, ok := r.Route("hello", RouteParams{}); ok {
		t.Fatalf("expected no route with all inactive, got %q", id)
	}
}

func TestUpdateHealth_DegradedOverHalfFailures(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.Register(Card{ID: "a"}, noopHandler); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.UpdateHealth("a", true, 100*time.Millisecond)
	r.UpdateHealth("a", false, 300*time.Millisecond)

	reg, _ := r.Get("a")
	if reg.Health.TasksProcessed != 2 || reg.Health.TasksFailed != 1 {
		t.Fatalf("processed=%d failed=%d, want 2/1", reg.Health.TasksProcessed, reg.Health.TasksFailed)
	}
	if reg.Health.AvgResponseTime != 200*time.Millisecond {
		t.Fatalf("avg = %v, want 200ms", reg.Health.AvgResponseTime)
	}
	// Failure ratio is exactly 50%: not degraded yet.
	if reg.Health.Status != HealthHealthy {
		t.Fatalf("health = %q, want healthy at 50%%", reg.Health.Status)
	}

	r.UpdateHealth("a", false, 200*time.Millisecond)
	reg, _ = r.Get("a")
	if reg.Health.Status != HealthDegraded {
		t.Fatalf("health = %q, want degraded above 50%%", reg.Health.Status)
	}

	// Unknown agent is a no-op.
	r.UpdateHealth("ghost", true, time.Millisecond)
}

func TestSetStatus_Unknown(t *testing.T) {
	r := NewRegistry("general", nil)
	if err := r.SetStatus("ghost", StatusInactive); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
	if err := r.SetStatus("ghost", Status("bogus")); err == nil {
		t.Fatal("expected error for invalid status value")
	}
}

func TestValidateInput(t *testing.T) {
	r := NewRegistry("general", nil)
	card := Card{
		ID: "a",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["query"],
			"properties": {"query": {"type": "string"}}
		}`),
	}
	if err := r.Register(card, noopHandler); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(Card{ID: "free"}, noopHandler); err != nil {
		t.Fatalf("register free: %v", err)
	}

	if err := r.ValidateInput("a", map[string]interface{}{"query": "hi"}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}
	if err := r.ValidateInput("a", map[string]interface{}{"other": 1}); err == nil {
		t.Fatal("expected validation error for missing query")
	}
	// No schema: anything goes.
	if err := r.ValidateInput("free", map[string]interface{}{}); err != nil {
		t.Fatalf("schemaless agent rejected payload: %v", err)
	}
}

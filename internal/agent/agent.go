// Package agent holds the agent registry: registered handler descriptors,
// keyword/capability routing, and per-agent health tracking.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/basket/conductor/internal/cache"
)

var (
	// ErrDuplicateAgent is returned when registering an id that already exists.
	ErrDuplicateAgent = errors.New("agent already registered")
	// ErrInvalidAgent is returned when a registration is missing its id or handler.
	ErrInvalidAgent = errors.New("invalid agent registration")
	// ErrUnknownAgent is returned when an operation names an unregistered id.
	ErrUnknownAgent = errors.New("agent not found")
)

// Status is an agent's routing availability.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// HealthStatus summarizes an agent's recent outcomes.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
)

// Card describes an agent: identity, routing hints, and I/O schema
// metadata. The schemas are opaque to routing; the registry compiles
// InputSchema for payload validation when present.
type Card struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Capabilities    []string        `json:"capabilities,omitempty"`
	RoutingKeywords []string        `json:"routingKeywords,omitempty"`
	InputSchema     json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema    json.RawMessage `json:"outputSchema,omitempty"`
}

// HandlerContext exposes external resources to an agent handler.
type HandlerContext struct {
	TaskID   string
	Metadata map[string]interface{}
	Cache    cache.Cache
	State    map[string]interface{}
}

// Handler executes one routed task. A returned error marks the task FAILED.
type Handler func(ctx context.Context, payload map[string]interface{}, hctx *HandlerContext) (interface{}, error)

// HealthStats tracks an agent's settled-task outcomes. Mutated only by
// the task manager after each settlement.
type HealthStats struct {
	TasksProcessed  int           `json:"tasksProcessed"`
	TasksFailed     int           `json:"tasksFailed"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	Status          HealthStatus  `json:"status"`
}

// Registration is one registered agent: card, handler, routing status,
// and live health. Registrations are never removed; Status may toggle.
type Registration struct {
	Card    Card
	Handler Handler
	Status  Status
	Health  HealthStats
}

// Snapshot is a point-in-time view of a registration for listings.
type Snapshot struct {
	Card   Card        `json:"card"`
	Status Status      `json:"status"`
	Health HealthStats `json:"health"`
}

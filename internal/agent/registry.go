package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// capabilityBonus is the flat routing score added when the requested
// capability is in an agent's capability set.
const capabilityBonus = 50

// RouteParams carries the optional routing hints of a task submission.
type RouteParams struct {
	// AgentID, when set to a registered id, bypasses scoring entirely.
	AgentID string
	// Capability adds a flat bonus to agents advertising it.
	Capability string
}

// Registry holds all agent registrations. Routing iterates agents in
// registration order so score ties resolve to the first-registered agent.
type Registry struct {
	mu           sync.RWMutex
	regs         map[string]*Registration
	order        []string
	schemas      map[string]*jsonschema.Schema
	defaultAgent string
	logger       *slog.Logger
}

// NewRegistry creates an empty registry. defaultAgent names the routing
// fallback used when no agent scores above zero; it may be registered later.
func NewRegistry(defaultAgent string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		regs:         make(map[string]*Registration),
		schemas:      make(map[string]*jsonschema.Schema),
		defaultAgent: defaultAgent,
		logger:       logger,
	}
}

// Register adds an agent. The registration starts active with zeroed
// health. If the card carries an input schema it is compiled here so a
// malformed schema fails fast at registration time.
func (r *Registry) Register(card Card, handler Handler) error {
	if strings.TrimSpace(card.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidAgent)
	}
	if handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidAgent, card.ID)
	}

	var schema *jsonschema.Schema
	if len(card.InputSchema) > 0 {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(card.InputSchema)))
		if err != nil {
			return fmt.Errorf("%w: %s input schema: %v", ErrInvalidAgent, card.ID, err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", doc); err != nil {
			return fmt.Errorf("%w: %s input schema: %v", ErrInvalidAgent, card.ID, err)
		}
		schema, err = c.Compile("schema.json")
		if err != nil {
			return fmt.Errorf("%w: %s input schema: %v", ErrInvalidAgent, card.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regs[card.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, card.ID)
	}
	r.regs[card.ID] = &Registration{
		Card:    card,
		Handler: handler,
		Status:  StatusActive,
		Health:  HealthStats{Status: HealthHealthy},
	}
	r.order = append(r.order, card.ID)
	if schema != nil {
		r.schemas[card.ID] = schema
	}

	r.logger.Info("agent registered", "agent_id", card.ID, "keywords", len(card.RoutingKeywords), "capabilities", len(card.Capabilities))
	return nil
}

// SetDefaultAgent changes the zero-score routing fallback. Applied live
// on config reload.
func (r *Registry) SetDefaultAgent(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultAgent != id {
		r.defaultAgent = id
		r.logger.Info("default agent changed", "agent_id", id)
	}
}

// Get returns a snapshot of the registration and its handler.
func (r *Registry) Get(id string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[id]
	if !ok {
		return Registration{}, false
	}
	return *reg, true
}

// List returns a snapshot of every registration in registration order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.regs))
	for _, id := range r.order {
		reg := r.regs[id]
		out = append(out, Snapshot{Card: reg.Card, Status: reg.Status, Health: reg.Health})
	}
	return out
}

// Route selects an agent for a query.
//
// An explicit params.AgentID naming a registered agent wins outright,
// active or not. Otherwise each active agent is scored: the sum of
// keyword lengths for every routing keyword found case-insensitively in
// the query, plus a flat bonus when params.Capability is advertised.
// The strictly highest score wins; ties go to the first-registered
// agent. With no score above zero the default agent is used if active,
// else the first active agent, else nothing.
func (r *Registry) Route(query string, params RouteParams) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if params.AgentID != "" {
		if _, ok := r.regs[params.AgentID]; ok {
			return params.AgentID, true
		}
	}

	lowerQuery := strings.ToLower(query)
	bestID := ""
	bestScore := 0
	for _, id := range r.order {
		reg := r.regs[id]
		if reg.Status != StatusActive {
			continue
		}
		score := 0
		for _, kw := range reg.Card.RoutingKeywords {
			if kw != "" && strings.Contains(lowerQuery, strings.ToLower(kw)) {
				score += len(kw)
			}
		}
		if params.Capability != "" {
			for _, capability := range reg.Card.Capabilities {
				if capability == params.Capability {
					score += capabilityBonus
					break
				}
			}
		}
		if score > bestScore {
			bestScore = score
			bestID = id
		}
	}
	if bestScore > 0 {
		return bestID, true
	}

	// Fallback: the configured default agent, if active.
	if reg, ok := r.regs[r.defaultAgent]; ok && reg.Status == StatusActive {
		return r.defaultAgent, true
	}
	// Last resort: the first active agent.
	for _, id := range r.order {
		if r.regs[id].Status == StatusActive {
			return id, true
		}
	}
	return "", false
}

// UpdateHealth folds one settled task into the agent's health stats.
// Unknown ids are ignored.
func (r *Registry) UpdateHealth(id string, success bool, responseTime time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[id]
	if !ok {
		return
	}
	h := &reg.Health
	h.TasksProcessed++
	if !success {
		h.TasksFailed++
	}
	// Running average over all processed tasks.
	h.AvgResponseTime += (responseTime - h.AvgResponseTime) / time.Duration(h.TasksProcessed)
	if h.TasksProcessed > 0 && float64(h.TasksFailed)/float64(h.TasksProcessed) > 0.5 {
		h.Status = HealthDegraded
	} else {
		h.Status = HealthHealthy
	}
}

// SetStatus toggles an agent's routing availability. Inactive agents are
// excluded from scoring but remain gettable.
func (r *Registry) SetStatus(id string, status Status) error {
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("invalid agent status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	reg.Status = status
	r.logger.Info("agent status changed", "agent_id", id, "status", string(status))
	return nil
}

// ValidateInput checks a payload against the agent's compiled input
// schema. Agents without a schema accept anything.
func (r *Registry) ValidateInput(id string, payload interface{}) error {
	r.mu.RLock()
	schema, ok := r.schemas[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	// Round-trip through jsonschema.UnmarshalJSON for correct number
	// handling (json.Number), which the validator requires.
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload for agent %s: %w", id, err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("decode payload for agent %s: %w", id, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("payload for agent %s: %w", id, err)
	}
	return nil
}

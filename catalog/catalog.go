// Package catalog maps pools to subscription plans and reports the
// included-credit grant each plan carries. The engine consults it at
// period rollover; it never decides tier eligibility itself.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/types"
)

var (
	// ErrPlanNotFound indicates the referenced plan is not in the catalog.
	ErrPlanNotFound = errors.New("catalog: plan not found")

	// ErrNotSubscribed indicates the pool has no plan assignment.
	ErrNotSubscribed = errors.New("catalog: pool has no plan assignment")
)

// Status is the lifecycle state of a plan.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Plan describes one subscription tier and the credits it includes per
// billing period.
type Plan struct {
	types.Entity
	ID              id.PlanID         `json:"id"`
	Slug            string            `json:"slug"`
	Name            string            `json:"name"`
	Status          Status            `json:"status"`
	IncludedCredits types.Credits     `json:"included_credits"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Static is an in-memory catalog holding plans and pool assignments.
// It is the usual choice for tests and deployments where the plan table
// lives in application config rather than a billing system.
type Static struct {
	mu          sync.RWMutex
	plans       map[string]*Plan
	assignments map[id.PoolID]string
}

// NewStatic creates an empty catalog.
func NewStatic() *Static {
	return &Static{
		plans:       make(map[string]*Plan),
		assignments: make(map[id.PoolID]string),
	}
}

// AddPlan registers a plan under its slug, replacing any previous plan
// with the same slug.
func (c *Static) AddPlan(slug, name string, included types.Credits) *Plan {
	p := &Plan{
		Entity:          types.NewEntity(),
		ID:              id.NewPlanID(),
		Slug:            slug,
		Name:            name,
		Status:          StatusActive,
		IncludedCredits: included,
	}

	c.mu.Lock()
	c.plans[slug] = p
	c.mu.Unlock()
	return p
}

// Plan returns the plan registered under slug.
func (c *Static) Plan(slug string) (*Plan, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.plans[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, slug)
	}
	cp := *p
	return &cp, nil
}

// Assign subscribes a pool to the plan registered under slug.
func (c *Static) Assign(poolID id.PoolID, slug string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.plans[slug]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, slug)
	}
	if p.Status == StatusArchived {
		return fmt.Errorf("catalog: plan %s is archived", slug)
	}

	c.assignments[poolID] = slug
	return nil
}

// Unassign removes a pool's plan assignment.
func (c *Static) Unassign(poolID id.PoolID) {
	c.mu.Lock()
	delete(c.assignments, poolID)
	c.mu.Unlock()
}

// IncludedCredits reports the included-credit grant for the pool's
// current plan.
func (c *Static) IncludedCredits(_ context.Context, poolID id.PoolID) (types.Credits, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	slug, ok := c.assignments[poolID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotSubscribed, poolID)
	}
	p, ok := c.plans[slug]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPlanNotFound, slug)
	}
	return p.IncludedCredits, nil
}

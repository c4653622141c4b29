package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/radiant/credits/id"
	"github.com/radiant/credits/types"
)

func TestStaticIncludedCredits(t *testing.T) {
	c := NewStatic()
	c.AddPlan("pro", "Pro", types.Whole(500))
	c.AddPlan("free", "Free", types.Whole(10))

	poolID := id.NewPoolID()
	if err := c.Assign(poolID, "pro"); err != nil {
		t.Fatalf("Assign error: %v", err)
	}

	got, err := c.IncludedCredits(context.Background(), poolID)
	if err != nil {
		t.Fatalf("IncludedCredits error: %v", err)
	}
	if got != types.Whole(500) {
		t.Errorf("got %s, want %s", got, types.Whole(500))
	}
}

func TestStaticUnassignedPool(t *testing.T) {
	c := NewStatic()

	_, err := c.IncludedCredits(context.Background(), id.NewPoolID())
	if !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("got %v, want ErrNotSubscribed", err)
	}
}

func TestStaticAssignUnknownPlan(t *testing.T) {
	c := NewStatic()

	err := c.Assign(id.NewPoolID(), "missing")
	if !errors.Is(err, ErrPlanNotFound) {
		t.Errorf("got %v, want ErrPlanNotFound", err)
	}
}

func TestStaticAssignArchivedPlan(t *testing.T) {
	c := NewStatic()
	p := c.AddPlan("legacy", "Legacy", types.Whole(100))
	p.Status = StatusArchived

	if err := c.Assign(id.NewPoolID(), "legacy"); err == nil {
		t.Error("Assign accepted an archived plan")
	}
}

func TestStaticUnassign(t *testing.T) {
	c := NewStatic()
	c.AddPlan("pro", "Pro", types.Whole(500))

	poolID := id.NewPoolID()
	if err := c.Assign(poolID, "pro"); err != nil {
		t.Fatalf("Assign error: %v", err)
	}
	c.Unassign(poolID)

	if _, err := c.IncludedCredits(context.Background(), poolID); !errors.Is(err, ErrNotSubscribed) {
		t.Errorf("got %v, want ErrNotSubscribed after Unassign", err)
	}
}

func TestPlanLookupReturnsCopy(t *testing.T) {
	c := NewStatic()
	c.AddPlan("pro", "Pro", types.Whole(500))

	p, err := c.Plan("pro")
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	p.IncludedCredits = types.Whole(1)

	again, err := c.Plan("pro")
	if err != nil {
		t.Fatalf("Plan error: %v", err)
	}
	if again.IncludedCredits != types.Whole(500) {
		t.Error("Plan returned a shared pointer")
	}
}

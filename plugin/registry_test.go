package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/radiant/credits/types"
)

// recordingPlugin implements a subset of hooks and counts calls.
type recordingPlugin struct {
	name string

	mu       sync.Mutex
	reserved int
	settled  int
	err      error
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) OnReserved(_ context.Context, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved++
	return p.err
}

func (p *recordingPlugin) OnSettled(_ context.Context, _, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled++
	return p.err
}

func (p *recordingPlugin) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reserved, p.settled
}

// namedPlugin implements no hooks at all.
type namedPlugin struct{ name string }

func (p *namedPlugin) Name() string { return p.name }

func TestRegistryDispatch(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	a := &recordingPlugin{name: "a"}
	b := &recordingPlugin{name: "b"}
	for _, p := range []Plugin{a, b, &namedPlugin{name: "inert"}} {
		if err := r.Register(p); err != nil {
			t.Fatalf("Register error: %v", err)
		}
	}

	r.EmitReserved(ctx, nil)
	r.EmitReserved(ctx, nil)
	r.EmitSettled(ctx, nil, nil)

	// Hooks the inert plugin does not implement must not panic or block.
	r.EmitTransferred(ctx, "p1", "p2", types.Whole(1))
	r.EmitCommitConflict(ctx, "p1", 2)

	for _, p := range []*recordingPlugin{a, b} {
		reserved, settled := p.counts()
		if reserved != 2 || settled != 1 {
			t.Errorf("plugin %s: reserved %d, settled %d", p.name, reserved, settled)
		}
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&namedPlugin{name: "dup"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register(&namedPlugin{name: "dup"}); err == nil {
		t.Error("duplicate registration accepted")
	}
	if r.Count() != 1 {
		t.Errorf("count: got %d, want 1", r.Count())
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	p := &namedPlugin{name: "metrics"}
	if err := r.Register(p); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if got := r.Get("metrics"); got != Plugin(p) {
		t.Errorf("Get returned %v", got)
	}
	if got := r.Get("missing"); got != nil {
		t.Errorf("Get for unknown name returned %v", got)
	}
	if n := len(r.List()); n != 1 {
		t.Errorf("List length: got %d", n)
	}
}

func TestRegistrySwallowsHookErrors(t *testing.T) {
	r := NewRegistry()
	failing := &recordingPlugin{name: "failing", err: errors.New("hook broke")}
	ok := &recordingPlugin{name: "ok"}
	if err := r.Register(failing); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := r.Register(ok); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	// A failing listener is logged but never stops the fan-out.
	r.EmitReserved(context.Background(), nil)

	if reserved, _ := ok.counts(); reserved != 1 {
		t.Errorf("later plugin not called after failure: %d", reserved)
	}
}

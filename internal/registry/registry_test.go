package registry

import (
	"testing"

	"github.com/ternarybob/arbor"
)

func newTestRegistry() *Registry {
	return NewRegistry(arbor.NewLogger())
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := newTestRegistry()

	instance, ok := r.Resolve("missing")
	if ok {
		t.Error("Expected ok=false for unknown service")
	}
	if instance != nil {
		t.Errorf("Expected nil instance, got %v", instance)
	}
}

func TestRegistry_FactoryInvokedOnceAndCached(t *testing.T) {
	r := newTestRegistry()

	calls := 0
	r.Register("counter", func() any {
		calls++
		return calls
	})

	first, ok := r.Resolve("counter")
	if !ok {
		t.Fatal("Expected service to resolve")
	}
	second, _ := r.Resolve("counter")

	if calls != 1 {
		t.Errorf("Factory invoked %d times, expected 1", calls)
	}
	if first != second {
		t.Errorf("Expected cached instance, got %v then %v", first, second)
	}
}

func TestRegistry_ReRegisterReplacesAndDropsCache(t *testing.T) {
	r := newTestRegistry()

	r.Register("svc", func() any { return "old" })
	if instance, _ := r.Resolve("svc"); instance != "old" {
		t.Fatalf("Expected old instance, got %v", instance)
	}

	r.Register("svc", func() any { return "new" })
	instance, ok := r.Resolve("svc")
	if !ok {
		t.Fatal("Expected service to resolve after re-registration")
	}
	if instance != "new" {
		t.Errorf("Expected replaced instance, got %v", instance)
	}
}

func TestRegistry_ClearDropsInstancesKeepsFactories(t *testing.T) {
	r := newTestRegistry()

	calls := 0
	r.Register("svc", func() any {
		calls++
		return calls
	})

	r.Resolve("svc")
	r.Clear()

	instance, ok := r.Resolve("svc")
	if !ok {
		t.Fatal("Factory should survive Clear")
	}
	if instance != 2 {
		t.Errorf("Expected factory re-invoked after Clear, got %v", instance)
	}
}

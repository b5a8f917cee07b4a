package publish

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/memoro/internal/models"
)

// fakeProvider records publishes and returns a fixed result or error
type fakeProvider struct {
	mu        sync.Mutex
	result    *models.PublishResult
	err       error
	published []string
}

func (p *fakeProvider) Publish(_ context.Context, content string, _ map[string]any, _ []byte) (*models.PublishResult, error) {
	p.mu.Lock()
	p.published = append(p.published, content)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if p.result != nil {
		return p.result, nil
	}
	return &models.PublishResult{ID: "fake"}, nil
}

func (p *fakeProvider) publishCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

func TestProviderRegistry_FallbackIsInternal(t *testing.T) {
	registry := NewProviderRegistry(arbor.NewLogger())

	provider := registry.Get("unregistered")
	if provider == nil {
		t.Fatal("Get must never return nil")
	}

	result, err := provider.Publish(context.Background(), "content", nil, nil)
	if err != nil {
		t.Fatalf("Internal provider failed: %v", err)
	}
	if result.ID != "internal" {
		t.Errorf("Expected internal result id, got %s", result.ID)
	}
	if registry.Has("unregistered") {
		t.Error("Has must distinguish fallback from registered")
	}
}

func TestProviderRegistry_RegisterAndGet(t *testing.T) {
	registry := NewProviderRegistry(arbor.NewLogger())
	provider := &fakeProvider{result: &models.PublishResult{ID: "platform-1"}}

	registry.Register("post", provider)

	if !registry.Has("post") {
		t.Error("Expected Has true after register")
	}
	result, err := registry.Get("post").Publish(context.Background(), "c", nil, nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if result.ID != "platform-1" {
		t.Errorf("Expected registered provider's result, got %s", result.ID)
	}
}

func TestProviderRegistry_RegisterReplaces(t *testing.T) {
	registry := NewProviderRegistry(arbor.NewLogger())

	registry.Register("post", &fakeProvider{err: errors.New("old provider")})
	registry.Register("post", &fakeProvider{result: &models.PublishResult{ID: "new"}})

	result, err := registry.Get("post").Publish(context.Background(), "c", nil, nil)
	if err != nil {
		t.Fatalf("Expected replacement provider, got error %v", err)
	}
	if result.ID != "new" {
		t.Errorf("Expected new provider's result, got %s", result.ID)
	}
}

func TestProviderRegistry_Unregister(t *testing.T) {
	registry := NewProviderRegistry(arbor.NewLogger())
	registry.Register("post", &fakeProvider{})

	registry.Unregister("post")

	if registry.Has("post") {
		t.Error("Expected Has false after unregister")
	}
	result, _ := registry.Get("post").Publish(context.Background(), "c", nil, nil)
	if result.ID != "internal" {
		t.Error("Unregistered type should fall back to internal provider")
	}
}

func TestProviderRegistry_RegisteredTypes(t *testing.T) {
	registry := NewProviderRegistry(arbor.NewLogger())
	registry.Register("zeta", &fakeProvider{})
	registry.Register("alpha", &fakeProvider{})

	types := registry.RegisteredTypes()
	if len(types) != 2 || types[0] != "alpha" || types[1] != "zeta" {
		t.Errorf("Expected sorted [alpha zeta], got %v", types)
	}
}

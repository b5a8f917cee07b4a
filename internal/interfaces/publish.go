package interfaces

import (
	"context"

	"github.com/ternarybob/memoro/internal/models"
)

// PublishProvider performs the platform-specific publish for one entity
// type. Providers receiving the same entity twice must return the same
// platform id for the same content or tolerate duplicate submission.
type PublishProvider interface {
	Publish(ctx context.Context, content string, metadata map[string]any, imageData []byte) (*models.PublishResult, error)
}

// CredentialValidator is optionally implemented by providers
type CredentialValidator interface {
	ValidateCredentials(ctx context.Context) (bool, error)
}

// ContentResolver yields the publishable content for an entity. The core
// does not infer a specific resolver; the owning plugin supplies one.
type ContentResolver interface {
	Resolve(ctx context.Context, entityType, entityID string) (content string, metadata map[string]any, imageData []byte, err error)
}

// DispatchObserver receives dispatch outcomes synchronously. Bus events are
// the canonical path; this exists for synchronous consumers.
type DispatchObserver interface {
	OnPublished(entityType, entityID string, result *models.PublishResult)
	OnFailed(entityType, entityID string, err error, retryCount int, willRetry bool)
}

// Bus payload shapes for the publish control topics.

// PublishRef identifies one entity on the publish pipeline
type PublishRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// RegisterProviderRequest is the payload for publish:register
type RegisterProviderRequest struct {
	EntityType string          `json:"entity_type"`
	Provider   PublishProvider `json:"-"`
}

// ReorderRequest is the payload for publish:reorder
type ReorderRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Position   int    `json:"position"` // 1-based, clamped to queue length
}

// ListRequest is the payload for publish:list
type ListRequest struct {
	EntityType string `json:"entity_type"`
}

// ListResponse is the payload emitted on publish:list:response
type ListResponse struct {
	EntityType string               `json:"entity_type"`
	Queue      []*models.QueueEntry `json:"queue"`
}

// DirectPublishRequest is the payload for publish:direct
type DirectPublishRequest struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PublishSuccessReport is the payload for publish:report:success
type PublishSuccessReport struct {
	EntityType string                `json:"entity_type"`
	EntityID   string                `json:"entity_id"`
	Result     *models.PublishResult `json:"result"`
}

// PublishFailureReport is the payload for publish:report:failure
type PublishFailureReport struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Error      string `json:"error"`
}

// PublishOutcome is the payload emitted on publish:completed and
// publish:failed
type PublishOutcome struct {
	EntityType string                `json:"entity_type"`
	EntityID   string                `json:"entity_id"`
	Result     *models.PublishResult `json:"result,omitempty"`
	Error      string                `json:"error,omitempty"`
	RetryCount int                   `json:"retry_count,omitempty"`
	WillRetry  bool                  `json:"will_retry,omitempty"`
}

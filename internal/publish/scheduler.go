package publish

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/memoro/internal/common"
	"github.com/ternarybob/memoro/internal/interfaces"
	"github.com/ternarybob/memoro/internal/models"
)

// immediateSchedule fires every second for entity types without a configured
// cron expression.
const immediateSchedule = "* * * * * *"

// SchedulerConfig configures the publish scheduler
type SchedulerConfig struct {
	EntitySchedules   map[string]string // entity type -> cron expression
	MaxRetries        int               // Retry budget per entity
	RetryBaseDelay    time.Duration     // Base backoff, doubles each failure
	DispatchPerSecond int               // Rate limit for immediate-schedule dispatch
}

// Scheduler drains the per-entity-type publish queues on their cron cadences
// and dispatches each popped entry.
//
// Two dispatch modes, selected at construction: message mode is active iff a
// bus is provided, in which case dispatch emits publish:execute and outcomes
// arrive back via publish:report:success / publish:report:failure. Without a
// bus the scheduler resolves content and invokes the provider directly.
//
// The scheduler never re-queues a failed entry; it records the failure and
// reports it. Re-queueing is the caller's policy, informed by the retry
// tracker.
type Scheduler struct {
	config    SchedulerConfig
	queues    *QueueManager
	retries   *Tracker
	providers *ProviderRegistry
	resolver  interfaces.ContentResolver
	observer  interfaces.DispatchObserver
	bus       interfaces.MessageBus
	logger    arbor.ILogger

	limiter *rate.Limiter

	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	unsubs  []func()
}

// NewScheduler creates a publish scheduler. Cron expressions are validated
// eagerly; an invalid expression fails construction. A nil bus selects
// provider mode.
func NewScheduler(config SchedulerConfig, queues *QueueManager, retries *Tracker, providers *ProviderRegistry, resolver interfaces.ContentResolver, bus interfaces.MessageBus, logger arbor.ILogger) (*Scheduler, error) {
	for entityType, expr := range config.EntitySchedules {
		if err := common.ValidateSchedule(expr); err != nil {
			return nil, fmt.Errorf("invalid cron for %s: %w", entityType, err)
		}
	}
	if config.DispatchPerSecond <= 0 {
		config.DispatchPerSecond = 5
	}

	return &Scheduler{
		config:    config,
		queues:    queues,
		retries:   retries,
		providers: providers,
		resolver:  resolver,
		bus:       bus,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Limit(config.DispatchPerSecond), config.DispatchPerSecond),
	}, nil
}

// SetObserver wires a synchronous dispatch observer. Must be called before
// Start.
func (s *Scheduler) SetObserver(observer interfaces.DispatchObserver) {
	s.observer = observer
}

// Queues exposes the queue manager for direct queue inspection
func (s *Scheduler) Queues() *QueueManager {
	return s.queues
}

// Retries exposes the retry tracker
func (s *Scheduler) Retries() *Tracker {
	return s.retries
}

// Providers exposes the provider registry
func (s *Scheduler) Providers() *ProviderRegistry {
	return s.providers
}

// Start creates the cron timers and subscribes the bus control topics.
// Idempotent.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	c := cron.New(cron.WithParser(common.ScheduleParser))

	for entityType, expr := range s.config.EntitySchedules {
		entityType := entityType
		if _, err := c.AddFunc(expr, func() { s.tickScheduled(entityType) }); err != nil {
			return fmt.Errorf("invalid cron for %s: %w", entityType, err)
		}
		s.logger.Info().
			Str("entity_type", entityType).
			Str("schedule", expr).
			Msg("Publish schedule registered")
	}

	if _, err := c.AddFunc(immediateSchedule, s.tickImmediate); err != nil {
		return fmt.Errorf("failed to register immediate schedule: %w", err)
	}

	if s.bus != nil {
		if err := s.subscribeControlTopics(); err != nil {
			return err
		}
	}

	c.Start()
	s.cron = c
	s.running = true

	s.logger.Info().
		Int("schedules", len(s.config.EntitySchedules)).
		Bool("message_mode", s.bus != nil).
		Msg("Publish scheduler started")

	return nil
}

// Stop halts the cron timers, waits for in-flight dispatches, and drops the
// bus subscriptions. Idempotent.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.cron = nil

	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	s.logger.Info().Msg("Publish scheduler stopped")
	return nil
}

// IsRunning reflects started state
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// tickScheduled pops and dispatches one entry for a type with its own cron
func (s *Scheduler) tickScheduled(entityType string) {
	entry := s.queues.PopNext(entityType)
	if entry == nil {
		return
	}
	s.dispatch(context.Background(), entry)
}

// tickImmediate pops and dispatches one entry across the entity types that
// have no configured schedule. One item per tick so a busy type cannot
// monopolize the immediate lane; the rate limiter caps sustained throughput.
func (s *Scheduler) tickImmediate() {
	if !s.limiter.Allow() {
		return
	}

	unscheduled := make([]string, 0)
	for _, entityType := range s.queues.QueuedTypes() {
		if _, ok := s.config.EntitySchedules[entityType]; !ok {
			unscheduled = append(unscheduled, entityType)
		}
	}
	if len(unscheduled) == 0 {
		return
	}

	entry := s.queues.PopNextAcrossTypes(unscheduled)
	if entry == nil {
		return
	}
	s.dispatch(context.Background(), entry)
}

// dispatch executes one popped entry in the active mode
func (s *Scheduler) dispatch(ctx context.Context, entry *models.QueueEntry) {
	if s.bus != nil {
		s.dispatchMessage(ctx, entry)
		return
	}
	s.dispatchProvider(ctx, entry)
}

// dispatchMessage emits publish:execute; the outcome arrives back through the
// report topics
func (s *Scheduler) dispatchMessage(ctx context.Context, entry *models.QueueEntry) {
	s.logger.Debug().
		Str("entity_type", entry.EntityType).
		Str("entity_id", entry.EntityID).
		Msg("Dispatching publish via message")

	resp := s.bus.Send(ctx, interfaces.Message{
		Type:   interfaces.MessagePublishExecute,
		Source: "publish-scheduler",
		Payload: interfaces.PublishRef{
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
		},
	})
	if resp.Noop {
		s.recordFailure(ctx, entry.EntityType, entry.EntityID, fmt.Errorf("no subscriber for %s", interfaces.MessagePublishExecute))
		return
	}
	if !resp.Success {
		s.recordFailure(ctx, entry.EntityType, entry.EntityID, fmt.Errorf("publish dispatch rejected: %s", resp.Error))
	}
}

// dispatchProvider resolves content and invokes the provider directly
func (s *Scheduler) dispatchProvider(ctx context.Context, entry *models.QueueEntry) {
	s.logger.Debug().
		Str("entity_type", entry.EntityType).
		Str("entity_id", entry.EntityID).
		Msg("Dispatching publish via provider")

	content := ""
	var metadata map[string]any
	var imageData []byte
	if s.resolver != nil {
		var err error
		content, metadata, imageData, err = s.resolver.Resolve(ctx, entry.EntityType, entry.EntityID)
		if err != nil {
			s.recordFailure(ctx, entry.EntityType, entry.EntityID, fmt.Errorf("failed to resolve content: %w", err))
			return
		}
	}

	provider := s.providers.Get(entry.EntityType)
	if validator, ok := provider.(interfaces.CredentialValidator); ok {
		valid, err := validator.ValidateCredentials(ctx)
		if err != nil {
			s.recordFailure(ctx, entry.EntityType, entry.EntityID, fmt.Errorf("credential validation failed: %w", err))
			return
		}
		if !valid {
			s.recordFailure(ctx, entry.EntityType, entry.EntityID, fmt.Errorf("provider credentials for %s are invalid", entry.EntityType))
			return
		}
	}

	result, err := provider.Publish(ctx, content, metadata, imageData)
	if err != nil {
		s.recordFailure(ctx, entry.EntityType, entry.EntityID, err)
		return
	}
	s.recordSuccess(ctx, entry.EntityType, entry.EntityID, result)
}

// PublishDirect bypasses the queue and invokes the provider immediately. No
// retry bookkeeping; the provider's result or error is returned as-is.
func (s *Scheduler) PublishDirect(ctx context.Context, entityType, entityID, content string, metadata map[string]any) (*models.PublishResult, error) {
	provider := s.providers.Get(entityType)
	result, err := provider.Publish(ctx, content, metadata, nil)
	if err != nil {
		return nil, fmt.Errorf("direct publish of %s/%s failed: %w", entityType, entityID, err)
	}

	s.logger.Info().
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Str("result_id", result.ID).
		Msg("Direct publish completed")

	return result, nil
}

// recordSuccess clears retry state and reports the outcome
func (s *Scheduler) recordSuccess(ctx context.Context, entityType, entityID string, result *models.PublishResult) {
	s.retries.ClearRetries(entityType, entityID)

	s.logger.Info().
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Str("result_id", result.ID).
		Msg("Publish completed")

	if s.observer != nil {
		s.observer.OnPublished(entityType, entityID, result)
	}
	s.emit(ctx, interfaces.MessagePublishCompleted, interfaces.PublishOutcome{
		EntityType: entityType,
		EntityID:   entityID,
		Result:     result,
	})
}

// recordFailure records the failure and reports it with retry context. The
// entry stays popped; re-queueing is the caller's decision.
func (s *Scheduler) recordFailure(ctx context.Context, entityType, entityID string, err error) {
	info := s.retries.RecordFailure(entityType, entityID, err.Error())

	if s.observer != nil {
		s.observer.OnFailed(entityType, entityID, err, info.RetryCount, info.WillRetry)
	}
	s.emit(ctx, interfaces.MessagePublishFailed, interfaces.PublishOutcome{
		EntityType: entityType,
		EntityID:   entityID,
		Error:      err.Error(),
		RetryCount: info.RetryCount,
		WillRetry:  info.WillRetry,
	})
}

func (s *Scheduler) emit(ctx context.Context, topic interfaces.MessageType, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Send(ctx, interfaces.Message{
		Type:      topic,
		Payload:   payload,
		Source:    "publish-scheduler",
		Broadcast: true,
	})
}

// subscribeControlTopics wires the publish:* request topics. Caller holds
// s.mu.
func (s *Scheduler) subscribeControlTopics() error {
	subs := []struct {
		topic   interfaces.MessageType
		handler interfaces.MessageHandler
	}{
		{interfaces.MessagePublishRegister, s.handleRegister},
		{interfaces.MessagePublishQueue, s.handleQueue},
		{interfaces.MessagePublishDirect, s.handleDirect},
		{interfaces.MessagePublishRemove, s.handleRemove},
		{interfaces.MessagePublishReorder, s.handleReorder},
		{interfaces.MessagePublishList, s.handleList},
		{interfaces.MessagePublishReportSuccess, s.handleReportSuccess},
		{interfaces.MessagePublishReportFailure, s.handleReportFailure},
	}

	for _, sub := range subs {
		unsub, err := s.bus.Subscribe(sub.topic, sub.handler)
		if err != nil {
			for _, u := range s.unsubs {
				u()
			}
			s.unsubs = nil
			return fmt.Errorf("failed to subscribe %s: %w", sub.topic, err)
		}
		s.unsubs = append(s.unsubs, unsub)
	}
	return nil
}

func (s *Scheduler) handleRegister(_ context.Context, msg interfaces.Message) (*interfaces.Response, error) {
	req, ok := msg.Payload.(interfaces.RegisterProviderRequest)
	if !ok {
		return nil, fmt.Errorf("publish:register requires a RegisterProviderRequest payload")
	}
	if req.EntityType == "" || req.Provider == nil {
		return nil, fmt.Errorf("publish:register requires entity type and provider")
	}
	s.providers.Register(req.EntityType, req.Provider)
	return &interfaces.Response{Success: true}, nil
}

func (s *Scheduler) handleQueue(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
	ref, ok := msg.Payload.(interfaces.PublishRef)
	if !ok {
		return nil, fmt.Errorf("publish:queue requires a PublishRef payload")
	}

	entry, err := s.queues.Add(ref.EntityType, ref.EntityID)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, interfaces.MessagePublishQueued, entry)
	return &interfaces.Response{Success: true, Data: entry}, nil
}

func (s *Scheduler) handleDirect(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
	req, ok := msg.Payload.(interfaces.DirectPublishRequest)
	if !ok {
		return nil, fmt.Errorf("publish:direct requires a DirectPublishRequest payload")
	}

	provider := s.providers.Get(req.EntityType)
	result, err := provider.Publish(ctx, req.Content, req.Metadata, nil)
	if err != nil {
		return nil, err
	}
	return &interfaces.Response{Success: true, Data: result}, nil
}

func (s *Scheduler) handleRemove(_ context.Context, msg interfaces.Message) (*interfaces.Response, error) {
	ref, ok := msg.Payload.(interfaces.PublishRef)
	if !ok {
		return nil, fmt.Errorf("publish:remove requires a PublishRef payload")
	}
	removed := s.queues.Remove(ref.EntityType, ref.EntityID)
	return &interfaces.Response{Success: true, Data: removed}, nil
}

func (s *Scheduler) handleReorder(_ context.Context, msg interfaces.Message) (*interfaces.Response, error) {
	req, ok := msg.Payload.(interfaces.ReorderRequest)
	if !ok {
		return nil, fmt.Errorf("publish:reorder requires a ReorderRequest payload")
	}
	if !s.queues.Reorder(req.EntityType, req.EntityID, req.Position) {
		return &interfaces.Response{Success: true, Noop: true}, nil
	}
	return &interfaces.Response{Success: true}, nil
}

func (s *Scheduler) handleList(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
	req, ok := msg.Payload.(interfaces.ListRequest)
	if !ok {
		return nil, fmt.Errorf("publish:list requires a ListRequest payload")
	}

	response := interfaces.ListResponse{
		EntityType: req.EntityType,
		Queue:      s.queues.List(req.EntityType),
	}
	s.emit(ctx, interfaces.MessagePublishListResponse, response)
	return &interfaces.Response{Success: true, Data: response}, nil
}

func (s *Scheduler) handleReportSuccess(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
	report, ok := msg.Payload.(interfaces.PublishSuccessReport)
	if !ok {
		return nil, fmt.Errorf("publish:report:success requires a PublishSuccessReport payload")
	}

	result := report.Result
	if result == nil {
		result = &models.PublishResult{}
	}
	s.recordSuccess(ctx, report.EntityType, report.EntityID, result)
	return &interfaces.Response{Success: true}, nil
}

func (s *Scheduler) handleReportFailure(ctx context.Context, msg interfaces.Message) (*interfaces.Response, error) {
	report, ok := msg.Payload.(interfaces.PublishFailureReport)
	if !ok {
		return nil, fmt.Errorf("publish:report:failure requires a PublishFailureReport payload")
	}

	s.recordFailure(ctx, report.EntityType, report.EntityID, fmt.Errorf("%s", report.Error))
	return &interfaces.Response{Success: true}, nil
}

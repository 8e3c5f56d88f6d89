package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a build lifecycle event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// BuildID is the associated build ID, if applicable.
	BuildID string `json:"build_id,omitempty"`

	// JobID is the associated job ID, if applicable.
	JobID string `json:"job_id,omitempty"`

	// ImageRef is the associated image reference, if applicable.
	ImageRef string `json:"image_ref,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeBuildStarted     = "build.started"
	EventTypeBuildCompleted   = "build.completed"
	EventTypeBuildFailed      = "build.failed"
	EventTypeJobStarted       = "job.started"
	EventTypeJobCompleted     = "job.completed"
	EventTypeJobFailed        = "job.failed"
	EventTypeJobRetried       = "job.retried"
	EventTypeImagePushed      = "image.pushed"
	EventTypeValidationFailed = "validation.failed"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeError            = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishBuildStarted publishes a build started event.
func (ep *EventPublisher) PublishBuildStarted(buildID, trigger string, jobs int) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildStarted,
		Source:  "builder",
		BuildID: buildID,
		Message: fmt.Sprintf("Build %s started with %d jobs", buildID, jobs),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"trigger": trigger,
			"jobs":    jobs,
		},
	})
}

// PublishBuildCompleted publishes a build completed event.
func (ep *EventPublisher) PublishBuildCompleted(buildID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildCompleted,
		Source:  "builder",
		BuildID: buildID,
		Message: fmt.Sprintf("Build %s completed with status: %s", buildID, status),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishBuildFailed publishes a build failed event.
func (ep *EventPublisher) PublishBuildFailed(buildID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeBuildFailed,
		Source:  "builder",
		BuildID: buildID,
		Message: fmt.Sprintf("Build %s failed: %s", buildID, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishJobStarted publishes a job started event.
func (ep *EventPublisher) PublishJobStarted(buildID, jobID, imageRef, stage string) error {
	return ep.Publish(Event{
		Type:     EventTypeJobStarted,
		Source:   "builder",
		BuildID:  buildID,
		JobID:    jobID,
		ImageRef: imageRef,
		Message:  fmt.Sprintf("Job %s started: %s of %s", jobID, stage, imageRef),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"stage": stage,
		},
	})
}

// PublishJobCompleted publishes a job completed event.
func (ep *EventPublisher) PublishJobCompleted(buildID, jobID, imageRef string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:     EventTypeJobCompleted,
		Source:   "builder",
		BuildID:  buildID,
		JobID:    jobID,
		ImageRef: imageRef,
		Message:  fmt.Sprintf("Job %s completed for %s", jobID, imageRef),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"duration": duration.Seconds(),
		},
	})
}

// PublishJobFailed publishes a job failed event.
func (ep *EventPublisher) PublishJobFailed(buildID, jobID, imageRef, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeJobFailed,
		Source:   "builder",
		BuildID:  buildID,
		JobID:    jobID,
		ImageRef: imageRef,
		Message:  fmt.Sprintf("Job %s failed for %s: %s", jobID, imageRef, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishJobRetried publishes a job retry event.
func (ep *EventPublisher) PublishJobRetried(buildID, jobID string, attempt int, delay time.Duration, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeJobRetried,
		Source:  "builder",
		BuildID: buildID,
		JobID:   jobID,
		Message: fmt.Sprintf("Job %s retry %d scheduled in %s: %s", jobID, attempt, delay, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.Seconds(),
			"reason":  reason,
		},
	})
}

// PublishImagePushed publishes an image pushed event.
func (ep *EventPublisher) PublishImagePushed(buildID, imageRef, digest string) error {
	return ep.Publish(Event{
		Type:     EventTypeImagePushed,
		Source:   "builder",
		BuildID:  buildID,
		ImageRef: imageRef,
		Message:  fmt.Sprintf("Image %s pushed", imageRef),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"digest": digest,
		},
	})
}

// PublishValidationFailed publishes a validation failed event.
func (ep *EventPublisher) PublishValidationFailed(layer string, errorCount int) error {
	return ep.Publish(Event{
		Type:    EventTypeValidationFailed,
		Source:  "config",
		Message: fmt.Sprintf("Validation failed at the %s layer with %d errors", layer, errorCount),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"layer":  layer,
			"errors": errorCount,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(imageRef, policyName, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypePolicyViolation,
		Source:   "policy",
		ImageRef: imageRef,
		Message:  fmt.Sprintf("Policy violation for %s: %s - %s", imageRef, policyName, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := time.NewTicker(ep.flushInterval())
	defer flush.Stop()

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-flush.C:
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Drain whatever is buffered before shutting down
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						ep.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) flushInterval() time.Duration {
	if ep.config.FlushInterval > 0 {
		return ep.config.FlushInterval
	}
	return time.Second
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByBuildID creates a filter that only allows events for a specific build.
func FilterByBuildID(buildID string) EventFilter {
	return func(event Event) bool {
		return event.BuildID == buildID
	}
}

// FilterByImageRef creates a filter that only allows events for a specific image.
func FilterByImageRef(imageRef string) EventFilter {
	return func(event Event) bool {
		return event.ImageRef == imageRef
	}
}

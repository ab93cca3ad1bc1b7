package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler observes one deployment lifecycle event. Handlers run on their own
// goroutine and must not assume the deployment still exists by the time they
// fire; a returned error is logged, never propagated back to the engine.
type Handler func(ctx context.Context, event Event) error

// Bus fans deployment lifecycle events out to in-process observers. The
// orchestration engine publishes fire-and-forget: a slow or failing observer
// can never stall a state transition, so there is no synchronous publish and
// Publish has no error to return.
type Bus struct {
	mu        sync.RWMutex
	observers map[EventType][]Handler
	logger    *zap.Logger
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		observers: make(map[EventType][]Handler),
		logger:    logger,
	}
}

// Subscribe registers handler for eventType. Multiple handlers per type are
// allowed; registration order is not significant.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers[eventType] = append(b.observers[eventType], handler)
}

// Publish delivers event to every handler subscribed to its type, each on
// its own goroutine. Handler panics are contained and logged so one broken
// observer cannot take down the publishing deployment workflow.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := b.observers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event_type", string(event.Type)),
						zap.String("deployment_id", event.DeploymentID),
						zap.Any("panic", r),
					)
				}
			}()
			if err := h(ctx, event); err != nil {
				b.logger.Error("event handler failed",
					zap.String("event_type", string(event.Type)),
					zap.String("deployment_id", event.DeploymentID),
					zap.Error(err),
				)
			}
		}(handler)
	}
}

package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/restock/internal/core/domain"
	"github.com/rl1809/restock/internal/port"
)

const publishTimeout = 5 * time.Second

// Emitter receives domain events once their unit of work has committed.
type Emitter interface {
	Emit(ctx context.Context, events ...domain.Event)
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, ...domain.Event) {}

// EventDispatcher queues events and publishes them from a fixed pool of workers.
type EventDispatcher struct {
	publisher port.EventPublisher
	queue     chan domain.Event
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEventDispatcher(publisher port.EventPublisher, queueSize int, logger *zap.Logger) *EventDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventDispatcher{
		publisher: publisher,
		queue:     make(chan domain.Event, queueSize),
		logger:    logger,
	}
}

func (d *EventDispatcher) Start(workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.logger.Info("event workers started", zap.Int("workers", workers))
}

// Emit blocks while the queue is full unless ctx is done, in which case the event is
// dropped and logged.
func (d *EventDispatcher) Emit(ctx context.Context, events ...domain.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		for _, e := range events {
			d.logger.Warn("dispatcher closed, event dropped", zap.String("event_id", e.ID), zap.String("type", string(e.Type)))
		}
		return
	}
	for _, e := range events {
		select {
		case d.queue <- e:
			continue
		default:
		}
		select {
		case d.queue <- e:
		case <-ctx.Done():
			d.logger.Warn("event dropped", zap.String("event_id", e.ID), zap.String("type", string(e.Type)), zap.Error(ctx.Err()))
		}
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (d *EventDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *EventDispatcher) workerLoop(id int) {
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := d.publisher.Publish(ctx, e); err != nil {
			d.logger.Error("publish event failed",
				zap.Int("worker", id),
				zap.String("event_id", e.ID),
				zap.String("type", string(e.Type)),
				zap.String("order_id", e.OrderID),
				zap.Error(err),
			)
		} else {
			d.logger.Debug("event published", zap.Int("worker", id), zap.String("event_id", e.ID), zap.String("type", string(e.Type)))
		}
		cancel()
	}
}

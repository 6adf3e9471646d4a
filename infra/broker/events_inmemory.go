package broker

import (
	"context"
	"sync"

	"bitbucket.org/novatechnologies/datafeed/domain"
	"bitbucket.org/novatechnologies/datafeed/infra/logger"
)

var _ domain.EventsBroker = new(EventsInMemory)

const defaultQueueSize = 256

type envelope struct {
	tp domain.EventType
	ev *domain.Event
}

// EventsInMemory is in-memory manager which stores subscriptions and runs
// handlers on a single worker goroutine, so events of one publisher are
// delivered in publishing order.
type EventsInMemory struct {
	log         logger.Logger
	mu          sync.RWMutex
	subscribers map[domain.EventType][]domain.EventHandler
	queue       chan envelope
	done        chan struct{}
}

func NewInMemory(ctx context.Context) *EventsInMemory {
	ps := &EventsInMemory{
		log:         logger.DefaultLogger,
		subscribers: make(map[domain.EventType][]domain.EventHandler),
		queue:       make(chan envelope, defaultQueueSize),
		done:        make(chan struct{}),
	}
	go ps.run(ctx)
	return ps
}

func (ps *EventsInMemory) WithLogger(lg logger.Logger) *EventsInMemory {
	ps.log = lg
	return ps
}

func (ps *EventsInMemory) Subscribe(
	tp domain.EventType,
	h domain.EventHandler,
) {
	if tp == "" || h == nil {
		return
	}

	ps.mu.Lock()
	ps.subscribers[tp] = append(ps.subscribers[tp], h)
	ps.mu.Unlock()
}

// Publish enqueues the event. It blocks while the queue is full and drops the
// event once the broker is stopped.
func (ps *EventsInMemory) Publish(tp domain.EventType, ev *domain.Event) {
	select {
	case <-ps.done:
		ps.log.Warnf("Broker is stopped, dropping %s event", tp)
	case ps.queue <- envelope{tp: tp, ev: ev}:
	}
}

// Done is closed after the worker has stopped.
func (ps *EventsInMemory) Done() <-chan struct{} {
	return ps.done
}

func (ps *EventsInMemory) run(ctx context.Context) {
	defer close(ps.done)
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ps.queue:
			ps.deliver(e.tp, e.ev)
		}
	}
}

func (ps *EventsInMemory) deliver(tp domain.EventType, ev *domain.Event) {
	ps.mu.RLock()
	handlers := append([]domain.EventHandler(nil), ps.subscribers[tp]...)
	ps.mu.RUnlock()

	for _, handler := range handlers {
		ps.call(tp, handler, ev)
	}
}

func (ps *EventsInMemory) call(tp domain.EventType, handler domain.EventHandler, ev *domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			ps.log.Errorf(
				"Panic while executing handler %+v for %s tp: %+v",
				handler, tp, r,
			)
		}
	}()

	if err := handler(ev); err != nil {
		ps.log.Errorf(
			"Error while executing handler %+v for %s tp: %v",
			handler, tp, err,
		)
	}
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"

	"github.com/GoDuraStore/go-dura-store/models"
)

const (
	defaultMaxConcurrentHandlers = 100

	// Consumer reconnect backoff.
	subscribeBaseBackoff = 500 * time.Millisecond
	subscribeMaxBackoff  = 30 * time.Second
	subscribeJitter      = 250 * time.Millisecond
)

type subscriber struct {
	id      models.SubscriptionID
	handler models.EventHandler
}

// topicConsumers is the set of handlers for one topic plus the cancel for
// the consumer goroutine feeding them. The consumer exists while at least
// one handler is registered.
type topicConsumers struct {
	subscribers []subscriber
	cancel      context.CancelFunc
}

// eventBus multiplexes the store's telemetry topics (reclamation outcomes,
// evictions, rate-limit denials) over a single PubSub transport. One
// consumer goroutine per topic fans messages out to every registered
// handler; handler concurrency is bounded by a semaphore so a slow
// downstream cannot pile up unbounded goroutines.
type eventBus struct {
	config *models.Config
	pubsub models.PubSub
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	topics map[string]*topicConsumers

	nextSubID  atomic.Uint64
	handlerSem chan struct{}

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewEventBus(config *models.Config, logger watermill.LoggerAdapter, ps models.PubSub) models.EventBus {
	rootCtx, cancel := context.WithCancel(context.Background())

	maxHandlers := config.EventBus.MaxConcurrentHandlers
	if maxHandlers <= 0 {
		maxHandlers = defaultMaxConcurrentHandlers
	}

	return &eventBus{
		config:     config,
		pubsub:     ps,
		logger:     logger,
		topics:     make(map[string]*topicConsumers),
		handlerSem: make(chan struct{}, maxHandlers),
		rootCtx:    rootCtx,
		cancel:     cancel,
	}
}

// topic maps an event type to its transport topic, applying the configured
// prefix so multiple stores can share one broker.
func (bus *eventBus) topic(eventType string) string {
	prefix := bus.config.EventBus.Prefix
	if prefix == "" {
		return eventType
	}
	return prefix + "." + eventType
}

func (bus *eventBus) Publish(ctx context.Context, evt models.Event) error {
	event := evt

	if event.Type == "" {
		return fmt.Errorf("eventbus: event type must not be empty")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Metadata == nil {
		event.Metadata = make(map[string]string)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &models.Message{
		UUID:    event.ID,
		Payload: payload,
		Metadata: map[string]string{
			"event_type": event.Type,
			"timestamp":  event.Timestamp.Format(time.RFC3339Nano),
		},
	}

	return bus.pubsub.Publish(ctx, bus.topic(event.Type), msg)
}

func (bus *eventBus) Subscribe(
	eventType string,
	handler models.EventHandler,
) (models.SubscriptionID, error) {
	if handler == nil {
		return 0, fmt.Errorf("eventbus: handler must not be nil")
	}

	topic := bus.topic(eventType)
	id := models.SubscriptionID(bus.nextSubID.Add(1))

	bus.mu.Lock()
	defer bus.mu.Unlock()

	consumers, exists := bus.topics[topic]
	if !exists {
		ctx, cancel := context.WithCancel(bus.rootCtx)
		consumers = &topicConsumers{cancel: cancel}
		bus.topics[topic] = consumers

		bus.wg.Add(1)
		go bus.consume(ctx, topic)
	}

	consumers.subscribers = append(consumers.subscribers, subscriber{
		id:      id,
		handler: handler,
	})

	return id, nil
}

func (bus *eventBus) Unsubscribe(eventType string, id models.SubscriptionID) {
	topic := bus.topic(eventType)

	bus.mu.Lock()
	defer bus.mu.Unlock()

	consumers, ok := bus.topics[topic]
	if !ok {
		return
	}

	subs := consumers.subscribers
	for i, sub := range subs {
		if sub.id == id {
			consumers.subscribers = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	// Last handler gone: the consumer goroutine has nothing to feed.
	if len(consumers.subscribers) == 0 {
		consumers.cancel()
		delete(bus.topics, topic)
	}
}

// consume subscribes to topic and dispatches its messages until the
// subscription is cancelled, re-subscribing with jittered backoff on
// transport failures so a broker restart does not orphan the topic.
func (bus *eventBus) consume(ctx context.Context, topic string) {
	defer bus.wg.Done()

	backoff := subscribeBaseBackoff

	for {
		msgs, err := bus.pubsub.Subscribe(ctx, topic)
		if err != nil {
			wait := backoff + time.Duration(rand.Int63n(int64(subscribeJitter)))

			bus.logger.Error(
				"failed to subscribe to topic, will retry",
				err,
				watermill.LogFields{"topic": topic, "retry_in_ms": wait.Milliseconds()},
			)

			select {
			case <-time.After(wait):
				backoff = min(backoff*2, subscribeMaxBackoff)
				continue
			case <-ctx.Done():
				return
			}
		}
		backoff = subscribeBaseBackoff

		bus.dispatch(ctx, topic, msgs)

		select {
		case <-ctx.Done():
			return
		default:
		}

		// The transport closed the stream; pause briefly before
		// re-subscribing so a flapping broker does not spin the loop.
		select {
		case <-time.After(subscribeBaseBackoff):
		case <-ctx.Done():
			return
		}
	}
}

// dispatch fans each message out to every handler registered for the topic
// at the moment of delivery.
func (bus *eventBus) dispatch(ctx context.Context, topic string, msgs <-chan *models.Message) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				return
			}

			var event models.Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				bus.logger.Error(
					"failed to unmarshal event",
					err,
					watermill.LogFields{
						"topic":      topic,
						"message_id": msg.UUID,
					},
				)
				continue
			}

			bus.mu.RLock()
			consumers := bus.topics[topic]
			handlers := append([]subscriber(nil), consumers.subscribers...)
			bus.mu.RUnlock()

			for _, sub := range handlers {
				bus.handlerSem <- struct{}{}
				bus.wg.Add(1)

				go bus.runHandler(ctx, sub.handler, event)
			}
		}
	}
}

// runHandler invokes one handler, containing panics so a misbehaving
// subscriber cannot take down the bus.
func (bus *eventBus) runHandler(
	ctx context.Context,
	handler models.EventHandler,
	event models.Event,
) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.Error(
				"event handler panicked",
				fmt.Errorf("panic: %v", r),
				watermill.LogFields{
					"event_type": event.Type,
					"event_id":   event.ID,
				},
			)
		}
		<-bus.handlerSem
		bus.wg.Done()
	}()

	if err := handler(ctx, event); err != nil {
		bus.logger.Error(
			"event handler error",
			err,
			watermill.LogFields{
				"event_type": event.Type,
				"event_id":   event.ID,
			},
		)
	}
}

func (bus *eventBus) Close() error {
	bus.cancel()
	bus.wg.Wait()
	return bus.pubsub.Close()
}

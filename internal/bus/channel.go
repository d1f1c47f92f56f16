package bus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opensource-finance/redress/internal/domain"
)

// DefaultBufferSize is the per-subscriber queue length of a ChannelBus.
const DefaultBufferSize = 1000

type route struct {
	tenant string
	topic  string
}

// ChannelBus is an in-process EventBus. Every subscriber of a route gets its
// own buffered queue drained by one goroutine.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	routes     map[route][]*channelSubscription
	closed     bool
	dropped    atomic.Int64
}

type channelSubscription struct {
	route   route
	handler domain.MessageHandler
	queue   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// NewChannelBus creates a bus whose subscribers queue up to bufferSize
// messages each.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[route][]*channelSubscription),
	}
}

// Publish fans the message out to every subscriber of the tenant's topic.
// A subscriber with a full queue misses it and the drop is counted.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := ValidateTenant(tenantID); err != nil {
		return err
	}
	return b.deliver(newMessage(ctx, tenantID, topic, payload))
}

func (b *ChannelBus) deliver(msg *domain.Message) error {
	// The read lock is held across the sends so Close cannot close a queue
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for _, sub := range b.routes[route{msg.TenantID, msg.Topic}] {
		select {
		case sub.queue <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber queue full, message dropped",
				"topic", msg.Topic,
				"tenant_id", msg.TenantID,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe starts delivering the tenant's topic to handler until the
// subscription is cancelled, ctx ends or the bus closes.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := ValidateTenant(tenantID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		route:   route{tenantID, topic},
		handler: handler,
		queue:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}
	b.routes[sub.route] = append(b.routes[sub.route], sub)

	go sub.drain()
	return sub, nil
}

func (s *channelSubscription) drain() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.handler(handlerContext(s.ctx, msg), msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"tenant_id", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Request publishes a message addressed back to a private reply topic and
// waits for the first Reply, ctx's end or DefaultRequestTimeout.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if err := ValidateTenant(tenantID); err != nil {
		return nil, err
	}
	ctx, cancel := withRequestTimeout(ctx)
	defer cancel()

	replies := make(chan []byte, 1)
	inbox := "_inbox." + uuid.NewString()
	sub, err := b.Subscribe(ctx, tenantID, inbox, func(_ context.Context, msg *domain.Message) error {
		select {
		case replies <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newMessage(ctx, tenantID, topic, payload)
	msg.Metadata[domain.MetadataReplyTo] = inbox
	if err := b.deliver(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply publishes payload to the inbox of a Request. Messages without a
// reply address are ignored.
func (b *ChannelBus) Reply(ctx context.Context, msg *domain.Message, payload []byte) error {
	inbox := msg.ReplyTo()
	if inbox == "" {
		return nil
	}
	return b.Publish(ctx, msg.TenantID, inbox, payload)
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. It is safe to call twice.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.cancel()
			close(sub.queue)
		}
	}
	clear(b.routes)
	return nil
}

// Dropped returns how many deliveries were skipped on full queues.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *ChannelBus) subscribers(tenantID, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes[route{tenantID, topic}])
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := slices.DeleteFunc(b.routes[sub.route], func(s *channelSubscription) bool { return s == sub })
	if len(subs) == 0 {
		delete(b.routes, sub.route)
		return
	}
	b.routes[sub.route] = subs
}

// Unsubscribe stops delivery to this subscription.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.remove(s)
	s.cancel()
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.route.topic
}

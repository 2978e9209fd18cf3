// Package bus implements the Message Bus (C7): a bounded inbound queue
// fed by every channel adapter, and per-session outbound dispatch. It
// generalizes the teacher's channels.Registry fan-in
// (internal/channels/channel.go's AggregateMessages) and the teacher's
// outbound envelope/delivery shape (internal/outbound) into the spec's
// InboundMessage/OutboundMessage data model.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// SessionKey identifies a conversation thread for per-session
// serialization and outbound routing.
type SessionKey struct {
	Channel models.ChannelType
	ChatID  string
}

// String returns a stable textual form suitable for use as a map key
// in callers that cannot use SessionKey directly (e.g. logging).
func (k SessionKey) String() string {
	return string(k.Channel) + ":" + k.ChatID
}

// InboundMessage is a channel-agnostic message arriving for processing.
type InboundMessage struct {
	Session     SessionKey
	MessageID   string
	SenderID    string
	Content     string
	Attachments []models.Attachment
	Metadata    map[string]any
	ReceivedAt  time.Time
}

// OutboundMessage is a channel-agnostic reply to be delivered.
type OutboundMessage struct {
	Session     SessionKey
	Content     string
	Attachments []models.Attachment
	Metadata    map[string]any
}

// OutboundSender delivers an OutboundMessage on its target channel. A
// channels.Registry satisfies this once adapted per channel type.
type OutboundSender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// Bus fans inbound messages from every registered source into a single
// bounded queue, and routes outbound messages to the sender registered
// for their channel.
type Bus struct {
	inbound chan InboundMessage

	mu          sync.RWMutex
	senders     map[models.ChannelType]OutboundSender
	chunkLimits map[models.ChannelType]int
	limiters    map[models.ChannelType]*RateLimiter
}

// Option configures per-channel delivery tuning at construction time.
type Option func(*Bus)

// WithChunkLimit makes Deliver split long OutboundMessage content for
// channel into pieces no larger than maxSize, per ChannelsConfig.ChunkLimits.
func WithChunkLimit(channel models.ChannelType, maxSize int) Option {
	return func(b *Bus) { b.chunkLimits[channel] = maxSize }
}

// WithRateLimit makes Deliver throttle sends on channel to a token
// bucket, per ChannelsConfig.RateLimits.
func WithRateLimit(channel models.ChannelType, perSecond float64, burst int) Option {
	return func(b *Bus) { b.limiters[channel] = NewRateLimiter(perSecond, burst) }
}

// New creates a Bus with the given inbound queue capacity (§5
// Backpressure: once full, Publish blocks the caller rather than
// dropping messages).
func New(queueSize int, opts ...Option) *Bus {
	if queueSize <= 0 {
		queueSize = 1
	}
	b := &Bus{
		inbound:     make(chan InboundMessage, queueSize),
		senders:     make(map[models.ChannelType]OutboundSender),
		chunkLimits: make(map[models.ChannelType]int),
		limiters:    make(map[models.ChannelType]*RateLimiter),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RegisterSender associates an OutboundSender with a channel type.
func (b *Bus) RegisterSender(channel models.ChannelType, sender OutboundSender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.senders[channel] = sender
}

// Publish enqueues an inbound message, blocking if the queue is full
// or returning ctx.Err() if ctx is cancelled first.
func (b *Bus) Publish(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues an inbound message without blocking, reporting
// false if the queue is currently full.
func (b *Bus) TryPublish(msg InboundMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		return false
	}
}

// Inbound returns the channel consumers range over to receive messages
// in FIFO arrival order across every source.
func (b *Bus) Inbound() <-chan InboundMessage {
	return b.inbound
}

// Deliver routes an outbound message to the sender registered for its
// session's channel, applying that channel's rate limit and chunk size
// if configured via WithRateLimit/WithChunkLimit. A chunked message is
// sent as several Send calls; only the first carries attachments.
// Returns errs.Channel-wrapped errors from the sender unchanged;
// callers decide retry policy.
func (b *Bus) Deliver(ctx context.Context, msg OutboundMessage) error {
	b.mu.RLock()
	sender, ok := b.senders[msg.Session.Channel]
	limiter := b.limiters[msg.Session.Channel]
	chunkLimit := b.chunkLimits[msg.Session.Channel]
	b.mu.RUnlock()
	if !ok {
		return &NoSenderError{Channel: msg.Session.Channel}
	}

	chunks := []string{msg.Content}
	if chunkLimit > 0 {
		if split := NewMessageChunker(chunkLimit).Chunk(msg.Content); len(split) > 0 {
			chunks = split
		}
	}

	for i, chunk := range chunks {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		part := msg
		part.Content = chunk
		if i > 0 {
			part.Attachments = nil
		}
		if err := sender.Send(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

// NoSenderError indicates no OutboundSender is registered for a channel.
type NoSenderError struct {
	Channel models.ChannelType
}

func (e *NoSenderError) Error() string {
	return "bus: no outbound sender registered for channel " + string(e.Channel)
}

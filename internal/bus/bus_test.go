package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/nexus/pkg/models"
)

type fakeSender struct {
	mu  sync.Mutex
	got []OutboundMessage
	err error
}

func (f *fakeSender) Send(ctx context.Context, msg OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, msg)
	return nil
}

func TestPublishAndInboundOrdering(t *testing.T) {
	b := New(4)
	key := SessionKey{Channel: models.ChannelTelegram, ChatID: "c1"}

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(context.Background(), InboundMessage{
			Session:   key,
			MessageID: string(rune('a' + i)),
		}))
	}

	for i := 0; i < 3; i++ {
		msg := <-b.Inbound()
		assert.Equal(t, string(rune('a'+i)), msg.MessageID)
	}
}

func TestPublishBlocksWhenFullUntilContextCancelled(t *testing.T) {
	b := New(1)
	key := SessionKey{Channel: models.ChannelDiscord, ChatID: "c1"}
	require.NoError(t, b.Publish(context.Background(), InboundMessage{Session: key}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, InboundMessage{Session: key})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryPublishReportsFullQueue(t *testing.T) {
	b := New(1)
	key := SessionKey{Channel: models.ChannelSlack, ChatID: "c1"}
	assert.True(t, b.TryPublish(InboundMessage{Session: key}))
	assert.False(t, b.TryPublish(InboundMessage{Session: key}))
}

func TestDeliverRoutesByChannel(t *testing.T) {
	b := New(1)
	sender := &fakeSender{}
	b.RegisterSender(models.ChannelTelegram, sender)

	msg := OutboundMessage{Session: SessionKey{Channel: models.ChannelTelegram, ChatID: "c1"}, Content: "hi"}
	require.NoError(t, b.Deliver(context.Background(), msg))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.got, 1)
	assert.Equal(t, "hi", sender.got[0].Content)
}

func TestDeliverWithoutSenderFails(t *testing.T) {
	b := New(1)
	err := b.Deliver(context.Background(), OutboundMessage{Session: SessionKey{Channel: models.ChannelDiscord}})
	require.Error(t, err)
	var noSender *NoSenderError
	assert.ErrorAs(t, err, &noSender)
}

func TestSessionKeyString(t *testing.T) {
	key := SessionKey{Channel: models.ChannelWhatsApp, ChatID: "42"}
	assert.Equal(t, "whatsapp:42", key.String())
}

func TestDeliverChunksLongContent(t *testing.T) {
	b := New(1, WithChunkLimit(models.ChannelDiscord, 10))
	sender := &fakeSender{}
	b.RegisterSender(models.ChannelDiscord, sender)

	msg := OutboundMessage{
		Session:     SessionKey{Channel: models.ChannelDiscord, ChatID: "c1"},
		Content:     "one two three four five",
		Attachments: []models.Attachment{{Filename: "f.txt"}},
	}
	require.NoError(t, b.Deliver(context.Background(), msg))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Greater(t, len(sender.got), 1)
	for _, chunk := range sender.got {
		assert.LessOrEqual(t, len(chunk.Content), 10)
	}
	assert.NotEmpty(t, sender.got[0].Attachments)
	assert.Empty(t, sender.got[1].Attachments)
}

func TestDeliverWithoutChunkLimitSendsWhole(t *testing.T) {
	b := New(1)
	sender := &fakeSender{}
	b.RegisterSender(models.ChannelTelegram, sender)

	long := "a very long message that would exceed any small chunk limit if one were configured"
	msg := OutboundMessage{Session: SessionKey{Channel: models.ChannelTelegram, ChatID: "c1"}, Content: long}
	require.NoError(t, b.Deliver(context.Background(), msg))

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.got, 1)
	assert.Equal(t, long, sender.got[0].Content)
}

func TestDeliverAppliesRateLimit(t *testing.T) {
	b := New(1, WithRateLimit(models.ChannelSlack, 1, 1))
	sender := &fakeSender{}
	b.RegisterSender(models.ChannelSlack, sender)

	key := SessionKey{Channel: models.ChannelSlack, ChatID: "c1"}
	require.NoError(t, b.Deliver(context.Background(), OutboundMessage{Session: key, Content: "one"}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	err := b.Deliver(ctx, OutboundMessage{Session: key, Content: "two"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMessageChunkerPreservesCodeBlocks(t *testing.T) {
	c := NewMessageChunker(20)
	chunks := c.Chunk("intro text\n```go\nfunc f() {}\n```\nmore text after the block")
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.NotEmpty(t, chunk)
	}
}

func TestRateLimiterAllowsBurstThenThrottles(t *testing.T) {
	r := NewRateLimiter(1, 2)
	assert.True(t, r.allow())
	assert.True(t, r.allow())
	assert.False(t, r.allow())
}

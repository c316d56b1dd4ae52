package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexander-manley/ray/internal/fixtures"
)

func TestPublisherBuffersWhileNoPollParked(t *testing.T) {
	t.Parallel()
	p := NewPublisher(fixtures.NewTestLogger(t), 10)
	p.RegisterSubscription("sub-1", ChannelNodeResources)

	p.Publish(Message{Channel: ChannelNodeResources, Key: "node-a", Payload: 1})
	p.Publish(Message{Channel: ChannelNodeResources, Key: "node-b", Payload: 2})

	messages, err := p.ConnectToSubscriber(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "node-a", messages[0].Key)
	assert.Equal(t, "node-b", messages[1].Key)
}

func TestPublisherCompletesParkedPoll(t *testing.T) {
	t.Parallel()
	p := NewPublisher(fixtures.NewTestLogger(t), 10)
	p.RegisterSubscription("sub-1", ChannelNodeResources)

	type outcome struct {
		messages []Message
		err      error
	}
	ch := make(chan outcome, 1)
	go func() {
		messages, err := p.ConnectToSubscriber(context.Background(), "sub-1")
		ch <- outcome{messages: messages, err: err}
	}()

	// Wait for the poll to park before publishing.
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.subscribers["sub-1"].waiter != nil
	}, time.Second, time.Millisecond)

	p.Publish(Message{Channel: ChannelNodeResources, Key: "node-a", Payload: 1})

	select {
	case o := <-ch:
		require.NoError(t, o.err)
		require.Len(t, o.messages, 1)
		assert.Equal(t, "node-a", o.messages[0].Key)
	case <-time.After(time.Second):
		require.FailNow(t, "poll never completed")
	}
}

func TestPublisherDoesNotCrossChannels(t *testing.T) {
	t.Parallel()
	p := NewPublisher(fixtures.NewTestLogger(t), 10)
	p.RegisterSubscription("sub-1", Channel("other"))

	p.Publish(Message{Channel: ChannelNodeResources, Key: "node-a", Payload: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	messages, err := p.ConnectToSubscriber(ctx, "sub-1")
	assert.Error(t, err)
	assert.Empty(t, messages)
}

func TestPublisherDropsOldestWhenBacklogged(t *testing.T) {
	t.Parallel()
	p := NewPublisher(fixtures.NewTestLogger(t), 2)
	p.RegisterSubscription("sub-1", ChannelNodeResources)

	p.Publish(Message{Channel: ChannelNodeResources, Key: "node-a", Payload: 1})
	p.Publish(Message{Channel: ChannelNodeResources, Key: "node-b", Payload: 2})
	p.Publish(Message{Channel: ChannelNodeResources, Key: "node-c", Payload: 3})

	messages, err := p.ConnectToSubscriber(context.Background(), "sub-1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "node-b", messages[0].Key)
	assert.Equal(t, "node-c", messages[1].Key)
}

func TestPublisherUnregisterSubscriptionStopsDelivery(t *testing.T) {
	t.Parallel()
	p := NewPublisher(fixtures.NewTestLogger(t), 10)
	p.RegisterSubscription("sub-1", ChannelNodeResources)
	p.UnregisterSubscription("sub-1", ChannelNodeResources)

	p.Publish(Message{Channel: ChannelNodeResources, Key: "node-a", Payload: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	messages, err := p.ConnectToSubscriber(ctx, "sub-1")
	assert.Error(t, err)
	assert.Empty(t, messages)
}

func TestPublisherUnregisterSubscriberReleasesParkedPoll(t *testing.T) {
	t.Parallel()
	p := NewPublisher(fixtures.NewTestLogger(t), 10)
	p.RegisterSubscription("sub-1", ChannelNodeResources)

	done := make(chan []Message, 1)
	go func() {
		messages, _ := p.ConnectToSubscriber(context.Background(), "sub-1")
		done <- messages
	}()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		sub, ok := p.subscribers["sub-1"]
		return ok && sub.waiter != nil
	}, time.Second, time.Millisecond)

	p.UnregisterSubscriber("sub-1")

	select {
	case messages := <-done:
		assert.Empty(t, messages)
	case <-time.After(time.Second):
		require.FailNow(t, "poll never completed")
	}
}

// Package pubsub distributes coordinator-side state changes to subscribers
// over long polls.  It carries no scheduling logic, publishers push messages
// in and parked subscriber polls are completed as messages arrive.
package pubsub

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Channel names a stream of related messages.
type Channel string

// ChannelNodeResources carries per-node resource updates.
const ChannelNodeResources Channel = "node-resources"

// SubscriberID identifies one long-polling subscriber.
type SubscriberID string

// Message is one published update.
type Message struct {
	Channel Channel     `json:"channel"`
	Key     string      `json:"key"`
	Payload interface{} `json:"payload"`
}

// DefaultMaxBuffered is how many messages are held for a subscriber with no
// poll outstanding before the oldest are dropped.
const DefaultMaxBuffered = 100

type subscriber struct {
	channels map[Channel]bool
	pending  []Message
	// waiter is non-nil while a long poll is parked on this subscriber.
	waiter chan []Message
}

// Publisher fans published messages out to registered subscribers.  All
// methods are thread safe.
type Publisher struct {
	logger      logrus.FieldLogger
	maxBuffered int

	mu          sync.Mutex
	subscribers map[SubscriberID]*subscriber
}

func NewPublisher(logger logrus.FieldLogger, maxBuffered int) *Publisher {
	if maxBuffered <= 0 {
		maxBuffered = DefaultMaxBuffered
	}
	return &Publisher{
		logger:      logger,
		maxBuffered: maxBuffered,
		subscribers: make(map[SubscriberID]*subscriber),
	}
}

// RegisterSubscription subscribes the subscriber to a channel, creating the
// subscriber if it is not yet known.
func (p *Publisher) RegisterSubscription(subscriberID SubscriberID, channel Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subscribers[subscriberID]
	if !ok {
		sub = &subscriber{channels: make(map[Channel]bool)}
		p.subscribers[subscriberID] = sub
	}
	sub.channels[channel] = true
}

// UnregisterSubscription removes one channel subscription.  The subscriber
// itself is dropped once it has no subscriptions and no parked poll.
func (p *Publisher) UnregisterSubscription(subscriberID SubscriberID, channel Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subscribers[subscriberID]
	if !ok {
		return
	}
	delete(sub.channels, channel)
	if len(sub.channels) == 0 && sub.waiter == nil {
		delete(p.subscribers, subscriberID)
	}
}

// UnregisterSubscriber drops the subscriber and everything buffered for it.
// A parked poll completes empty.
func (p *Publisher) UnregisterSubscriber(subscriberID SubscriberID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subscribers[subscriberID]
	if !ok {
		return
	}
	if sub.waiter != nil {
		close(sub.waiter)
	}
	delete(p.subscribers, subscriberID)
}

// Publish delivers the message to every subscriber of its channel.  It never
// blocks, subscribers with no poll outstanding buffer up to maxBuffered
// messages and then lose the oldest.
func (p *Publisher) Publish(message Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for subscriberID, sub := range p.subscribers {
		if !sub.channels[message.Channel] {
			continue
		}
		if sub.waiter != nil {
			sub.waiter <- []Message{message}
			sub.waiter = nil
			continue
		}
		sub.pending = append(sub.pending, message)
		if len(sub.pending) > p.maxBuffered {
			p.logger.WithField("subscriber", subscriberID).Warn("Subscriber is not keeping up, dropping oldest message")
			sub.pending = sub.pending[1:]
		}
	}
}

// ConnectToSubscriber parks a long poll for the subscriber.  It returns
// immediately when messages are already buffered, otherwise it waits until a
// message arrives or the context is done.  Only one poll may be parked per
// subscriber, a second poll displaces the first (which completes empty).
func (p *Publisher) ConnectToSubscriber(ctx context.Context, subscriberID SubscriberID) ([]Message, error) {
	p.mu.Lock()
	sub, ok := p.subscribers[subscriberID]
	if !ok {
		sub = &subscriber{channels: make(map[Channel]bool)}
		p.subscribers[subscriberID] = sub
	}
	if len(sub.pending) > 0 {
		messages := sub.pending
		sub.pending = nil
		p.mu.Unlock()
		return messages, nil
	}
	if sub.waiter != nil {
		close(sub.waiter)
	}
	waiter := make(chan []Message, 1)
	sub.waiter = waiter
	p.mu.Unlock()

	select {
	case messages := <-waiter:
		return messages, nil
	case <-ctx.Done():
		p.mu.Lock()
		if sub.waiter == waiter {
			sub.waiter = nil
		}
		p.mu.Unlock()
		// A message may have been handed over while the poll was timing out.
		select {
		case messages := <-waiter:
			if len(messages) > 0 {
				return messages, nil
			}
		default:
		}
		return nil, ctx.Err()
	}
}

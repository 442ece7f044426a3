// Package memory is an in-process pub/sub with the same surface as the Redis
// store. It is used when no Redis address is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memory: pubsub closed") //nolint:gochecknoglobals // sentinel error

const subscriberBuffer = 64

type subscriber struct {
	out  chan []byte
	once sync.Once
}

// PubSub delivers each payload to every current subscriber of its channel.
// A subscriber that falls more than its buffer behind misses payloads
// rather than blocking publishers.
type PubSub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

func New() *PubSub {
	return &PubSub{subs: make(map[string]map[*subscriber]struct{})}
}

func (ps *PubSub) Publish(_ context.Context, channel string, payload []byte) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return fmt.Errorf("memory.PubSub.Publish(%s): %w", channel, ErrClosed)
	}

	for sub := range ps.subs[channel] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case sub.out <- msg:
		default:
			log.Warn().Str("channel", channel).Msg("subscriber too slow, dropping message")
		}
	}
	return nil
}

// Subscribe returns payloads published to channel until ctx is done or
// cleanup is called. The returned channel is closed when delivery stops.
func (ps *PubSub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.closed {
		return nil, nil, fmt.Errorf("memory.PubSub.Subscribe(%s): %w", channel, ErrClosed)
	}

	sub := &subscriber{out: make(chan []byte, subscriberBuffer)}
	if ps.subs[channel] == nil {
		ps.subs[channel] = make(map[*subscriber]struct{})
	}
	ps.subs[channel][sub] = struct{}{}

	stop := context.AfterFunc(ctx, func() { ps.remove(channel, sub) })
	cleanup := func() {
		stop()
		ps.remove(channel, sub)
	}

	return sub.out, cleanup, nil
}

func (ps *PubSub) remove(channel string, sub *subscriber) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if subs, ok := ps.subs[channel]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(ps.subs, channel)
		}
	}
	sub.once.Do(func() { close(sub.out) })
}

// Close ends every subscription.
func (ps *PubSub) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.closed = true
	for channel, subs := range ps.subs {
		for sub := range subs {
			sub.once.Do(func() { close(sub.out) })
		}
		delete(ps.subs, channel)
	}
	return nil
}

// Subscribers reports how many subscriptions channel currently has.
func (ps *PubSub) Subscribers(channel string) int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.subs[channel])
}

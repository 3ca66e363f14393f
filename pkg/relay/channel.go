// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/aiku/mattermost-hookrelay/pkg/metrics"
)

// DefaultChannelSize is used when no capacity is configured.
const DefaultChannelSize = 2048

// ErrChannelClosed is returned by Send and Receive once Close was called.
var ErrChannelClosed = errors.New("relay: channel closed")

// Channel is a bounded multi-producer, single-consumer queue of packages.
// Send blocks while the queue is full. The data channel itself is never
// closed so concurrent senders cannot panic; closing is signalled through
// done instead.
type Channel struct {
	items     chan Package
	done      chan struct{}
	closeOnce sync.Once
}

// NewChannel returns a channel holding at most size packages. A size below
// one selects DefaultChannelSize.
func NewChannel(size int) *Channel {
	if size < 1 {
		size = DefaultChannelSize
	}
	return &Channel{
		items: make(chan Package, size),
		done:  make(chan struct{}),
	}
}

// Send enqueues p, waiting for space until ctx is done or the channel is
// closed.
func (c *Channel) Send(ctx context.Context, p Package) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	select {
	case c.items <- p:
		metrics.QueueDepth.Set(float64(len(c.items)))
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next package. Packages still queued when the channel
// is closed are abandoned.
func (c *Channel) Receive(ctx context.Context) (Package, error) {
	select {
	case <-c.done:
		return Package{}, ErrChannelClosed
	default:
	}
	select {
	case p := <-c.items:
		metrics.QueueDepth.Set(float64(len(c.items)))
		return p, nil
	case <-c.done:
		return Package{}, ErrChannelClosed
	case <-ctx.Done():
		return Package{}, ctx.Err()
	}
}

// Close marks the consumer side as gone. It is safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Len returns the number of queued packages.
func (c *Channel) Len() int { return len(c.items) }

// Cap returns the configured capacity.
func (c *Channel) Cap() int { return cap(c.items) }

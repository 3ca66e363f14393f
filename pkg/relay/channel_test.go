// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestChannelFIFO(t *testing.T) {
	t.Parallel()
	ch := NewChannel(4)
	ctx := context.Background()
	for i := uint32(1); i <= 3; i++ {
		if err := ch.Send(ctx, Package{Destination: Destination{AppID: i}}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if ch.Len() != 3 || ch.Cap() != 4 {
		t.Fatalf("Len/Cap: got %d/%d", ch.Len(), ch.Cap())
	}
	for i := uint32(1); i <= 3; i++ {
		p, err := ch.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if p.Destination.AppID != i {
			t.Errorf("Receive order: got %d, want %d", p.Destination.AppID, i)
		}
	}
}

func TestChannelDefaultSize(t *testing.T) {
	t.Parallel()
	if got := NewChannel(0).Cap(); got != DefaultChannelSize {
		t.Errorf("Cap: got %d, want %d", got, DefaultChannelSize)
	}
}

func TestChannelSendBlocksWhenFull(t *testing.T) {
	t.Parallel()
	ch := NewChannel(1)
	if err := ch.Send(context.Background(), Package{}); err != nil {
		t.Fatalf("first Send: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ch.Send(ctx, Package{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded on a full channel, got %v", err)
	}
}

func TestChannelSendResumesAfterReceive(t *testing.T) {
	t.Parallel()
	ch := NewChannel(1)
	ctx := context.Background()
	_ = ch.Send(ctx, Package{Destination: Destination{AppID: 1}})

	sent := make(chan error, 1)
	go func() {
		sent <- ch.Send(ctx, Package{Destination: Destination{AppID: 2}})
	}()

	select {
	case err := <-sent:
		t.Fatalf("Send returned before space was available: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	if _, err := ch.Receive(ctx); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	select {
	case err := <-sent:
		if err != nil {
			t.Fatalf("blocked Send: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Send never completed")
	}
}

func TestChannelClose(t *testing.T) {
	t.Parallel()
	ch := NewChannel(1)
	ctx := context.Background()
	_ = ch.Send(ctx, Package{})

	blocked := make(chan error, 1)
	go func() {
		blocked <- ch.Send(ctx, Package{})
	}()

	ch.Close()
	ch.Close()

	select {
	case err := <-blocked:
		if !errors.Is(err, ErrChannelClosed) {
			t.Errorf("blocked Send: expected ErrChannelClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not release blocked sender")
	}
	if err := ch.Send(ctx, Package{}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send after Close: expected ErrChannelClosed, got %v", err)
	}
	if _, err := ch.Receive(ctx); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Receive after Close: expected ErrChannelClosed, got %v", err)
	}
	if !ch.Closed() {
		t.Error("Closed should report true")
	}
}

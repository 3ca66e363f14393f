// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
	"github.com/aiku/mattermost-hookrelay/pkg/metrics"
)

// ErrForeignGuild is returned by Process for a package addressed to a guild
// the session is not a member of. Such packages are dropped.
var ErrForeignGuild = errors.New("relay: package addressed to unknown guild")

// WorkerOptions tune the delivery worker.
type WorkerOptions struct {
	// ThreadCacheSize bounds the resolved-thread cache. Zero disables it.
	ThreadCacheSize int
}

// Worker is the single consumer of a Channel. It is the only writer of relay
// threads, so packages are handled strictly one after another.
type Worker struct {
	adapter chat.Adapter
	ch      *Channel
	cache   *threadCache
	log     zerolog.Logger
}

// NewWorker builds a worker reading from ch and posting through adapter.
func NewWorker(adapter chat.Adapter, ch *Channel, log zerolog.Logger, opts WorkerOptions) *Worker {
	return &Worker{
		adapter: adapter,
		ch:      ch,
		cache:   newThreadCache(opts.ThreadCacheSize),
		log:     log.With().Str("component", "relay_worker").Logger(),
	}
}

// Run consumes packages until ctx is cancelled or the channel is closed.
// guilds is the session's guild list at startup. A failed package is logged
// and abandoned; it never stops the loop.
func (w *Worker) Run(ctx context.Context, guilds []chat.Guild) error {
	w.log.Info().Int("guilds", len(guilds)).Msg("Delivery worker started")
	for {
		p, err := w.ch.Receive(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) || errors.Is(err, context.Canceled) {
				w.log.Info().Msg("Delivery worker stopped")
				return nil
			}
			return err
		}

		log := w.log.With().
			Uint32("app_id", p.Destination.AppID).
			Str("server_id", p.Destination.ServerID).
			Logger()
		err = w.Process(ctx, guilds, p)
		switch {
		case err == nil:
			metrics.Deliveries.WithLabelValues("delivered").Inc()
		case errors.Is(err, ErrForeignGuild):
			metrics.Deliveries.WithLabelValues("dropped").Inc()
			log.Debug().Msg("Dropping package for unknown guild")
		default:
			metrics.Deliveries.WithLabelValues("failed").Inc()
			log.Error().Err(err).Msg("Failed to deliver package")
		}
	}
}

// Process resolves the destination thread for p, creating it when needed,
// and delivers the embed into it.
func (w *Worker) Process(ctx context.Context, guilds []chat.Guild, p Package) error {
	dest := p.Destination
	if !containsGuild(guilds, dest.ServerID) {
		return ErrForeignGuild
	}

	owner, err := w.adapter.GetUser(ctx, dest.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve owner display name: %w", err)
	}
	name := ThreadName(dest.Username, owner.Name())

	thread, err := w.resolveThread(ctx, dest, name)
	if err != nil {
		return err
	}

	_, err = w.adapter.SendMessage(ctx, chat.InThread(thread), chat.Message{Embed: FormatEmbed(p.Embed)})
	if err != nil {
		return fmt.Errorf("failed to send embed: %w", err)
	}
	return nil
}

func (w *Worker) resolveThread(ctx context.Context, dest Destination, name string) (*chat.Thread, error) {
	key := cacheKey{guildID: dest.ServerID, appID: dest.AppID}
	marker := dest.Marker()

	if w.cache != nil {
		if cached, ok := w.cache.get(key); ok {
			if cached.Name == name {
				if match, err := w.hasMarker(ctx, cached.ID, marker); err == nil && match {
					metrics.ThreadCacheHits.Inc()
					return &cached, nil
				}
			}
			w.cache.remove(key)
		}
	}

	threads, err := w.adapter.ListActiveThreads(ctx, dest.ServerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active threads: %w", err)
	}
	for i := range threads {
		t := threads[i]
		if t.Name != name {
			continue
		}
		match, err := w.hasMarker(ctx, t.ID, marker)
		if err != nil {
			return nil, fmt.Errorf("failed to read thread %s: %w", t.ID, err)
		}
		if match {
			w.remember(key, t)
			return &t, nil
		}
	}

	return w.createThread(ctx, dest, name, key)
}

func (w *Worker) createThread(ctx context.Context, dest Destination, name string, key cacheKey) (*chat.Thread, error) {
	title, err := w.adapter.SendMessage(ctx, chat.InChannel(dest.ChannelID), chat.Message{Content: name})
	if err != nil {
		return nil, fmt.Errorf("failed to post thread title: %w", err)
	}
	thread, err := w.adapter.CreatePublicThread(ctx, dest.ChannelID, title.ID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	if _, err := w.adapter.SendMessage(ctx, chat.InThread(thread), chat.Message{Content: dest.Marker()}); err != nil {
		return nil, fmt.Errorf("failed to post thread marker: %w", err)
	}
	metrics.ThreadsCreated.Inc()
	w.log.Info().
		Uint32("app_id", dest.AppID).
		Str("thread_id", thread.ID).
		Str("thread_name", name).
		Msg("Created relay thread")
	w.remember(key, *thread)
	return thread, nil
}

// hasMarker reports whether the second message of the thread, counted from
// the oldest, is the marker.
func (w *Worker) hasMarker(ctx context.Context, threadID, marker string) (bool, error) {
	var leading []chat.Message
	token := ""
	for len(leading) < 2 {
		page, err := w.adapter.GetMessages(ctx, threadID, token)
		if err != nil {
			return false, err
		}
		leading = append(leading, page.Messages...)
		if page.Next == "" {
			break
		}
		token = page.Next
	}
	return len(leading) >= 2 && leading[1].Content == marker, nil
}

func (w *Worker) remember(key cacheKey, t chat.Thread) {
	if w.cache != nil {
		w.cache.add(key, t)
	}
}

func containsGuild(guilds []chat.Guild, id string) bool {
	for _, g := range guilds {
		if g.ID == id {
			return true
		}
	}
	return false
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
)

const (
	reconnectAttempts = 5
	reconnectDelay    = 2 * time.Second
)

// CommandHandler receives parsed chat commands.
type CommandHandler interface {
	Dispatch(ctx context.Context, cmd chat.Command) error
}

// Session keeps the Mattermost websocket open and turns prefixed channel
// posts into commands.
type Session struct {
	client  *Client
	handler CommandHandler
	prefix  string
	log     zerolog.Logger

	wsMu     sync.Mutex
	wsClient *model.WebSocketClient

	// dispatchMu orders wg.Add in handleEvent against close(stopChan).
	dispatchMu sync.Mutex
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopChan   chan struct{}
	done       chan struct{}
}

func NewSession(client *Client, handler CommandHandler, prefix string, log zerolog.Logger) *Session {
	return &Session{
		client:   client,
		handler:  handler,
		prefix:   prefix,
		log:      log.With().Str("component", "mm_session").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start authenticates, lists the bot's teams and begins listening for
// commands. The returned guilds are the ones present at startup.
func (s *Session) Start(ctx context.Context) ([]chat.Guild, error) {
	if _, err := s.client.Connect(ctx); err != nil {
		return nil, err
	}
	guilds, err := s.client.ListGuilds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	if err := s.connectWebSocket(); err != nil {
		return nil, err
	}
	go s.listenWebSocket(ctx)
	s.log.Info().Int("teams", len(guilds)).Msg("Session ready")
	return guilds, nil
}

// Done is closed once the session stops receiving events for good.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the listener and waits for in-flight commands.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		s.dispatchMu.Lock()
		close(s.stopChan)
		s.dispatchMu.Unlock()
		s.wsMu.Lock()
		if s.wsClient != nil {
			s.wsClient.Close()
		}
		s.wsMu.Unlock()
	})
	s.wg.Wait()
}

func (s *Session) connectWebSocket() error {
	wsURL := httpToWS(s.client.cfg.ServerURL)
	ws, err := model.NewWebSocketClient4(wsURL, s.client.cfg.Token)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()

	s.wsMu.Lock()
	s.wsClient = ws
	s.wsMu.Unlock()

	s.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (s *Session) events() chan *model.WebSocketEvent {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.wsClient.EventChannel
}

func (s *Session) listenWebSocket(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case event, ok := <-s.events():
			if !ok {
				select {
				case <-s.stopChan:
					return
				default:
				}
				s.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				if err := s.reconnect(ctx); err != nil {
					s.log.Error().Err(err).Msg("Failed to reconnect WebSocket")
					return
				}
				continue
			}
			if event == nil {
				continue
			}
			s.handleEvent(ctx, event)
		}
	}
}

func (s *Session) reconnect(ctx context.Context) error {
	return retry.Do(
		s.connectWebSocket,
		retry.Attempts(reconnectAttempts),
		retry.Delay(reconnectDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn().Err(err).Uint("attempt", n+1).Msg("WebSocket reconnect failed")
		}),
	)
}

// handleEvent dispatches posted events that carry a command.
func (s *Session) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	if evt.EventType() != model.WebsocketEventPosted {
		s.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
		return
	}
	cmd, err := s.parsePostedEvent(ctx, evt)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if cmd == nil {
		return
	}
	s.dispatchMu.Lock()
	select {
	case <-s.stopChan:
		s.dispatchMu.Unlock()
		s.log.Debug().Str("command", cmd.Name).Msg("Session closing, dropping command")
		return
	default:
	}
	s.wg.Add(1)
	s.dispatchMu.Unlock()
	go func() {
		defer s.wg.Done()
		if err := s.handler.Dispatch(ctx, *cmd); err != nil {
			s.log.Debug().Err(err).
				Str("command", cmd.Name).
				Str("user_id", cmd.Caller.ID).
				Msg("Command finished with error")
		}
	}()
}

// parsePostedEvent returns (nil, nil) for posts that are not commands.
func (s *Session) parsePostedEvent(ctx context.Context, evt *model.WebSocketEvent) (*chat.Command, error) {
	data := evt.GetData()
	postJSON, ok := data["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	if post.UserId == s.client.BotID() {
		return nil, nil
	}
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	channelType, _ := data["channel_type"].(string)
	if channelType == string(model.ChannelTypeDirect) || channelType == string(model.ChannelTypeGroup) {
		return nil, nil
	}

	name, args, ok := ParseCommand(s.prefix, post.Message)
	if !ok {
		return nil, nil
	}

	teamID, _ := data["team_id"].(string)
	if teamID == "" {
		var err error
		if teamID, err = s.client.ChannelTeam(ctx, post.ChannelId); err != nil {
			return nil, err
		}
	}

	caller := chat.User{ID: post.UserId}
	caller.Username, _ = data["sender_name"].(string)
	caller.Username = strings.TrimPrefix(caller.Username, "@")
	if caller.Username == "" {
		user, err := s.client.GetUser(ctx, post.UserId)
		if err != nil {
			return nil, err
		}
		caller = *user
	}

	return &chat.Command{
		Name:      name,
		Args:      args,
		Caller:    caller,
		ChannelID: post.ChannelId,
		GuildID:   teamID,
	}, nil
}

// ParseCommand splits a prefixed message into a lowercased command name and
// its arguments.
func ParseCommand(prefix, message string) (name string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(message, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(message, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

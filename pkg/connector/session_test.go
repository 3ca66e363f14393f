// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
)

func postJSON(t *testing.T, p *model.Post) string {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal post: %v", err)
	}
	return string(b)
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		prefix   string
		message  string
		wantName string
		wantArgs []string
		wantOK   bool
	}{
		{"`", "`request myapp", "request", []string{"myapp"}, true},
		{"`", "`APPROVE  123 ", "approve", []string{"123"}, true},
		{"`", "`help", "help", []string{}, true},
		{"`", "`", "", nil, false},
		{"`", "request myapp", "", nil, false},
		{"`", " `request myapp", "", nil, false},
		{"!", "!revoke 5 now", "revoke", []string{"5", "now"}, true},
		{"", "`request", "", nil, false},
	}
	for _, tt := range tests {
		name, args, ok := ParseCommand(tt.prefix, tt.message)
		if ok != tt.wantOK || name != tt.wantName {
			t.Errorf("ParseCommand(%q, %q): got (%q, %v), want (%q, %v)", tt.prefix, tt.message, name, ok, tt.wantName, tt.wantOK)
			continue
		}
		if ok && !slices.Equal(args, tt.wantArgs) {
			t.Errorf("ParseCommand(%q, %q) args: got %v, want %v", tt.prefix, tt.message, args, tt.wantArgs)
		}
	}
}

func TestHttpToWS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		input string
		want  string
	}{
		{"https://mm.example.com", "wss://mm.example.com"},
		{"http://localhost:8065", "ws://localhost:8065"},
		{"wss://already.ws.com", "wss://already.ws.com"},
		{"ws://already.ws.com", "ws://already.ws.com"},
		{"ftp://other.com", "ftp://other.com"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := httpToWS(tt.input); got != tt.want {
			t.Errorf("httpToWS(%q): got %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestParsePostedEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		post    *model.Post
		data    map[string]any
		wantCmd string
	}{
		{
			name:    "command in team channel",
			post:    &model.Post{Id: "p1", UserId: "u1", ChannelId: "ch1", Message: "`request myapp"},
			data:    map[string]any{"sender_name": "@alice", "team_id": "team1", "channel_type": "O"},
			wantCmd: "request",
		},
		{
			name: "own post",
			post: &model.Post{Id: "p1", UserId: testBotID, ChannelId: "ch1", Message: "`help"},
			data: map[string]any{"sender_name": "@hookbot", "team_id": "team1"},
		},
		{
			name: "system post",
			post: &model.Post{Id: "p1", UserId: "u1", ChannelId: "ch1", Message: "`help", Type: model.PostTypeJoinChannel},
			data: map[string]any{"sender_name": "@alice", "team_id": "team1"},
		},
		{
			name: "direct message",
			post: &model.Post{Id: "p1", UserId: "u1", ChannelId: "dm", Message: "`help"},
			data: map[string]any{"sender_name": "@alice", "channel_type": "D"},
		},
		{
			name: "group message",
			post: &model.Post{Id: "p1", UserId: "u1", ChannelId: "gm", Message: "`help"},
			data: map[string]any{"sender_name": "@alice", "channel_type": "G"},
		},
		{
			name: "no prefix",
			post: &model.Post{Id: "p1", UserId: "u1", ChannelId: "ch1", Message: "hello"},
			data: map[string]any{"sender_name": "@alice", "team_id": "team1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newOfflineSession()
			data := map[string]any{"post": postJSON(t, tt.post)}
			for k, v := range tt.data {
				data[k] = v
			}
			cmd, err := s.parsePostedEvent(context.Background(), newWebSocketEvent(model.WebsocketEventPosted, tt.post.ChannelId, data))
			if err != nil {
				t.Fatalf("parsePostedEvent: %v", err)
			}
			if tt.wantCmd == "" {
				if cmd != nil {
					t.Errorf("expected skip, got %+v", cmd)
				}
				return
			}
			if cmd == nil || cmd.Name != tt.wantCmd {
				t.Fatalf("got %+v, want command %q", cmd, tt.wantCmd)
			}
			if cmd.Caller.ID != "u1" || cmd.Caller.Username != "alice" {
				t.Errorf("caller: %+v", cmd.Caller)
			}
			if cmd.GuildID != "team1" || cmd.ChannelID != "ch1" {
				t.Errorf("location: guild %q channel %q", cmd.GuildID, cmd.ChannelID)
			}
			if !slices.Equal(cmd.Args, []string{"myapp"}) {
				t.Errorf("args: %v", cmd.Args)
			}
		})
	}
}

func TestParsePostedEventMissingPost(t *testing.T) {
	t.Parallel()
	s := newOfflineSession()
	_, err := s.parsePostedEvent(context.Background(), newWebSocketEvent(model.WebsocketEventPosted, "ch1", map[string]any{}))
	if err == nil {
		t.Error("expected error for event without post data")
	}
}

func TestParsePostedEventResolvesTeamAndUser(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	f.AddTeam("team1", "ch1")
	f.Users["u1"] = &model.User{Id: "u1", Username: "alice"}

	c := newConnected(t, f, "")
	s := NewSession(c, &recordingHandler{}, "`", zerolog.Nop())
	evt := newWebSocketEvent(model.WebsocketEventPosted, "ch1", map[string]any{
		"post": postJSON(t, &model.Post{Id: "p1", UserId: "u1", ChannelId: "ch1", Message: "`approve 12"}),
	})

	cmd, err := s.parsePostedEvent(context.Background(), evt)
	if err != nil {
		t.Fatalf("parsePostedEvent: %v", err)
	}
	if cmd == nil || cmd.GuildID != "team1" || cmd.Caller.Username != "alice" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if !f.CalledPath("/api/v4/channels/ch1") || !f.CalledPath("/api/v4/users/u1") {
		t.Error("expected channel and user lookups")
	}
}

func TestHandleEventDispatches(t *testing.T) {
	t.Parallel()
	s := newOfflineSession()
	h := &recordingHandler{err: errors.New("handler failed")}
	s.handler = h

	s.handleEvent(context.Background(), newWebSocketEvent(model.WebsocketEventPosted, "ch1", map[string]any{
		"post":        postJSON(t, &model.Post{Id: "p1", UserId: "u1", ChannelId: "ch1", Message: "`HELP"}),
		"sender_name": "@alice",
		"team_id":     "team1",
	}))
	s.handleEvent(context.Background(), newWebSocketEvent(model.WebsocketEventTyping, "ch1", map[string]any{}))
	s.wg.Wait()

	cmds := h.Commands()
	if len(cmds) != 1 || cmds[0].Name != "help" {
		t.Fatalf("expected one help command, got %+v", cmds)
	}
}

func TestCloseRacesWithDispatch(t *testing.T) {
	t.Parallel()
	s := newOfflineSession()
	h := &recordingHandler{}
	s.handler = h
	evt := newWebSocketEvent(model.WebsocketEventPosted, "ch1", map[string]any{
		"post":        postJSON(t, &model.Post{Id: "p1", UserId: "u1", ChannelId: "ch1", Message: "`help"}),
		"sender_name": "@alice",
		"team_id":     "team1",
	})

	listening := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		close(listening)
		for i := 0; i < 200; i++ {
			s.handleEvent(context.Background(), evt)
		}
	}()
	<-listening
	s.Close()
	dispatched := len(h.Commands())
	<-finished

	if got := len(h.Commands()); got != dispatched {
		t.Errorf("commands dispatched after Close returned: %d before, %d after", dispatched, got)
	}
}

func TestSessionStartFailsWithoutServer(t *testing.T) {
	t.Parallel()
	s := newOfflineSession()
	if _, err := s.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail against an unreachable server")
	}
}

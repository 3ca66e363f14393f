// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
)

const (
	testToken = "test-token"
	testBotID = "bot-user"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It keeps posts in memory so threads created through the
// client can be read back.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall
	seq   int64

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// Teams maps user ID to team list.
	Teams map[string][]*model.Team
	// TeamMembers maps "teamID:userID" to the membership.
	TeamMembers map[string]*model.TeamMember
	// ChannelsForTeamUser maps "teamID:userID" to channel list.
	ChannelsForTeamUser map[string][]*model.Channel
	// Posts maps post ID to every post created or seeded.
	Posts map[string]*model.Post
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:               make(map[string]*model.User),
		TokenToUser:         map[string]string{testToken: testBotID},
		Channels:            make(map[string]*model.Channel),
		Teams:               make(map[string][]*model.Team),
		TeamMembers:         make(map[string]*model.TeamMember),
		ChannelsForTeamUser: make(map[string][]*model.Channel),
		Posts:               make(map[string]*model.Post),
		FailEndpoints:       make(map[string]bool),
	}
	f.Users[testBotID] = &model.User{Id: testBotID, Username: "hookbot", Roles: model.SystemUserRoleId}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

// AddTeam registers a team the bot belongs to with the given open channels.
func (f *fakeMM) AddTeam(teamID string, channelIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Teams[testBotID] = append(f.Teams[testBotID], &model.Team{Id: teamID, DisplayName: "Team " + teamID})
	for _, id := range channelIDs {
		ch := &model.Channel{Id: id, TeamId: teamID, Type: model.ChannelTypeOpen, Name: id}
		f.Channels[id] = ch
		key := teamID + ":" + testBotID
		f.ChannelsForTeamUser[key] = append(f.ChannelsForTeamUser[key], ch)
	}
}

// SeedPost stores a post as if it had been created earlier.
func (f *fakeMM) SeedPost(p *model.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if p.CreateAt == 0 {
		p.CreateAt = f.seq
	}
	f.Posts[p.Id] = p
}

func (f *fakeMM) Fail(prefix string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailEndpoints[prefix] = fail
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CountCalls(method, pathPart string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, pathPart) {
			n++
		}
	}
	return n
}

// PostsIn returns the posts of a channel, oldest first.
func (f *fakeMM) PostsIn(channelID string) []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Post
	for _, p := range f.Posts {
		if p.ChannelId == channelID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *model.Post) int { return int(a.CreateAt - b.CreateAt) })
	return out
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) shouldFail(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for prefix, fail := range f.FailEndpoints {
		if fail && strings.Contains(path, prefix) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusNotFound)
	writeJSON(w, map[string]any{"id": "api.not_found", "message": msg, "status_code": http.StatusNotFound})
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	if f.shouldFail(r.URL.Path) {
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, map[string]any{"id": "fake.error", "message": "fake error", "status_code": http.StatusInternalServerError})
		return
	}

	path := r.URL.Path
	parts := strings.Split(strings.TrimPrefix(path, "/api/v4/"), "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]any{"message": "unauthorized", "status_code": http.StatusUnauthorized})
			return
		}
		if u, ok := f.Users[uid]; ok {
			writeJSON(w, u)
			return
		}
		notFound(w, "user")

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && len(parts) == 2 && parts[0] == "users":
		if u, ok := f.Users[parts[1]]; ok {
			writeJSON(w, u)
			return
		}
		notFound(w, "user")

	// GET /api/v4/users/{user_id}/teams
	case r.Method == "GET" && len(parts) == 3 && parts[0] == "users" && parts[2] == "teams":
		teams := f.Teams[parts[1]]
		if teams == nil {
			teams = []*model.Team{}
		}
		writeJSON(w, teams)

	// GET /api/v4/users/{user_id}/teams/{team_id}/channels
	case r.Method == "GET" && len(parts) == 5 && parts[0] == "users" && parts[4] == "channels":
		chs := f.ChannelsForTeamUser[parts[3]+":"+parts[1]]
		if chs == nil {
			chs = []*model.Channel{}
		}
		writeJSON(w, chs)

	// GET /api/v4/teams/{team_id}/members/{user_id}
	case r.Method == "GET" && len(parts) == 4 && parts[0] == "teams" && parts[2] == "members":
		if m, ok := f.TeamMembers[parts[1]+":"+parts[3]]; ok {
			writeJSON(w, m)
			return
		}
		notFound(w, "team member")

	// POST /api/v4/channels/direct
	case r.Method == "POST" && path == "/api/v4/channels/direct":
		var ids []string
		_ = json.Unmarshal(body, &ids)
		slices.Sort(ids)
		id := "dm-" + strings.Join(ids, "-")
		ch, ok := f.Channels[id]
		if !ok {
			ch = &model.Channel{Id: id, Type: model.ChannelTypeDirect, Name: strings.Join(ids, "__")}
			f.Channels[id] = ch
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, ch)

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && len(parts) == 2 && parts[0] == "channels":
		if ch, ok := f.Channels[parts[1]]; ok {
			writeJSON(w, ch)
			return
		}
		notFound(w, "channel")

	// GET /api/v4/channels/{channel_id}/posts, newest first
	case r.Method == "GET" && len(parts) == 3 && parts[0] == "channels" && parts[2] == "posts":
		collapsed := r.URL.Query().Get("collapsedThreads") == "true"
		var posts []*model.Post
		for _, p := range f.Posts {
			if p.ChannelId == parts[1] && (!collapsed || p.RootId == "") {
				posts = append(posts, p)
			}
		}
		slices.SortFunc(posts, func(a, b *model.Post) int { return int(b.CreateAt - a.CreateAt) })
		list := model.NewPostList()
		for _, p := range posts {
			list.AddPost(p)
			list.AddOrder(p.Id)
		}
		writeJSON(w, list)

	// GET /api/v4/posts/{post_id}/thread
	case r.Method == "GET" && len(parts) == 3 && parts[0] == "posts" && parts[2] == "thread":
		root, ok := f.Posts[parts[1]]
		if !ok {
			notFound(w, "post")
			return
		}
		list := model.NewPostList()
		list.AddPost(root)
		list.AddOrder(root.Id)
		for _, p := range f.Posts {
			if p.RootId == root.Id {
				list.AddPost(p)
				list.AddOrder(p.Id)
			}
		}
		writeJSON(w, list)

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		if err := json.Unmarshal(body, &post); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]any{"message": err.Error(), "status_code": http.StatusBadRequest})
			return
		}
		f.seq++
		post.Id = fmt.Sprintf("post%d", f.seq)
		post.UserId = f.resolveToken(r)
		post.CreateAt = f.seq
		f.Posts[post.Id] = &post
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, &post)

	// PUT /api/v4/posts/{post_id}/patch
	case r.Method == "PUT" && len(parts) == 3 && parts[0] == "posts" && parts[2] == "patch":
		post, ok := f.Posts[parts[1]]
		if !ok {
			notFound(w, "post")
			return
		}
		var patch model.PostPatch
		_ = json.Unmarshal(body, &patch)
		post.Patch(&patch)
		writeJSON(w, post)

	default:
		notFound(w, "not found: "+path)
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// newTestClient returns a connected client for the fake server.
func newTestClient(f *fakeMM, tmpl string) (*Client, error) {
	cfg := &Config{ServerURL: f.Server.URL, Token: testToken, DisplaynameTemplate: tmpl}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	c := NewClient(cfg, zerolog.Nop())
	if _, err := c.Connect(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// newOfflineSession builds a session whose client never reaches a server.
func newOfflineSession() *Session {
	cfg := &Config{ServerURL: "http://127.0.0.1:1", Token: testToken}
	c := NewClient(cfg, zerolog.Nop())
	c.botID = testBotID
	return NewSession(c, &recordingHandler{}, "`", zerolog.Nop())
}

// recordingHandler captures dispatched commands.
type recordingHandler struct {
	mu   sync.Mutex
	cmds []chat.Command
	err  error
}

func (h *recordingHandler) Dispatch(_ context.Context, cmd chat.Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmd)
	return h.err
}

func (h *recordingHandler) Commands() []chat.Command {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.cmds)
}

func (f *fakeMM) CalledPath(path string) bool {
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			return true
		}
	}
	return false
}

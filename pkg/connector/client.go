// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
)

// threadProp marks a root post as the start of a relay thread.
const threadProp = "hookrelay_thread"

// Client is the Mattermost implementation of chat.Adapter. Guilds are teams,
// threads are root posts created by the bot and embeds are message
// attachments.
type Client struct {
	cfg    *Config
	client *model.Client4
	log    zerolog.Logger

	mu           sync.RWMutex
	botID        string
	channelTeams map[string]string
}

var _ chat.Adapter = (*Client)(nil)

// NewClient creates an API client. Connect must be called before use.
func NewClient(cfg *Config, log zerolog.Logger) *Client {
	c := model.NewAPIv4Client(cfg.ServerURL)
	c.SetToken(cfg.Token)
	return &Client{
		cfg:          cfg,
		client:       c,
		log:          log.With().Str("component", "mm_client").Logger(),
		channelTeams: make(map[string]string),
	}
}

// Connect verifies the token and remembers the bot's user id.
func (c *Client) Connect(ctx context.Context) (*model.User, error) {
	me, _, err := c.client.GetMe(ctx, "")
	if err != nil {
		return nil, chat.Wrap("Connect", fmt.Errorf("failed to verify Mattermost session: %w", err))
	}
	c.mu.Lock()
	c.botID = me.Id
	c.mu.Unlock()
	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")
	return me, nil
}

// BotID returns the authenticated user id, empty before Connect.
func (c *Client) BotID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.botID
}

func (c *Client) ListGuilds(ctx context.Context) ([]chat.Guild, error) {
	teams, _, err := c.client.GetTeamsForUser(ctx, c.BotID(), "")
	if err != nil {
		return nil, chat.Wrap("ListGuilds", err)
	}
	guilds := make([]chat.Guild, 0, len(teams))
	for _, t := range teams {
		guilds = append(guilds, chat.Guild{ID: t.Id, Name: t.DisplayName})
	}
	return guilds, nil
}

func (c *Client) GetUser(ctx context.Context, userID string) (*chat.User, error) {
	user, _, err := c.client.GetUser(ctx, userID, "")
	if err != nil {
		return nil, chat.Wrap("GetUser", err)
	}
	return &chat.User{
		ID:       user.Id,
		Username: user.Username,
		DisplayName: c.cfg.FormatDisplayname(DisplaynameParams{
			Username:  user.Username,
			Nickname:  user.Nickname,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		}),
	}, nil
}

// UserHasRole checks team roles, or system roles when the role name starts
// with "system_".
func (c *Client) UserHasRole(ctx context.Context, userID, guildID, role string) (bool, error) {
	if strings.HasPrefix(role, "system_") {
		user, _, err := c.client.GetUser(ctx, userID, "")
		if err != nil {
			return false, chat.Wrap("UserHasRole", err)
		}
		return hasRole(user.Roles, role), nil
	}
	member, _, err := c.client.GetTeamMember(ctx, guildID, userID, "")
	if err != nil {
		return false, chat.Wrap("UserHasRole", err)
	}
	return teamMemberHasRole(member, role), nil
}

func hasRole(roles, role string) bool {
	return slices.Contains(strings.Fields(roles), role)
}

func teamMemberHasRole(m *model.TeamMember, role string) bool {
	if m == nil || m.DeleteAt != 0 {
		return false
	}
	switch role {
	case model.TeamAdminRoleId:
		if m.SchemeAdmin {
			return true
		}
	case model.TeamUserRoleId:
		if m.SchemeUser {
			return true
		}
	case model.TeamGuestRoleId:
		if m.SchemeGuest {
			return true
		}
	}
	return hasRole(m.Roles, role)
}

// ListActiveThreads returns relay threads among the recent root posts of
// every team channel the bot belongs to, oldest first.
func (c *Client) ListActiveThreads(ctx context.Context, guildID string) ([]chat.Thread, error) {
	botID := c.BotID()
	channels, _, err := c.client.GetChannelsForTeamForUser(ctx, guildID, botID, false, "")
	if err != nil {
		return nil, chat.Wrap("ListActiveThreads", err)
	}

	type rooted struct {
		thread   chat.Thread
		createAt int64
	}
	var found []rooted
	for _, ch := range channels {
		if ch.Type != model.ChannelTypeOpen && ch.Type != model.ChannelTypePrivate {
			continue
		}
		c.rememberChannel(ch.Id, guildID)
		posts, _, err := c.client.GetPostsForChannel(ctx, ch.Id, 0, c.cfg.ThreadScanDepth, "", true, false)
		if err != nil {
			return nil, chat.Wrap("ListActiveThreads", fmt.Errorf("channel %s: %w", ch.Id, err))
		}
		for _, id := range posts.Order {
			p := posts.Posts[id]
			if p == nil || p.RootId != "" || p.DeleteAt != 0 || p.UserId != botID || p.GetProp(threadProp) == nil {
				continue
			}
			found = append(found, rooted{
				thread:   chat.Thread{ID: p.Id, ChannelID: ch.Id, GuildID: guildID, Name: p.Message},
				createAt: p.CreateAt,
			})
		}
	}
	slices.SortStableFunc(found, func(a, b rooted) int {
		return int(a.createAt - b.createAt)
	})
	threads := make([]chat.Thread, 0, len(found))
	for _, r := range found {
		threads = append(threads, r.thread)
	}
	return threads, nil
}

// GetMessages returns the whole thread, root post first, as a single page.
func (c *Client) GetMessages(ctx context.Context, threadID, pageToken string) (*chat.MessagePage, error) {
	if pageToken != "" {
		return &chat.MessagePage{}, nil
	}
	list, _, err := c.client.GetPostThread(ctx, threadID, "", false)
	if err != nil {
		return nil, chat.Wrap("GetMessages", err)
	}
	posts := make([]*model.Post, 0, len(list.Posts))
	for _, p := range list.Posts {
		if p.DeleteAt == 0 {
			posts = append(posts, p)
		}
	}
	slices.SortStableFunc(posts, func(a, b *model.Post) int {
		return int(a.CreateAt - b.CreateAt)
	})
	page := &chat.MessagePage{Messages: make([]chat.Message, 0, len(posts))}
	for _, p := range posts {
		page.Messages = append(page.Messages, postToMessage(p))
	}
	return page, nil
}

func (c *Client) SendMessage(ctx context.Context, to chat.Target, msg chat.Message) (*chat.Message, error) {
	created, _, err := c.client.CreatePost(ctx, newPost(to.ChannelID, to.ThreadID, msg))
	if err != nil {
		return nil, chat.Wrap("SendMessage", err)
	}
	out := postToMessage(created)
	return &out, nil
}

// CreatePublicThread marks the start message as a relay thread root. Replies
// to it form the thread.
func (c *Client) CreatePublicThread(ctx context.Context, channelID, startMessageID, name string) (*chat.Thread, error) {
	props := model.StringInterface{threadProp: true}
	root, _, err := c.client.PatchPost(ctx, startMessageID, &model.PostPatch{Props: &props})
	if err != nil {
		return nil, chat.Wrap("CreatePublicThread", err)
	}
	if root.ChannelId != channelID {
		return nil, chat.Wrap("CreatePublicThread",
			fmt.Errorf("post %s belongs to channel %s, not %s", startMessageID, root.ChannelId, channelID))
	}
	teamID, err := c.ChannelTeam(ctx, channelID)
	if err != nil {
		return nil, chat.Wrap("CreatePublicThread", err)
	}
	return &chat.Thread{ID: root.Id, ChannelID: channelID, GuildID: teamID, Name: name}, nil
}

func (c *Client) SendDirectMessage(ctx context.Context, userID string, msg chat.Message) (*chat.Message, error) {
	dm, _, err := c.client.CreateDirectChannel(ctx, c.BotID(), userID)
	if err != nil {
		return nil, chat.Wrap("SendDirectMessage", fmt.Errorf("failed to open direct channel: %w", err))
	}
	created, _, err := c.client.CreatePost(ctx, newPost(dm.Id, "", msg))
	if err != nil {
		return nil, chat.Wrap("SendDirectMessage", err)
	}
	out := postToMessage(created)
	return &out, nil
}

// ChannelTeam returns the team a channel belongs to. Results are cached.
func (c *Client) ChannelTeam(ctx context.Context, channelID string) (string, error) {
	c.mu.RLock()
	teamID, ok := c.channelTeams[channelID]
	c.mu.RUnlock()
	if ok {
		return teamID, nil
	}
	ch, _, err := c.client.GetChannel(ctx, channelID, "")
	if err != nil {
		return "", fmt.Errorf("failed to get channel: %w", err)
	}
	c.rememberChannel(channelID, ch.TeamId)
	return ch.TeamId, nil
}

func (c *Client) rememberChannel(channelID, teamID string) {
	c.mu.Lock()
	c.channelTeams[channelID] = teamID
	c.mu.Unlock()
}

func newPost(channelID, rootID string, msg chat.Message) *model.Post {
	post := &model.Post{
		ChannelId: channelID,
		RootId:    rootID,
		Message:   msg.Content,
	}
	if msg.Embed != nil {
		post.AddProp("attachments", []*model.SlackAttachment{embedToAttachment(msg.Embed)})
	}
	return post
}

func postToMessage(p *model.Post) chat.Message {
	return chat.Message{
		ID:        p.Id,
		ChannelID: p.ChannelId,
		UserID:    p.UserId,
		Content:   p.Message,
		CreatedAt: time.UnixMilli(p.CreateAt),
	}
}

// embedToAttachment renders an embed as a Slack-style message attachment.
func embedToAttachment(e *chat.Embed) *model.SlackAttachment {
	a := &model.SlackAttachment{
		Fallback:   e.Title,
		Title:      e.Title,
		TitleLink:  e.URL,
		Text:       e.Description,
		AuthorName: e.AuthorName,
		AuthorLink: e.AuthorURL,
		AuthorIcon: e.AuthorIconURL,
		Footer:     e.FooterText,
	}
	if e.Color != 0 {
		a.Color = fmt.Sprintf("#%06x", e.Color&0xffffff)
	}
	for _, f := range e.Fields {
		a.Fields = append(a.Fields, &model.SlackAttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: model.SlackCompatibleBool(f.Inline),
		})
	}
	return a
}

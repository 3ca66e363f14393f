// Copyright 2024-2026 Aiku AI

// Package chattest provides an in-memory chat.Adapter for tests.
package chattest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
)

// ErrUnknown is wrapped into the PlatformError returned for missing ids.
var ErrUnknown = errors.New("unknown id")

type thread struct {
	info     chat.Thread
	messages []chat.Message
}

// Platform is a fake chat platform. All methods are safe for concurrent use.
type Platform struct {
	mu sync.Mutex

	// BotID is the user id recorded on messages sent through the adapter.
	BotID string
	// PageSize bounds GetMessages pages. Zero means 50.
	PageSize int

	guilds   []chat.Guild
	users    map[string]chat.User
	roles    map[string]map[string]bool
	channels map[string]string
	posts    map[string]chat.Message
	chanLog  map[string][]chat.Message
	threads  []*thread
	dms      map[string][]chat.Message
	fail     map[string]error
	calls    map[string]int
	seq      int
}

var _ chat.Adapter = (*Platform)(nil)

// New returns an empty platform with the bot user "bot".
func New() *Platform {
	return &Platform{
		BotID:    "bot",
		users:    make(map[string]chat.User),
		roles:    make(map[string]map[string]bool),
		channels: make(map[string]string),
		posts:    make(map[string]chat.Message),
		chanLog:  make(map[string][]chat.Message),
		dms:      make(map[string][]chat.Message),
		fail:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

// AddGuild registers a guild and its channels.
func (p *Platform) AddGuild(id string, channelIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.guilds = append(p.guilds, chat.Guild{ID: id, Name: id})
	for _, ch := range channelIDs {
		p.channels[ch] = id
	}
}

// SetUser adds or replaces a user.
func (p *Platform) SetUser(u chat.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.ID] = u
}

// GrantRole gives the user the role in the guild.
func (p *Platform) GrantRole(guildID, userID, role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := guildID + "/" + userID
	if p.roles[key] == nil {
		p.roles[key] = make(map[string]bool)
	}
	p.roles[key][role] = true
}

// Fail makes every call of op return err until Recover is called. Op names
// match the Adapter method names.
func (p *Platform) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail[op] = err
}

// Recover clears an injected failure.
func (p *Platform) Recover(op string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fail, op)
}

// Calls returns how many times op was invoked.
func (p *Platform) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Threads returns the threads of a guild in creation order.
func (p *Platform) Threads(guildID string) []chat.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []chat.Thread
	for _, t := range p.threads {
		if t.info.GuildID == guildID {
			out = append(out, t.info)
		}
	}
	return out
}

// ThreadMessages returns a copy of a thread's history, oldest first.
func (p *Platform) ThreadMessages(threadID string) []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.threads {
		if t.info.ID == threadID {
			return append([]chat.Message(nil), t.messages...)
		}
	}
	return nil
}

// ChannelMessages returns the top-level messages posted to a channel.
func (p *Platform) ChannelMessages(channelID string) []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.chanLog[channelID]...)
}

// DirectMessages returns the messages sent privately to a user.
func (p *Platform) DirectMessages(userID string) []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.dms[userID]...)
}

func (p *Platform) enter(op string) error {
	p.calls[op]++
	if err := p.fail[op]; err != nil {
		return chat.Wrap(op, err)
	}
	return nil
}

func (p *Platform) nextID(prefix string) string {
	p.seq++
	return prefix + strconv.Itoa(p.seq)
}

func (p *Platform) ListGuilds(_ context.Context) ([]chat.Guild, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("ListGuilds"); err != nil {
		return nil, err
	}
	return append([]chat.Guild(nil), p.guilds...), nil
}

func (p *Platform) GetUser(_ context.Context, userID string) (*chat.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetUser"); err != nil {
		return nil, err
	}
	u, ok := p.users[userID]
	if !ok {
		return nil, chat.Wrap("GetUser", fmt.Errorf("%w: user %s", ErrUnknown, userID))
	}
	return &u, nil
}

func (p *Platform) UserHasRole(_ context.Context, userID, guildID, role string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("UserHasRole"); err != nil {
		return false, err
	}
	return p.roles[guildID+"/"+userID][role], nil
}

func (p *Platform) ListActiveThreads(_ context.Context, guildID string) ([]chat.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("ListActiveThreads"); err != nil {
		return nil, err
	}
	var out []chat.Thread
	for _, t := range p.threads {
		if t.info.GuildID == guildID {
			out = append(out, t.info)
		}
	}
	return out, nil
}

func (p *Platform) GetMessages(_ context.Context, threadID, pageToken string) (*chat.MessagePage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetMessages"); err != nil {
		return nil, err
	}
	var t *thread
	for _, candidate := range p.threads {
		if candidate.info.ID == threadID {
			t = candidate
			break
		}
	}
	if t == nil {
		return nil, chat.Wrap("GetMessages", fmt.Errorf("%w: thread %s", ErrUnknown, threadID))
	}
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, chat.Wrap("GetMessages", fmt.Errorf("bad page token %q", pageToken))
		}
		offset = n
	}
	size := p.PageSize
	if size <= 0 {
		size = 50
	}
	end := min(offset+size, len(t.messages))
	page := &chat.MessagePage{}
	if offset < end {
		page.Messages = append(page.Messages, t.messages[offset:end]...)
	}
	if end < len(t.messages) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (p *Platform) SendMessage(_ context.Context, to chat.Target, msg chat.Message) (*chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("SendMessage"); err != nil {
		return nil, err
	}
	if _, ok := p.channels[to.ChannelID]; !ok {
		return nil, chat.Wrap("SendMessage", fmt.Errorf("%w: channel %s", ErrUnknown, to.ChannelID))
	}
	msg.ID = p.nextID("msg")
	msg.ChannelID = to.ChannelID
	msg.UserID = p.BotID
	msg.CreatedAt = time.Now()
	if to.ThreadID == "" {
		p.chanLog[to.ChannelID] = append(p.chanLog[to.ChannelID], msg)
		p.posts[msg.ID] = msg
		return &msg, nil
	}
	for _, t := range p.threads {
		if t.info.ID == to.ThreadID {
			t.messages = append(t.messages, msg)
			return &msg, nil
		}
	}
	return nil, chat.Wrap("SendMessage", fmt.Errorf("%w: thread %s", ErrUnknown, to.ThreadID))
}

func (p *Platform) CreatePublicThread(_ context.Context, channelID, startMessageID, name string) (*chat.Thread, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("CreatePublicThread"); err != nil {
		return nil, err
	}
	start, ok := p.posts[startMessageID]
	if !ok || start.ChannelID != channelID {
		return nil, chat.Wrap("CreatePublicThread", fmt.Errorf("%w: message %s", ErrUnknown, startMessageID))
	}
	t := &thread{
		info: chat.Thread{
			ID:        p.nextID("thread"),
			ChannelID: channelID,
			GuildID:   p.channels[channelID],
			Name:      name,
		},
		messages: []chat.Message{start},
	}
	p.threads = append(p.threads, t)
	return &t.info, nil
}

func (p *Platform) SendDirectMessage(_ context.Context, userID string, msg chat.Message) (*chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("SendDirectMessage"); err != nil {
		return nil, err
	}
	if _, ok := p.users[userID]; !ok {
		return nil, chat.Wrap("SendDirectMessage", fmt.Errorf("%w: user %s", ErrUnknown, userID))
	}
	msg.ID = p.nextID("dm")
	msg.UserID = p.BotID
	msg.CreatedAt = time.Now()
	p.dms[userID] = append(p.dms[userID], msg)
	return &msg, nil
}

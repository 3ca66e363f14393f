// Copyright 2024-2026 Aiku AI

// Package chat defines the capability-shaped view of a chat platform that the
// relay core needs. The Mattermost implementation lives in pkg/connector;
// tests use the in-memory platform from pkg/chat/chattest.
package chat

import (
	"context"
	"fmt"
	"time"
)

// Guild is a top-level community (a Mattermost team).
type Guild struct {
	ID   string
	Name string
}

// User is a platform user. DisplayName may be empty when the platform has no
// name to show beyond the username.
type User struct {
	ID          string
	Username    string
	DisplayName string
}

// Name returns the display name, falling back to the username.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Thread is a named conversation attached to a message in a channel.
type Thread struct {
	ID        string
	ChannelID string
	GuildID   string
	Name      string
}

// EmbedField is one name/value row of an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a structured rich-content block.
type Embed struct {
	Title         string
	Description   string
	URL           string
	Color         int
	AuthorName    string
	AuthorURL     string
	AuthorIconURL string
	Fields        []EmbedField
	FooterText    string
}

// Message is either outgoing content (Content and/or Embed set) or a message
// read back from the platform.
type Message struct {
	ID        string
	ChannelID string
	UserID    string
	Content   string
	Embed     *Embed
	CreatedAt time.Time
}

// MessagePage is one page of a thread's history. Messages are ordered oldest
// first. Next is empty on the last page.
type MessagePage struct {
	Messages []Message
	Next     string
}

// Target addresses a message to a channel or to a thread inside it.
type Target struct {
	ChannelID string
	ThreadID  string
}

// InChannel targets the channel itself.
func InChannel(channelID string) Target {
	return Target{ChannelID: channelID}
}

// InThread targets an existing thread.
func InThread(t *Thread) Target {
	return Target{ChannelID: t.ChannelID, ThreadID: t.ID}
}

// Command is a parsed chat command.
type Command struct {
	Name      string
	Args      []string
	Caller    User
	ChannelID string
	GuildID   string
}

// Adapter is everything the relay core calls on the chat platform. Every
// failure is returned as a *PlatformError.
type Adapter interface {
	ListGuilds(ctx context.Context) ([]Guild, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	// UserHasRole reports whether the user holds the named role in the guild.
	UserHasRole(ctx context.Context, userID, guildID, role string) (bool, error)
	ListActiveThreads(ctx context.Context, guildID string) ([]Thread, error)
	// GetMessages returns one page of the thread's history, oldest first.
	// An empty pageToken requests the first page.
	GetMessages(ctx context.Context, threadID, pageToken string) (*MessagePage, error)
	SendMessage(ctx context.Context, to Target, msg Message) (*Message, error)
	CreatePublicThread(ctx context.Context, channelID, startMessageID, name string) (*Thread, error)
	SendDirectMessage(ctx context.Context, userID string, msg Message) (*Message, error)
}

// PlatformError is returned by Adapter implementations for any failed call.
type PlatformError struct {
	Op  string
	Err error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err and a *PlatformError otherwise.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PlatformError{Op: op, Err: err}
}

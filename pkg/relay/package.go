// Copyright 2024-2026 Aiku AI

// Package relay carries accepted webhook payloads from the ingestion gateway
// to the chat platform. A bounded [Channel] decouples the two sides and a
// single [Worker] resolves the destination thread for every package before
// delivering it.
package relay

import (
	"strconv"
)

// Destination says where a package goes and who it is posted for.
type Destination struct {
	Username  string
	AvatarURL string
	ServerID  string
	ChannelID string
	// UserID is the owning user's platform id, always taken from the
	// registration's owner.
	UserID string
	AppID  uint32
}

// Marker is the body of the second message of every relay thread.
func (d Destination) Marker() string {
	return strconv.FormatUint(uint64(d.AppID), 10)
}

type EmbedFooter struct {
	Text string `json:"text"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	IconURL string `json:"icon_url"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline *bool  `json:"inline,omitempty"`
}

// EmbedData is the embed as submitted by the third-party service.
type EmbedData struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	URL         string       `json:"url"`
	Color       int          `json:"color"`
	Footer      EmbedFooter  `json:"footer"`
	Author      EmbedAuthor  `json:"author"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Package is the unit travelling through the Channel. It is never persisted.
type Package struct {
	Destination Destination
	Embed       EmbedData
}

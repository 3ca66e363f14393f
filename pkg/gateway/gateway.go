// Copyright 2024-2026 Aiku AI

// Package gateway accepts webhook payloads from registered apps, checks
// their bearer token and hands them to the relay channel.
package gateway

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/aiku/mattermost-hookrelay/pkg/relay"
	"github.com/aiku/mattermost-hookrelay/pkg/store"
)

var (
	// ErrUnauthorized is returned for an unknown app, a pending app and a
	// wrong token alike.
	ErrUnauthorized = errors.New("gateway: unauthorized")
	// ErrNoEmbed is returned for a payload without any embed.
	ErrNoEmbed = errors.New("gateway: payload has no embeds")
)

// Payload is the part of an inbound body the relay uses.
type Payload interface {
	Username() string
	AvatarURL() string
	// FirstEmbed is only called when Embeds is non-empty.
	FirstEmbed() relay.EmbedData
	Embeds() []relay.EmbedData
}

// WebhookBody is the JSON accepted by the ingestion endpoint. Only the
// first embed is relayed; content, tts and wait are accepted and ignored.
type WebhookBody struct {
	Wait      bool              `json:"wait"`
	Content   string            `json:"content"`
	Name      string            `json:"username"`
	Avatar    string            `json:"avatar_url"`
	TTS       bool              `json:"tts"`
	EmbedList []relay.EmbedData `json:"embeds"`
}

var _ Payload = (*WebhookBody)(nil)

func (b *WebhookBody) Username() string { return b.Name }
func (b *WebhookBody) AvatarURL() string { return b.Avatar }
func (b *WebhookBody) FirstEmbed() relay.EmbedData { return b.EmbedList[0] }
func (b *WebhookBody) Embeds() []relay.EmbedData { return b.EmbedList }

// Gateway validates credentials and enqueues packages.
type Gateway struct {
	store store.Store
	ch    *relay.Channel
	log   zerolog.Logger

	// decoy is compared against when no registration exists so that
	// unknown ids cost as much as wrong tokens.
	decoy []byte
}

// New builds a gateway. hashCost should match the cost used for issued
// tokens.
func New(st store.Store, ch *relay.Channel, hashCost int, log zerolog.Logger) (*Gateway, error) {
	decoy, err := bcrypt.GenerateFromPassword([]byte("hookrelay-decoy"), hashCost)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		store: st,
		ch:    ch,
		log:   log.With().Str("component", "gateway").Logger(),
		decoy: decoy,
	}, nil
}

// Accept verifies token for appID and enqueues the first embed of p. The
// returned error is ErrUnauthorized for any credential failure, ErrNoEmbed
// for an empty payload, or whatever relay.Channel.Send returned.
func (g *Gateway) Accept(ctx context.Context, appID uint32, token string, p Payload) error {
	log := g.log.With().Uint32("app_id", appID).Logger()

	app, err := g.store.GetApprovedApp(ctx, appID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Msg("Failed to look up app")
		}
		_ = bcrypt.CompareHashAndPassword(g.decoy, []byte(token))
		return ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(app.HashedToken), []byte(token)); err != nil {
		log.Debug().Msg("Token mismatch")
		return ErrUnauthorized
	}
	owner, err := g.store.GetUser(ctx, app.OwnerID)
	if err != nil {
		log.Error().Err(err).Str("owner_id", app.OwnerID).Msg("Failed to look up app owner")
		return ErrUnauthorized
	}
	if len(p.Embeds()) == 0 {
		return ErrNoEmbed
	}

	return g.ch.Send(ctx, relay.Package{
		Destination: relay.Destination{
			Username:  p.Username(),
			AvatarURL: p.AvatarURL(),
			ServerID:  app.ServerID,
			ChannelID: app.ChannelID,
			UserID:    owner.PlatformID,
			AppID:     app.AppID,
		},
		Embed: p.FirstEmbed(),
	})
}

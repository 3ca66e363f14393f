// Copyright 2024-2026 Aiku AI

package registry

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
)

// Role keys understood by Gate.RequireRole.
const (
	RoleGeneral = "general"
	RoleAdmin   = "admin"
)

const msgNoPermission = "You do not have permission to use this command"

// Gate checks that a command caller holds the role configured for a key.
type Gate struct {
	adapter chat.Adapter
	roles   map[string]string
	log     zerolog.Logger
}

// NewGate maps role keys to platform role names. A key with an empty role
// name is open to everyone.
func NewGate(adapter chat.Adapter, generalRole, adminRole string, log zerolog.Logger) *Gate {
	return &Gate{
		adapter: adapter,
		roles: map[string]string{
			RoleGeneral: generalRole,
			RoleAdmin:   adminRole,
		},
		log: log.With().Str("component", "gate").Logger(),
	}
}

// RequireRole reports whether caller may run a command gated by roleKey in
// guildID. On denial it posts a notice into channelID. A failed membership
// lookup counts as a denial.
func (g *Gate) RequireRole(ctx context.Context, roleKey string, caller chat.User, guildID, channelID string) bool {
	role := g.roles[roleKey]
	if role == "" {
		return true
	}
	ok, err := g.adapter.UserHasRole(ctx, caller.ID, guildID, role)
	if err != nil {
		g.log.Warn().Err(err).
			Str("user_id", caller.ID).
			Str("role", role).
			Msg("Failed to check role membership")
	}
	if err == nil && ok {
		return true
	}
	if _, err := g.adapter.SendMessage(ctx, chat.InChannel(channelID), chat.Message{Content: msgNoPermission}); err != nil {
		g.log.Warn().Err(err).Msg("Failed to send permission denial")
	}
	return false
}

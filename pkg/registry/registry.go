// Copyright 2024-2026 Aiku AI

// Package registry implements the credential lifecycle of third-party apps:
// a user requests an app id, an admin approves it (issuing a bearer token
// once) and an admin may revoke or decline it. Commands arrive from the chat
// platform already parsed.
package registry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/random"
	"golang.org/x/crypto/bcrypt"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
	"github.com/aiku/mattermost-hookrelay/pkg/metrics"
	"github.com/aiku/mattermost-hookrelay/pkg/store"
)

var (
	// ErrValidation means the command arguments had the wrong count or shape.
	ErrValidation = errors.New("registry: invalid arguments")
	// ErrForbidden means the caller lacks the required role.
	ErrForbidden = errors.New("registry: forbidden")
	// ErrLookup covers every failure to find an application, whatever the
	// cause.
	ErrLookup = errors.New("registry: application lookup failed")
)

const (
	msgNeedAppName   = "Please provide an app name (one word)"
	msgNeedAppID     = "Please provide only an app id"
	msgLookupFailed  = "Failed to find that application"
	msgRequestFailed = "Failed to submit request, please try again later"
	msgApproveFailed = "Failed to approve application, please try again later"
	msgRevokeFailed  = "Failed to remove application, please try again later"
	msgApproved      = "Approval Complete"
	msgNotifyFailed  = "Approval Complete, but the owner could not be notified. Revoke the app and ask the owner to request it again."

	maxAppIDAttempts = 5
)

// Config holds the values the registry needs. See pkg/config for defaults.
type Config struct {
	Prefix             string
	GeneralRole        string
	AdminRole          string
	ApprovalChannel    string
	DestinationChannel string
	HookAddress        string
	HashCost           int
	TokenLength        int
	NotifyAttempts     uint
	NotifyDelay        time.Duration
}

// Registry executes registration commands against the store and reports
// back through the chat adapter.
type Registry struct {
	store   store.Store
	adapter chat.Adapter
	gate    *Gate
	cfg     Config
	log     zerolog.Logger

	newAppID func() uint32
	newToken func(n int) string
}

// New builds a registry and the role gate for cfg.GeneralRole and
// cfg.AdminRole. Zero values in cfg fall back to bcrypt.DefaultCost,
// 32-character tokens and a single notification attempt.
func New(st store.Store, adapter chat.Adapter, cfg Config, log zerolog.Logger) *Registry {
	if cfg.HashCost == 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	if cfg.TokenLength == 0 {
		cfg.TokenLength = 32
	}
	if cfg.NotifyAttempts == 0 {
		cfg.NotifyAttempts = 1
	}
	return &Registry{
		store:    st,
		adapter:  adapter,
		gate:     NewGate(adapter, cfg.GeneralRole, cfg.AdminRole, log),
		cfg:      cfg,
		log:      log.With().Str("component", "registry").Logger(),
		newAppID: randomAppID,
		newToken: random.String,
	}
}

func randomAppID() uint32 {
	return binary.BigEndian.Uint32(random.Bytes(4))
}

// WebhookURL is the ingestion address handed to an app owner.
func WebhookURL(address string, appID uint32, token string) string {
	return fmt.Sprintf("%s/%d/webhook?token=%s", strings.TrimRight(address, "/"), appID, url.QueryEscape(token))
}

// Dispatch runs a parsed command. Unknown command names are ignored.
func (r *Registry) Dispatch(ctx context.Context, cmd chat.Command) error {
	var err error
	switch cmd.Name {
	case "request":
		_, err = r.Request(ctx, cmd)
	case "approve":
		err = r.Approve(ctx, cmd)
	case "revoke", "decline":
		err = r.Revoke(ctx, cmd)
	case "help":
		err = r.Help(ctx, cmd)
	default:
		r.log.Debug().Str("command", cmd.Name).Msg("Ignoring unknown command")
		return nil
	}

	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrForbidden):
		result = "forbidden"
	case errors.Is(err, ErrValidation):
		result = "invalid"
	default:
		result = "failed"
	}
	metrics.Commands.WithLabelValues(cmd.Name, result).Inc()
	return err
}

// Request registers a new, unapproved app for the caller and returns its id.
func (r *Registry) Request(ctx context.Context, cmd chat.Command) (uint32, error) {
	if !r.gate.RequireRole(ctx, RoleGeneral, cmd.Caller, cmd.GuildID, cmd.ChannelID) {
		return 0, ErrForbidden
	}
	if len(cmd.Args) != 1 {
		r.reply(ctx, cmd.ChannelID, msgNeedAppName)
		return 0, ErrValidation
	}
	appName := cmd.Args[0]
	log := r.log.With().Str("user_id", cmd.Caller.ID).Str("app_name", appName).Logger()

	owner, err := r.resolveUser(ctx, cmd.Caller)
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve requesting user")
		r.reply(ctx, cmd.ChannelID, msgRequestFailed)
		return 0, err
	}

	destination := cmd.ChannelID
	if r.cfg.DestinationChannel != "" {
		destination = r.cfg.DestinationChannel
	}

	app := &store.AppRegistration{
		AppName:   appName,
		OwnerID:   owner.ID,
		ServerID:  cmd.GuildID,
		ChannelID: destination,
	}
	for attempt := 1; ; attempt++ {
		app.AppID = r.newAppID()
		err = r.store.InsertApp(ctx, app)
		if !errors.Is(err, store.ErrDuplicate) || attempt == maxAppIDAttempts {
			break
		}
		log.Debug().Uint32("app_id", app.AppID).Msg("App id collision, re-rolling")
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to insert app registration")
		r.reply(ctx, cmd.ChannelID, msgRequestFailed)
		return 0, fmt.Errorf("failed to insert app: %w", err)
	}
	log.Info().Uint32("app_id", app.AppID).Msg("App requested")

	if _, err := r.adapter.SendDirectMessage(ctx, cmd.Caller.ID, chat.Message{
		Content: fmt.Sprintf("Request Submitted for %s", appName),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to acknowledge request to user")
	}

	approval := r.approvalChannel(cmd.ChannelID)
	r.reply(ctx, approval, fmt.Sprintf("@%s is requesting hook privileges for app %s", cmd.Caller.Username, appName))
	r.reply(ctx, approval, fmt.Sprintf("Admins can approve it with `%sapprove %d`", r.cfg.Prefix, app.AppID))
	return app.AppID, nil
}

// Approve issues a token for a pending app. Approving an app that is already
// approved does nothing. The plaintext token is only ever sent to the owner.
func (r *Registry) Approve(ctx context.Context, cmd chat.Command) error {
	if !r.gate.RequireRole(ctx, RoleAdmin, cmd.Caller, cmd.GuildID, cmd.ChannelID) {
		return ErrForbidden
	}
	appID, err := r.parseAppID(ctx, cmd)
	if err != nil {
		return err
	}
	log := r.log.With().Uint32("app_id", appID).Str("admin_id", cmd.Caller.ID).Logger()

	app, owner, err := r.lookup(ctx, appID)
	if err != nil {
		log.Warn().Err(err).Msg("Approve lookup failed")
		r.reply(ctx, cmd.ChannelID, msgLookupFailed)
		return err
	}
	if app.Approved {
		log.Debug().Msg("App already approved")
		return nil
	}

	token := r.newToken(r.cfg.TokenLength)
	hash, err := bcrypt.GenerateFromPassword([]byte(token), r.cfg.HashCost)
	if err == nil {
		err = bcrypt.CompareHashAndPassword(hash, []byte(token))
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to hash token")
		r.reply(ctx, cmd.ChannelID, msgApproveFailed)
		return fmt.Errorf("failed to hash token: %w", err)
	}

	applied, err := r.store.ApproveApp(ctx, appID, string(hash))
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist approval")
		r.reply(ctx, cmd.ChannelID, msgApproveFailed)
		return fmt.Errorf("failed to approve app: %w", err)
	}
	if !applied {
		log.Debug().Msg("App approved concurrently or removed, nothing to do")
		return nil
	}
	log.Info().Msg("App approved")

	msg := chat.Message{Content: fmt.Sprintf("The address for your apps webhook is %s",
		WebhookURL(r.cfg.HookAddress, appID, token))}
	if err := r.notify(ctx, owner.PlatformID, msg); err != nil {
		log.Error().Err(err).Str("owner_id", owner.PlatformID).Msg("Failed to send token to owner")
		r.reply(ctx, cmd.ChannelID, msgNotifyFailed)
		return fmt.Errorf("failed to notify owner: %w", err)
	}
	r.reply(ctx, cmd.ChannelID, msgApproved)
	return nil
}

// Revoke deletes an app whatever its state. Pending apps are reported as
// declined, approved ones as revoked. An unknown app id has no visible
// effect.
func (r *Registry) Revoke(ctx context.Context, cmd chat.Command) error {
	if !r.gate.RequireRole(ctx, RoleAdmin, cmd.Caller, cmd.GuildID, cmd.ChannelID) {
		return ErrForbidden
	}
	appID, err := r.parseAppID(ctx, cmd)
	if err != nil {
		return err
	}
	log := r.log.With().Uint32("app_id", appID).Str("admin_id", cmd.Caller.ID).Logger()

	app, owner, err := r.lookup(ctx, appID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().Msg("Nothing to revoke")
		return nil
	} else if err != nil {
		log.Error().Err(err).Msg("Revoke lookup failed")
		r.reply(ctx, cmd.ChannelID, msgLookupFailed)
		return err
	}

	if err := r.store.DeleteApp(ctx, appID); errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		log.Error().Err(err).Msg("Failed to delete app")
		r.reply(ctx, cmd.ChannelID, msgRevokeFailed)
		return fmt.Errorf("failed to delete app: %w", err)
	}

	verb := "declined"
	if app.Approved {
		verb = "revoked"
	}
	log.Info().Str("outcome", verb).Msg("App removed")

	r.reply(ctx, r.approvalChannel(cmd.ChannelID),
		fmt.Sprintf("Hook privileges for app %s (%d) have been %s", app.AppName, appID, verb))
	if err := r.notify(ctx, owner.PlatformID, chat.Message{
		Content: fmt.Sprintf("Your hook privileges for app %s have been %s", app.AppName, verb),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to notify owner of removal")
	}
	return nil
}

// Help sends the caller the command reference.
func (r *Registry) Help(ctx context.Context, cmd chat.Command) error {
	p := r.cfg.Prefix
	embed := &chat.Embed{
		Title: "Hook Me Commands:",
		Fields: []chat.EmbedField{
			{Name: p + "request <app name>", Value: "Request webhook access for an app"},
			{Name: p + "approve <app id>", Value: "Approve the request for webhook access"},
			{Name: p + "revoke <app id>", Value: "Remove webhook access for an app"},
			{Name: p + "decline <app id>", Value: "Decline a pending request"},
			{Name: p + "help", Value: "Show this message"},
		},
	}
	if _, err := r.adapter.SendDirectMessage(ctx, cmd.Caller.ID, chat.Message{Embed: embed}); err != nil {
		return fmt.Errorf("failed to send help: %w", err)
	}
	return nil
}

func (r *Registry) parseAppID(ctx context.Context, cmd chat.Command) (uint32, error) {
	if len(cmd.Args) != 1 {
		r.reply(ctx, cmd.ChannelID, msgNeedAppID)
		return 0, ErrValidation
	}
	id, err := strconv.ParseUint(cmd.Args[0], 10, 32)
	if err != nil {
		r.reply(ctx, cmd.ChannelID, msgNeedAppID)
		return 0, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	return uint32(id), nil
}

// lookup loads an app and its owner. Any failure is wrapped in ErrLookup;
// a missing app or owner also matches store.ErrNotFound.
func (r *Registry) lookup(ctx context.Context, appID uint32) (*store.AppRegistration, *store.UserRecord, error) {
	app, err := r.store.GetApp(ctx, appID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	owner, err := r.store.GetUser(ctx, app.OwnerID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: owner: %w", ErrLookup, err)
	}
	return app, owner, nil
}

// resolveUser returns the stored record for a platform user, creating it on
// first use.
func (r *Registry) resolveUser(ctx context.Context, caller chat.User) (*store.UserRecord, error) {
	user, err := r.store.GetUserByPlatformID(ctx, caller.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user = &store.UserRecord{
		ID:         uuid.NewString(),
		PlatformID: caller.ID,
		Username:   caller.Username,
	}
	err = r.store.CreateUser(ctx, user)
	if errors.Is(err, store.ErrDuplicate) {
		return r.store.GetUserByPlatformID(ctx, caller.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *Registry) approvalChannel(origin string) string {
	if r.cfg.ApprovalChannel != "" {
		return r.cfg.ApprovalChannel
	}
	return origin
}

// notify sends a direct message, retrying platform failures.
func (r *Registry) notify(ctx context.Context, userID string, msg chat.Message) error {
	return retry.Do(
		func() error {
			_, err := r.adapter.SendDirectMessage(ctx, userID, msg)
			return err
		},
		retry.Attempts(r.cfg.NotifyAttempts),
		retry.Delay(r.cfg.NotifyDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			r.log.Debug().Uint("attempt", n).Err(err).Str("user_id", userID).Msg("Retrying direct message")
		}),
	)
}

func (r *Registry) reply(ctx context.Context, channelID, content string) {
	if _, err := r.adapter.SendMessage(ctx, chat.InChannel(channelID), chat.Message{Content: content}); err != nil {
		r.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to send reply")
	}
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements the chat platform on top of Mattermost.
//
// # Core Types
//
// [Client] implements [chat.Adapter] with REST calls through model.Client4.
// Guilds are teams. A relay thread is a root post created by the bot and
// tagged with a post prop; its replies are the thread's messages. Embeds are
// rendered as Slack-style message attachments.
//
// [Session] keeps a WebSocket open, parses posted events into
// [chat.Command] values and hands them to a [CommandHandler]. Posts by the
// bot itself, system posts and direct or group messages are ignored.
//
// # Roles
//
// Role names are Mattermost role ids. Names starting with "system_" are
// checked against the user's system roles, everything else against the
// caller's team membership, including the scheme flags for team_admin,
// team_user and team_guest.
package connector

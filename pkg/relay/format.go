// Copyright 2024-2026 Aiku AI

package relay

import (
	"strings"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
)

// ThreadName is the title of the relay thread for a username and the owner's
// live display name.
func ThreadName(username, displayName string) string {
	return username + " - " + displayName
}

// EscapeMentions stops the platform from turning @words into mentions.
func EscapeMentions(s string) string {
	return strings.ReplaceAll(s, "@", `\@`)
}

// FormatEmbed converts submitted embed data into the platform-neutral embed
// that gets delivered. Free text is mention-escaped; footer and icon are
// passed through.
func FormatEmbed(e EmbedData) *chat.Embed {
	out := &chat.Embed{
		Title:         EscapeMentions(e.Title),
		Description:   EscapeMentions(e.Description),
		URL:           EscapeMentions(e.URL),
		Color:         e.Color,
		AuthorName:    EscapeMentions(e.Author.Name),
		AuthorURL:     e.Author.URL,
		AuthorIconURL: e.Author.IconURL,
		FooterText:    e.Footer.Text,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, chat.EmbedField{
			Name:   EscapeMentions(f.Name),
			Value:  EscapeMentions(f.Value),
			Inline: f.Inline != nil && *f.Inline,
		})
	}
	return out
}

// Package export renders a channel's pins and full history as plain text.
package export

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/discord"
)

// TimeLayout matches an ISO timestamp with a space separator, in UTC.
const TimeLayout = "2006-01-02 15:04:05-07:00"

// Author renders a user the way the history dump names them: name#discriminator,
// or just the name for accounts on the new username system.
func Author(u *discordgo.User) string {
	if u == nil {
		return "unknown"
	}
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// WriteMessage writes one history line plus any attachment URLs.
func WriteMessage(w io.Writer, m *discordgo.Message) error {
	if _, err := fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.UTC().Format(TimeLayout), Author(m.Author), m.ContentWithMentionsReplaced()); err != nil {
		return err
	}
	if len(m.Attachments) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, "[attachments]:\n"); err != nil {
		return err
	}
	for _, a := range m.Attachments {
		if _, err := fmt.Fprintf(w, "%s\n", a.URL); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes the channel header, its pins and then the whole history oldest first.
func Dump(ctx context.Context, c discord.Client, channel *discordgo.Channel, w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Channel: #%s\nTopic: %s\n", channel.Name, channel.Topic); err != nil {
		return err
	}
	pins, err := c.PinnedMessages(ctx, channel.ID)
	if err != nil {
		return fmt.Errorf("list pins: %w", err)
	}
	if len(pins) > 0 {
		if _, err := io.WriteString(w, "\nPins:\n\n"); err != nil {
			return err
		}
	}
	for _, m := range pins {
		if _, err := io.WriteString(w, "[PINNED]"); err != nil {
			return err
		}
		if err := WriteMessage(w, m); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\nChannel history:\n\n"); err != nil {
		return err
	}
	if err := c.History(ctx, channel.ID, "0", func(m *discordgo.Message) error {
		return WriteMessage(w, m)
	}); err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	return nil
}

// File dumps the channel into an attachment named name.
func File(ctx context.Context, c discord.Client, channel *discordgo.Channel, name string) (*discordgo.File, error) {
	var buf bytes.Buffer
	if err := Dump(ctx, c, channel, &buf); err != nil {
		return nil, err
	}
	return &discordgo.File{Name: name, ContentType: "text/plain", Reader: &buf}, nil
}

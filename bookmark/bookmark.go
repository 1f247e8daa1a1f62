// Package bookmark DMs members an excerpt of messages they react to with 🔖
// and lets them remove those DMs again with 🗑️.
package bookmark

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/telemetry"
)

const (
	Emoji            = "🔖"
	WastebasketEmoji = "🗑️"
	EmbedTitle       = "Bookmark"
	MaxExcerpt       = 200
	// Discord rejects embed fields with empty values.
	NoText           = "(no text)"
)

// Excerpt caps content at MaxExcerpt runes.
func Excerpt(content string) string {
	r := []rune(content)
	if len(r) <= MaxExcerpt {
		return content
	}
	return string(r[:MaxExcerpt]) + "..."
}

// Embed builds the bookmark DM for message m posted in a guild channel.
func Embed(guildID string, m *discordgo.Message) *discordgo.MessageEmbed {
	author := ""
	if m.Author != nil {
		author = discord.UserMention(m.Author.ID)
	}
	details := fmt.Sprintf("Author: %s\nChannel: %s\nMessage Link: %s",
		author,
		discord.ChannelLink(guildID, m.ChannelID),
		discord.MessageLink(guildID, m.ChannelID, m.ID))
	excerpt := Excerpt(m.Content)
	if strings.TrimSpace(excerpt) == "" {
		excerpt = NoText
	}
	return &discordgo.MessageEmbed{
		Title: EmbedTitle,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Details", Value: details},
			{Name: "Excerpt", Value: excerpt},
		},
	}
}

func unicodeEmoji(r *discordgo.MessageReaction, name string) bool {
	return r.Emoji.ID == "" && r.Emoji.Name == name
}

// Serve handles a 🔖 reaction made by a member in a guild. Other reactions are
// ignored. Failures after the DM was sent are only logged.
func Serve(ctx context.Context, c discord.Client, r *discordgo.MessageReactionAdd) error {
	if r.MessageReaction == nil || !unicodeEmoji(r.MessageReaction, Emoji) {
		return nil
	}
	if r.Member == nil || r.Member.User == nil || r.Member.User.Bot || r.GuildID == "" {
		return nil
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "bookmark"))

	msg, err := c.Message(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		return fmt.Errorf("fetch bookmarked message: %w", err)
	}
	dm, err := c.UserChannel(ctx, r.UserID)
	if err != nil {
		return fmt.Errorf("open dm: %w", err)
	}
	sent, err := c.SendComplex(ctx, dm.ID, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{Embed(r.GuildID, msg)}})
	if err != nil {
		return fmt.Errorf("send bookmark: %w", err)
	}
	telemetry.Inc(telemetry.BookmarksServed)
	if err := c.AddReaction(ctx, dm.ID, sent.ID, WastebasketEmoji); err != nil {
		logger.Warn("failed adding wastebasket reaction", slog.Any("err", err))
	}
	return nil
}

// MaybeDelete removes a bookmark DM when its recipient reacts with 🗑️.
func MaybeDelete(ctx context.Context, c discord.Client, botUserID string, r *discordgo.MessageReactionAdd) error {
	if r.MessageReaction == nil || !unicodeEmoji(r.MessageReaction, WastebasketEmoji) {
		return nil
	}
	// reactions in guilds carry a member
	if r.Member != nil || botUserID == "" || r.UserID == botUserID {
		return nil
	}
	ch, err := c.Channel(ctx, r.ChannelID)
	if err != nil {
		return fmt.Errorf("fetch dm channel: %w", err)
	}
	if ch.Type != discordgo.ChannelTypeDM {
		return nil
	}
	msg, err := c.Message(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		return fmt.Errorf("fetch bookmark: %w", err)
	}
	if msg.Author == nil || !msg.Author.Bot || msg.Author.ID != botUserID || len(msg.Embeds) != 1 {
		return nil
	}
	if msg.Embeds[0].Title != EmbedTitle {
		return nil
	}
	if err := c.DeleteMessage(ctx, r.ChannelID, r.MessageID); err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	return nil
}

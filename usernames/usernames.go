// Package usernames keeps member display names free of compatibility forms,
// combining marks and right-to-left characters.
package usernames

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/text/unicode/bidi"
	"golang.org/x/text/unicode/norm"

	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/telemetry"
)

func rightToLeft(r rune) bool {
	p, _ := bidi.LookupRune(r)
	switch p.Class() {
	case bidi.R, bidi.AL, bidi.RLE, bidi.RLO, bidi.RLI:
		return true
	}
	return false
}

func combining(r rune) bool {
	return norm.NFKC.PropertiesString(string(r)).CCC() != 0
}

// Normalize applies NFKC, drops combining and right-to-left runes and trims
// whitespace. An empty result falls back to fallback.
func Normalize(name, fallback string) string {
	var b strings.Builder
	for _, r := range norm.NFKC.String(name) {
		if combining(r) || rightToLeft(r) {
			continue
		}
		b.WriteRune(r)
	}
	if out := strings.TrimSpace(b.String()); out != "" {
		return out
	}
	return fallback
}

// Fallback is the name given to members whose display name normalises away.
func Fallback(u *discordgo.User) string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return "User" + u.Discriminator
}

// Member returns the normalised display name of m.
func Member(m *discordgo.Member) string {
	return Normalize(discord.DisplayName(m), Fallback(m.User))
}

// MaybeNormalize renames m when its display name is not already normal and
// announces the change in logChannelID when that is set. It reports whether a
// rename happened.
func MaybeNormalize(ctx context.Context, c discord.Client, m *discordgo.Member, logChannelID string) (bool, error) {
	if m.User == nil {
		return false, nil
	}
	current := discord.DisplayName(m)
	normalized := Member(m)
	if normalized == current {
		return false, nil
	}
	if logChannelID != "" {
		msg := fmt.Sprintf("Renaming %s: %s -> %s", discord.UserMention(m.User.ID), current, normalized)
		if _, err := c.Send(ctx, logChannelID, msg); err != nil {
			telemetry.LoggerWithCorr(ctx).Warn("failed to announce rename", slog.Any("err", err))
		}
	}
	if err := c.SetNickname(ctx, m.GuildID, m.User.ID, normalized); err != nil {
		return false, fmt.Errorf("set nickname for %s: %w", m.User.ID, err)
	}
	telemetry.Inc(telemetry.NicknamesNormalized)
	return true, nil
}

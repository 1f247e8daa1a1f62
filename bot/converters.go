package bot

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/discord"
)

var (
	userMentionRe    = regexp.MustCompile(`^<@!?(\d+)>$`)
	roleMentionRe    = regexp.MustCompile(`^<@&(\d+)>$`)
	channelMentionRe = regexp.MustCompile(`^<#(\d+)>$`)
	snowflakeRe      = regexp.MustCompile(`^\d{15,21}$`)
)

// idFrom extracts the id from a mention matching re or a bare snowflake.
func idFrom(arg string, re *regexp.Regexp) string {
	if m := re.FindStringSubmatch(arg); m != nil {
		return m[1]
	}
	if snowflakeRe.MatchString(arg) {
		return arg
	}
	return ""
}

// MemberArg resolves a mention, id, name#discriminator, username or nickname.
func (c *Context) MemberArg(ctx context.Context, arg string) (*discordgo.Member, error) {
	members, err := c.bot.client.GuildMembers(ctx, c.Message.GuildID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	id := idFrom(arg, userMentionRe)
	name, discrim, tagged := strings.Cut(arg, "#")
	for _, m := range members {
		if m.User == nil {
			continue
		}
		switch {
		case id != "":
			if m.User.ID == id {
				return m, nil
			}
		case tagged:
			if m.User.Username == name && m.User.Discriminator == discrim {
				return m, nil
			}
		case m.User.Username == arg || m.User.GlobalName == arg || m.Nick == arg:
			return m, nil
		}
	}
	return nil, fmt.Errorf("Member %q not found.", arg)
}

// RoleArg resolves a role mention, id or name.
func (c *Context) RoleArg(ctx context.Context, arg string) (*discordgo.Role, error) {
	roles, err := c.Roles(ctx)
	if err != nil {
		return nil, err
	}
	if id := idFrom(arg, roleMentionRe); id != "" {
		if r := discord.RoleByID(roles, id); r != nil {
			return r, nil
		}
	} else if r := discord.RoleByName(roles, arg); r != nil {
		return r, nil
	}
	return nil, fmt.Errorf("Role %q not found.", arg)
}

// ChannelArg resolves a channel mention, id or name to a channel of one of the
// given types. Threads are not part of the guild channel list and are only
// found by id.
func (c *Context) ChannelArg(ctx context.Context, arg string, types ...discordgo.ChannelType) (*discordgo.Channel, error) {
	channels, err := c.Channels(ctx)
	if err != nil {
		return nil, err
	}
	accept := func(ch *discordgo.Channel) bool {
		for _, t := range types {
			if ch.Type == t {
				return true
			}
		}
		return false
	}
	id := idFrom(arg, channelMentionRe)
	for _, ch := range channels {
		if (id != "" && ch.ID == id) || (id == "" && ch.Name == arg) {
			if accept(ch) {
				return ch, nil
			}
		}
	}
	if id != "" && discord.ChannelByID(channels, id) == nil {
		if ch, err := c.bot.client.Channel(ctx, id); err == nil && ch.GuildID == c.Message.GuildID && accept(ch) {
			return ch, nil
		}
	}
	return nil, fmt.Errorf("Channel %q not found.", arg)
}

var (
	textChannel  = []discordgo.ChannelType{discordgo.ChannelTypeGuildText}
	categoryType = []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory}
	gotoTargets  = []discordgo.ChannelType{
		discordgo.ChannelTypeGuildText,
		discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread,
	}
)

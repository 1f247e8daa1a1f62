package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
)

// Context carries one command invocation. Guild data is fetched on first use.
type Context struct {
	bot     *Bot
	Message *discordgo.Message
	Name    string
	Args    []string
	// Rest is everything after the command name, unsplit.
	Rest string

	guild    *discordgo.Guild
	roles    []*discordgo.Role
	channels []*discordgo.Channel
	channel  *discordgo.Channel
	stored   *db.Guild
	loaded   bool
}

// Send posts text to the invoking channel.
func (c *Context) Send(ctx context.Context, text string) error {
	_, err := c.bot.client.Send(ctx, c.Message.ChannelID, text)
	return err
}

// Reply posts text as a reply to the invoking message.
func (c *Context) Reply(ctx context.Context, text string) error {
	_, err := c.bot.client.SendComplex(ctx, c.Message.ChannelID, &discordgo.MessageSend{
		Content:   text,
		Reference: c.Message.Reference(),
	})
	return err
}

// Arg returns the i-th argument or a missing-argument error naming it.
func (c *Context) Arg(i int, name string) (string, error) {
	if i >= len(c.Args) {
		return "", fmt.Errorf("%s is a required argument that is missing.", name)
	}
	return c.Args[i], nil
}

// Member is the invoking member with its user filled in.
func (c *Context) Member() *discordgo.Member {
	m := &discordgo.Member{GuildID: c.Message.GuildID, User: c.Message.Author}
	if c.Message.Member != nil {
		cp := *c.Message.Member
		cp.GuildID = c.Message.GuildID
		cp.User = c.Message.Author
		m = &cp
	}
	return m
}

func (c *Context) Guild(ctx context.Context) (*discordgo.Guild, error) {
	if c.guild == nil {
		g, err := c.bot.client.Guild(ctx, c.Message.GuildID)
		if err != nil {
			return nil, fmt.Errorf("fetch guild: %w", err)
		}
		c.guild = g
	}
	return c.guild, nil
}

func (c *Context) Roles(ctx context.Context) ([]*discordgo.Role, error) {
	if c.roles == nil {
		roles, err := c.bot.client.GuildRoles(ctx, c.Message.GuildID)
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		c.roles = roles
	}
	return c.roles, nil
}

func (c *Context) Channels(ctx context.Context) ([]*discordgo.Channel, error) {
	if c.channels == nil {
		channels, err := c.bot.client.GuildChannels(ctx, c.Message.GuildID)
		if err != nil {
			return nil, fmt.Errorf("list channels: %w", err)
		}
		c.channels = channels
	}
	return c.channels, nil
}

// Channel is the channel the command was sent in.
func (c *Context) Channel(ctx context.Context) (*discordgo.Channel, error) {
	if c.channel == nil {
		ch, err := c.bot.client.Channel(ctx, c.Message.ChannelID)
		if err != nil {
			return nil, fmt.Errorf("fetch channel: %w", err)
		}
		c.channel = ch
	}
	return c.channel, nil
}

// StoredGuild is the guild's configuration, or nil when it was never registered.
func (c *Context) StoredGuild(ctx context.Context) (*db.Guild, error) {
	if !c.loaded {
		g, err := c.bot.store.Guild(ctx, c.Message.GuildID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("load guild settings: %w", err)
		}
		c.stored, c.loaded = g, true
	}
	return c.stored, nil
}

// IsAdmin reports whether the invoker administers the guild or owns the bot.
func (c *Context) IsAdmin(ctx context.Context) (bool, error) {
	if c.Message.Author != nil && c.bot.cfg.OwnerID != "" && c.Message.Author.ID == c.bot.cfg.OwnerID {
		return true, nil
	}
	if c.Message.GuildID == "" {
		return false, nil
	}
	g, err := c.Guild(ctx)
	if err != nil {
		return false, err
	}
	roles, err := c.Roles(ctx)
	if err != nil {
		return false, err
	}
	return discord.IsAdmin(g, roles, c.Member()), nil
}

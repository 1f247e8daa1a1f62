package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
)

const notRegistered = "This server is not registered. Please register a log channel first."

// pyList renders names the way the categories listing has always shown them.
func pyList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		if strings.Contains(n, "'") && !strings.Contains(n, `"`) {
			quoted[i] = `"` + n + `"`
		} else {
			quoted[i] = "'" + strings.ReplaceAll(n, "'", `\'`) + "'"
		}
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func (b *Bot) getCategories(ctx context.Context, c *Context) error {
	guild, err := c.StoredGuild(ctx)
	if err != nil {
		return err
	}
	var names []string
	if guild != nil {
		channels, err := c.Channels(ctx)
		if err != nil {
			return err
		}
		for _, id := range guild.ProjectCategories {
			cat := discord.ChannelByID(channels, id)
			if cat == nil {
				if _, err := b.store.RemoveProjectCategory(ctx, guild.ID, id); err != nil {
					return err
				}
				continue
			}
			names = append(names, cat.Name)
		}
	}
	return c.Send(ctx, "Project categories: "+pyList(names))
}

// setting describes one set_/unset_ command pair.
type setting struct {
	key     db.Setting
	label   string
	argName string
	resolve func(ctx context.Context, c *Context, arg string) (id, mention string, err error)
}

func channelSetting(types []discordgo.ChannelType) func(context.Context, *Context, string) (string, string, error) {
	return func(ctx context.Context, c *Context, arg string) (string, string, error) {
		ch, err := c.ChannelArg(ctx, arg, types...)
		if err != nil {
			return "", "", err
		}
		return ch.ID, discord.ChannelMention(ch.ID), nil
	}
}

func roleSetting(ctx context.Context, c *Context, arg string) (string, string, error) {
	r, err := c.RoleArg(ctx, arg)
	if err != nil {
		return "", "", err
	}
	return r.ID, discord.RoleMention(r.ID), nil
}

var settings = map[string]setting{
	"log_channel":        {db.SettingLogChannel, "Log channel", "channel", channelSetting(textChannel)},
	"archive_channel":    {db.SettingArchiveChannel, "Archive channel", "channel", channelSetting(textChannel)},
	"archive_category":   {db.SettingArchiveCategory, "Archive category", "category", channelSetting(categoryType)},
	"channel_owner_role": {db.SettingChannelOwnerRole, "Channel owner role", "role", roleSetting},
}

func (b *Bot) setSetting(s setting) CommandFunc {
	return func(ctx context.Context, c *Context) error {
		arg, err := c.Arg(0, s.argName)
		if err != nil {
			return err
		}
		id, mention, err := s.resolve(ctx, c, arg)
		if err != nil {
			return err
		}
		if err := b.store.SetGuildSetting(ctx, c.Message.GuildID, s.key, id); err != nil {
			return err
		}
		return c.Send(ctx, fmt.Sprintf("%s set to %s.", s.label, mention))
	}
}

func (b *Bot) unsetSetting(s setting) CommandFunc {
	return func(ctx context.Context, c *Context) error {
		guild, err := c.StoredGuild(ctx)
		if err != nil {
			return err
		}
		if guild == nil {
			return c.Send(ctx, s.label+" is not set.")
		}
		if err := b.store.SetGuildSetting(ctx, guild.ID, s.key, ""); err != nil {
			return err
		}
		return c.Send(ctx, s.label+" unset.")
	}
}

// eachArg runs fn over every argument of a registered guild and finishes with "Done!".
func (b *Bot) eachArg(types []discordgo.ChannelType, fn func(ctx context.Context, c *Context, guildID string, ch *discordgo.Channel) error) CommandFunc {
	return func(ctx context.Context, c *Context) error {
		guild, err := c.StoredGuild(ctx)
		if err != nil {
			return err
		}
		if guild == nil {
			return c.Send(ctx, notRegistered)
		}
		for _, arg := range c.Args {
			ch, err := c.ChannelArg(ctx, arg, types...)
			if err != nil {
				return err
			}
			if err := fn(ctx, c, guild.ID, ch); err != nil {
				return err
			}
		}
		return c.Send(ctx, "Done!")
	}
}

func (b *Bot) addCategory(ctx context.Context, c *Context, guildID string, ch *discordgo.Channel) error {
	created, err := b.store.AddProjectCategory(ctx, guildID, ch.ID)
	if err != nil || created {
		return err
	}
	return c.Send(ctx, ch.Name+" is already a project category.")
}

func (b *Bot) removeCategory(ctx context.Context, c *Context, guildID string, ch *discordgo.Channel) error {
	removed, err := b.store.RemoveProjectCategory(ctx, guildID, ch.ID)
	if err != nil || removed {
		return err
	}
	return c.Send(ctx, ch.Name+" is not a project category.")
}

func (b *Bot) enableAutothread(ctx context.Context, c *Context, guildID string, ch *discordgo.Channel) error {
	created, err := b.store.AddAutoThreadChannel(ctx, guildID, ch.ID)
	if err != nil || created {
		return err
	}
	return c.Send(ctx, ch.Name+" is already autothreading.")
}

func (b *Bot) disableAutothread(ctx context.Context, c *Context, guildID string, ch *discordgo.Channel) error {
	removed, err := b.store.RemoveAutoThreadChannel(ctx, guildID, ch.ID)
	if err != nil || removed {
		return err
	}
	return c.Send(ctx, ch.Name+" is not autothreading.")
}

package bot

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/export"
)

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) > 0 {
		r[0] = unicode.ToUpper(r[0])
	}
	return string(r)
}

func (b *Bot) makeChannel(ctx context.Context, c *Context) error {
	ownerArg, err := c.Arg(0, "owner")
	if err != nil {
		return err
	}
	name, err := c.Arg(1, "name")
	if err != nil {
		return err
	}
	owner, err := c.MemberArg(ctx, ownerArg)
	if err != nil {
		return err
	}
	guild, err := c.StoredGuild(ctx)
	if err != nil {
		return err
	}
	roles, err := c.Roles(ctx)
	if err != nil {
		return err
	}

	if err := c.Send(ctx, fmt.Sprintf("Creating channel %s for %s...", name, discord.UserMention(owner.User.ID))); err != nil {
		return err
	}
	mentionable := true
	role, err := b.client.CreateRole(ctx, c.Message.GuildID, &discordgo.RoleParams{
		Name:        b.cfg.ProjectRolePrefix + capitalize(name),
		Mentionable: &mentionable,
	})
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}

	var overwrites []*discordgo.PermissionOverwrite
	for _, n := range b.cfg.HiddenRoleNames {
		if r := discord.RoleByName(roles, n); r != nil {
			overwrites = append(overwrites, &discordgo.PermissionOverwrite{
				ID: r.ID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel,
			})
		}
	}
	for _, n := range b.cfg.MutedRoleNames {
		if r := discord.RoleByName(roles, n); r != nil {
			overwrites = append(overwrites, &discordgo.PermissionOverwrite{
				ID: r.ID, Type: discordgo.PermissionOverwriteTypeRole,
				Deny: discordgo.PermissionSendMessages | discordgo.PermissionAddReactions,
			})
		}
	}
	channel, err := b.client.CreateChannel(ctx, c.Message.GuildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}
	if err := b.store.UpsertProjectChannel(ctx, db.ProjectChannel{ID: channel.ID, GuildID: guild.ID, OwnerRoleID: role.ID}); err != nil {
		return fmt.Errorf("register channel: %w", err)
	}

	unlock := b.locks.Lock(guild.ID)
	defer unlock()
	if err := b.sorter.Reposition(ctx, guild, channel.ID); err != nil {
		return err
	}
	if err := c.Send(ctx, fmt.Sprintf("Created channel %s.", discord.ChannelMention(channel.ID))); err != nil {
		return err
	}

	if err := b.client.AddMemberRole(ctx, c.Message.GuildID, owner.User.ID, role.ID); err != nil {
		return fmt.Errorf("assign project role: %w", err)
	}
	if guild.ChannelOwnerRoleID != "" {
		if err := b.client.AddMemberRole(ctx, c.Message.GuildID, owner.User.ID, guild.ChannelOwnerRoleID); err != nil {
			return fmt.Errorf("assign channel owner role: %w", err)
		}
	}
	if err := c.Send(ctx, fmt.Sprintf("Created and assigned role %s.", discord.RoleMention(role.ID))); err != nil {
		return err
	}

	if _, err := b.sorter.Sort(ctx, guild, c.Message.ChannelID, true); err != nil {
		return err
	}
	return c.Send(ctx, "✅ Done!")
}

func (b *Bot) renameChannel(ctx context.Context, c *Context) error {
	if c.Rest == "" {
		return fmt.Errorf("name is a required argument that is missing.")
	}
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	if _, err := b.client.EditChannel(ctx, ch.ID, &discordgo.ChannelEdit{Name: c.Rest}); err != nil {
		return fmt.Errorf("rename channel: %w", err)
	}
	return c.Send(ctx, fmt.Sprintf("Renamed channel %s -> %s.", ch.Name, discord.ChannelMention(ch.ID)))
}

func (b *Bot) setProjectRole(ctx context.Context, c *Context) error {
	arg, err := c.Arg(0, "role")
	if err != nil {
		return err
	}
	role, err := c.RoleArg(ctx, arg)
	if err != nil {
		return err
	}
	if _, err := b.store.EnsureGuild(ctx, c.Message.GuildID); err != nil {
		return err
	}
	pc := db.ProjectChannel{ID: c.Message.ChannelID, GuildID: c.Message.GuildID, OwnerRoleID: role.ID}
	if err := b.store.UpsertProjectChannel(ctx, pc); err != nil {
		return err
	}
	return c.Send(ctx, fmt.Sprintf("Assigned role %s to %s.", discord.RoleMention(role.ID), discord.ChannelMention(c.Message.ChannelID)))
}

func (b *Bot) archive(ctx context.Context, c *Context) error {
	guild, err := c.StoredGuild(ctx)
	if err != nil {
		return err
	}
	if guild == nil {
		return ErrNotSetUp
	}
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	if err := c.Send(ctx, "Archiving channel."); err != nil {
		return err
	}
	return b.lifecycle.Archive(ctx, guild, ch)
}

func (b *Bot) deleteChannel(ctx context.Context, c *Context) error {
	guild, err := c.StoredGuild(ctx)
	if err != nil {
		return err
	}
	if guild == nil {
		return ErrNotSetUp
	}
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	confirm, err := b.client.Send(ctx, c.Message.ChannelID,
		"Are you sure you want to delete this channel forever? React with 👍 within 30 seconds to confirm.")
	if err != nil {
		return err
	}
	author := c.Message.Author.ID
	ok, err := b.waiters.Wait(ctx, confirm.ID, b.ConfirmTimeout, func(r *discordgo.MessageReaction) bool {
		return r.UserID == author && r.Emoji.Name == confirmEmoji
	})
	if err != nil {
		return err
	}
	if !ok {
		return c.Send(ctx, "Timed out. Cancelling.")
	}
	if err := c.Send(ctx, "Exporting channel history. This may take a while..."); err != nil {
		return err
	}
	return b.lifecycle.DeleteChannel(ctx, guild, ch)
}

func (b *Bot) exportChannel(ctx context.Context, c *Context) error {
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	if err := c.Send(ctx, "Exporting channel history. This may take a while..."); err != nil {
		return err
	}
	file, err := export.File(ctx, b.client, ch, "history.txt")
	if err != nil {
		return err
	}
	_, err = b.client.SendComplex(ctx, ch.ID, &discordgo.MessageSend{Content: "✅ Done!", Files: []*discordgo.File{file}})
	return err
}

// langbot finds the LangBot member of the guild.
func (b *Bot) langbot(ctx context.Context, c *Context) (*discordgo.Member, error) {
	members, err := b.client.GuildMembers(ctx, c.Message.GuildID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	for _, m := range members {
		if m.User != nil && m.User.ID == b.cfg.LangBotUserID {
			return m, nil
		}
	}
	return nil, fmt.Errorf("Member %q not found.", "LangBot")
}

func langbotEnabled(ch *discordgo.Channel, langbotID string) bool {
	o := discord.OverwriteFor(ch, langbotID)
	return o != nil && o.Allow&discordgo.PermissionViewChannel != 0
}

func (b *Bot) enableLangbot(ctx context.Context, c *Context) error {
	lb, err := b.langbot(ctx, c)
	if err != nil {
		return err
	}
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	if langbotEnabled(ch, lb.User.ID) {
		return c.Send(ctx, "✅ Langbot is already enabled in this channel.")
	}
	var allow, deny int64
	if o := discord.OverwriteFor(ch, lb.User.ID); o != nil {
		allow, deny = o.Allow, o.Deny
	}
	allow |= discordgo.PermissionViewChannel
	deny &^= discordgo.PermissionViewChannel
	if err := b.client.SetPermission(ctx, ch.ID, lb.User.ID, discordgo.PermissionOverwriteTypeMember, allow, deny); err != nil {
		return err
	}
	return c.Send(ctx, "✅ Langbot enabled.")
}

func (b *Bot) disableLangbot(ctx context.Context, c *Context) error {
	lb, err := b.langbot(ctx, c)
	if err != nil {
		return err
	}
	ch, err := c.Channel(ctx)
	if err != nil {
		return err
	}
	if !langbotEnabled(ch, lb.User.ID) {
		return c.Send(ctx, "✅ Langbot is already disabled in this channel.")
	}
	if err := b.client.DeletePermission(ctx, ch.ID, lb.User.ID); err != nil {
		return err
	}
	return c.Send(ctx, "✅ Langbot disabled.")
}

func (b *Bot) sort(ctx context.Context, c *Context) error {
	if err := c.Send(ctx, "Sorting project channels..."); err != nil {
		return err
	}
	guild, err := c.StoredGuild(ctx)
	if err != nil {
		return err
	}
	unlock := b.locks.Lock(guild.ID)
	defer unlock()
	if _, err := b.sorter.Sort(ctx, guild, c.Message.ChannelID, true); err != nil {
		return err
	}
	return c.Send(ctx, "Done!")
}

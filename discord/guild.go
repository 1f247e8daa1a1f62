package discord

import (
	"fmt"
	"slices"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// DisplayName is the member's nickname, or the account name when none is set.
func DisplayName(m *discordgo.Member) string {
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// IsAdmin reports whether the member owns the guild or holds a role with the
// administrator permission.
func IsAdmin(g *discordgo.Guild, roles []*discordgo.Role, m *discordgo.Member) bool {
	if m == nil || m.User == nil {
		return false
	}
	if g != nil && g.OwnerID == m.User.ID {
		return true
	}
	for _, r := range roles {
		if r.Permissions&discordgo.PermissionAdministrator == 0 {
			continue
		}
		// @everyone shares the guild id and is held implicitly.
		if (g != nil && r.ID == g.ID) || slices.Contains(m.Roles, r.ID) {
			return true
		}
	}
	return false
}

// HasRole reports whether the member holds roleID.
func HasRole(m *discordgo.Member, roleID string) bool {
	return m != nil && slices.Contains(m.Roles, roleID)
}

// RoleByName returns the first role called name, or nil.
func RoleByName(roles []*discordgo.Role, name string) *discordgo.Role {
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// RoleByID returns the role with id, or nil.
func RoleByID(roles []*discordgo.Role, id string) *discordgo.Role {
	for _, r := range roles {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// ChannelByID returns the channel with id, or nil.
func ChannelByID(channels []*discordgo.Channel, id string) *discordgo.Channel {
	if id == "" {
		return nil
	}
	for _, c := range channels {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Children returns the channels parented to categoryID, in display order.
func Children(channels []*discordgo.Channel, categoryID string) []*discordgo.Channel {
	var out []*discordgo.Channel
	for _, c := range channels {
		if c.ParentID == categoryID && c.Type != discordgo.ChannelTypeGuildCategory {
			out = append(out, c)
		}
	}
	SortByPosition(out)
	return out
}

// SortByPosition orders channels the way the client displays them.
func SortByPosition(channels []*discordgo.Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		if channels[i].Position != channels[j].Position {
			return channels[i].Position < channels[j].Position
		}
		return snowflakeLess(channels[i].ID, channels[j].ID)
	})
}

// OverwriteFor returns the permission overwrite for targetID, or nil.
func OverwriteFor(c *discordgo.Channel, targetID string) *discordgo.PermissionOverwrite {
	for _, o := range c.PermissionOverwrites {
		if o.ID == targetID {
			return o
		}
	}
	return nil
}

// MessageLink is the jump URL of a guild or DM message. Use "@me" as guildID for DMs.
func MessageLink(guildID, channelID, messageID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// ChannelLink is the jump URL of a channel.
func ChannelLink(guildID, channelID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s", guildID, channelID)
}

// ChannelMention formats a channel mention.
func ChannelMention(channelID string) string { return "<#" + channelID + ">" }

// RoleMention formats a role mention.
func RoleMention(roleID string) string { return "<@&" + roleID + ">" }

// UserMention formats a user mention.
func UserMention(userID string) string { return "<@" + userID + ">" }

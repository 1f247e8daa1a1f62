// Package lifecycle archives idle project channels, deletes long-dead ones
// after exporting their history and keeps the channel registry in step with
// the guild.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/proglangs/breadbot/db"
	"github.com/proglangs/breadbot/discord"
	"github.com/proglangs/breadbot/export"
	"github.com/proglangs/breadbot/sorting"
	"github.com/proglangs/breadbot/telemetry"
)

// Store is the persistence lifecycle needs.
type Store interface {
	ProjectChannel(ctx context.Context, channelID string) (*db.ProjectChannel, error)
	ProjectChannels(ctx context.Context, guildID string) ([]db.ProjectChannel, error)
	DeleteProjectChannel(ctx context.Context, channelID string) error
}

// Manager runs archive, delete and cleanup passes.
type Manager struct {
	Client discord.Client
	Store  Store
	Sorter *sorting.Sorter

	ArchiveAfter    time.Duration
	DeleteAfter     time.Duration
	NewChannelGrace time.Duration

	Now func() time.Time
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) say(ctx context.Context, channelID, text string) {
	if channelID == "" {
		return
	}
	if _, err := m.Client.Send(ctx, channelID, text); err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("failed to send message",
			slog.String("component", "lifecycle"),
			slog.String("channel", channelID),
			slog.Any("err", err))
	}
}

// active reports whether a human posted in the channel since the given time.
func (m *Manager) active(ctx context.Context, channelID string, since time.Time) (bool, error) {
	found := false
	err := m.Client.History(ctx, channelID, discord.SnowflakeAt(since), func(msg *discordgo.Message) error {
		if msg.Author != nil && !msg.Author.Bot {
			found = true
			return discord.ErrStop
		}
		return nil
	})
	return found, err
}

// young reports whether the channel is still inside the grace period.
func (m *Manager) young(c *discordgo.Channel) bool {
	return discord.CreatedAt(c.ID).After(m.now().Add(-m.NewChannelGrace))
}

// setSend flips the send-messages bit of target's overwrite, keeping the rest of it.
func (m *Manager) setSend(ctx context.Context, c *discordgo.Channel, targetID string, allowed bool) error {
	var allow, deny int64
	if o := discord.OverwriteFor(c, targetID); o != nil {
		allow, deny = o.Allow, o.Deny
	}
	if allowed {
		allow |= discordgo.PermissionSendMessages
		deny &^= discordgo.PermissionSendMessages
	} else {
		deny |= discordgo.PermissionSendMessages
		allow &^= discordgo.PermissionSendMessages
	}
	return m.Client.SetPermission(ctx, c.ID, targetID, discordgo.PermissionOverwriteTypeRole, allow, deny)
}

// moveToArchive puts c under the archive category, mutes @everyone and lets
// the owning role keep writing. Unregistered channels and channels whose role
// disappeared are told so in the channel.
func (m *Manager) moveToArchive(ctx context.Context, guild *db.Guild, c *discordgo.Channel, archiveID string) error {
	if _, err := m.Client.EditChannel(ctx, c.ID, &discordgo.ChannelEdit{ParentID: archiveID}); err != nil {
		return fmt.Errorf("move %s to archive: %w", c.Name, err)
	}
	if err := m.setSend(ctx, c, guild.ID, false); err != nil {
		return fmt.Errorf("lock %s: %w", c.Name, err)
	}

	pc, err := m.Store.ProjectChannel(ctx, c.ID)
	if errors.Is(err, db.ErrNotFound) {
		m.say(ctx, c.ID, "This channel was not set up with BreadBot. Please contact an administrator to unarchive.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load project channel %s: %w", c.ID, err)
	}
	roles, err := m.Client.GuildRoles(ctx, guild.ID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	if discord.RoleByID(roles, pc.OwnerRoleID) == nil {
		if err := m.Store.DeleteProjectChannel(ctx, c.ID); err != nil {
			return fmt.Errorf("unregister %s: %w", c.ID, err)
		}
		m.say(ctx, c.ID, "Could not find role for channel, unregistering as project.")
		return nil
	}
	if err := m.setSend(ctx, c, pc.OwnerRoleID, true); err != nil {
		return fmt.Errorf("allow owner role in %s: %w", c.Name, err)
	}
	telemetry.Inc(telemetry.ChannelsArchived)
	return nil
}

// ArchiveInactive archives every text channel in the project categories that
// is past the grace period and has had no human message within ArchiveAfter.
// It returns the number of archived channels.
func (m *Manager) ArchiveInactive(ctx context.Context, guild *db.Guild, logChannelID string, verbose bool) (int, error) {
	channels, err := m.Client.GuildChannels(ctx, guild.ID)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	layout := sorting.NewLayout(channels, guild.ProjectCategories, guild.ArchiveCategoryID)
	if layout.Archive == nil {
		return 0, nil
	}
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "lifecycle"), slog.String("guild", guild.ID))

	if verbose {
		m.say(ctx, logChannelID, "Archiving inactive project channels.")
	}
	since := m.now().Add(-m.ArchiveAfter)
	archived := 0
	for _, c := range layout.ProjectChannels() {
		if c.Type != discordgo.ChannelTypeGuildText || m.young(c) {
			continue
		}
		busy, err := m.active(ctx, c.ID, since)
		if err != nil {
			return archived, fmt.Errorf("read history of %s: %w", c.Name, err)
		}
		if busy {
			continue
		}
		m.say(ctx, logChannelID, fmt.Sprintf("Archiving %s due to inactivity.", discord.ChannelMention(c.ID)))
		m.say(ctx, c.ID, "Archiving channel due to inactivity. If you're the channel owner, send a message here to unarchive.")
		if err := m.moveToArchive(ctx, guild, c, layout.Archive.ID); err != nil {
			return archived, err
		}
		logger.Info("archived inactive channel", slog.String("channel", c.Name))
		archived++
	}
	if verbose || archived > 0 {
		m.say(ctx, logChannelID, fmt.Sprintf("Archived %d inactive channels.", archived))
	}
	return archived, nil
}

// Archive moves a channel to the archive category on its owner's request.
func (m *Manager) Archive(ctx context.Context, guild *db.Guild, c *discordgo.Channel) error {
	if guild.ArchiveCategoryID == "" {
		return errors.New("archive category is not set")
	}
	m.say(ctx, guild.LogChannelID, fmt.Sprintf("Channel %s archived manually by owner.", discord.ChannelMention(c.ID)))
	return m.moveToArchive(ctx, guild, c, guild.ArchiveCategoryID)
}

// Unarchive reopens a channel in the archive category after someone posts in
// it. It reports whether the channel was archived.
func (m *Manager) Unarchive(ctx context.Context, guild *db.Guild, c *discordgo.Channel) (bool, error) {
	if guild.ArchiveCategoryID == "" || c.ParentID != guild.ArchiveCategoryID {
		return false, nil
	}
	if err := m.Client.DeletePermission(ctx, c.ID, guild.ID); err != nil {
		return false, fmt.Errorf("unlock %s: %w", c.Name, err)
	}
	if m.Sorter != nil {
		if err := m.Sorter.Reposition(ctx, guild, c.ID); err != nil {
			return false, fmt.Errorf("reposition %s: %w", c.Name, err)
		}
	}
	m.say(ctx, guild.LogChannelID, fmt.Sprintf("Channel %s unarchived.", discord.ChannelMention(c.ID)))
	m.say(ctx, c.ID, "Channel unarchived!")
	telemetry.Inc(telemetry.ChannelsUnarchived)
	return true, nil
}

// DeleteDead deletes archived text channels past the grace period that have
// had no human message within DeleteAfter. Nothing happens unless both the
// archive category and the archive channel exist.
func (m *Manager) DeleteDead(ctx context.Context, guild *db.Guild, logChannelID string, verbose bool) (int, error) {
	channels, err := m.Client.GuildChannels(ctx, guild.ID)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	archive := discord.ChannelByID(channels, guild.ArchiveCategoryID)
	archiveChannel := discord.ChannelByID(channels, guild.ArchiveChannelID)
	if archive == nil || archiveChannel == nil {
		return 0, nil
	}

	if verbose {
		m.say(ctx, logChannelID, "Deleting dead project channels.")
	}
	since := m.now().Add(-m.DeleteAfter)
	deleted := 0
	for _, c := range discord.Children(channels, archive.ID) {
		if c.Type != discordgo.ChannelTypeGuildText || m.young(c) {
			continue
		}
		busy, err := m.active(ctx, c.ID, since)
		if err != nil {
			return deleted, fmt.Errorf("read history of %s: %w", c.Name, err)
		}
		if busy {
			continue
		}
		m.say(ctx, archiveChannel.ID, fmt.Sprintf("%s has had no activity in over three months. Deleting...", c.Name))
		if err := m.DeleteChannel(ctx, guild, c); err != nil {
			return deleted, err
		}
		deleted++
	}
	if verbose || deleted > 0 {
		m.say(ctx, logChannelID, fmt.Sprintf("Deleted %d dead channels.", deleted))
	}
	return deleted, nil
}

// DeleteChannel takes the owner roles away from everyone holding the channel's
// role, unregisters it, posts its history to the archive channel with the
// former owners pinged, and deletes it.
func (m *Manager) DeleteChannel(ctx context.Context, guild *db.Guild, c *discordgo.Channel) error {
	channels, err := m.Client.GuildChannels(ctx, guild.ID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	archiveChannel := discord.ChannelByID(channels, guild.ArchiveChannelID)
	if archiveChannel == nil {
		m.say(ctx, c.ID, "Archive channel not found. Delete this channel manually.")
		return nil
	}

	var pings []string
	pc, err := m.Store.ProjectChannel(ctx, c.ID)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load project channel %s: %w", c.ID, err)
	default:
		pings, err = m.stripOwners(ctx, guild, pc.OwnerRoleID)
		if err != nil {
			return err
		}
		if err := m.Store.DeleteProjectChannel(ctx, c.ID); err != nil {
			return fmt.Errorf("unregister %s: %w", c.ID, err)
		}
	}

	file, err := export.File(ctx, m.Client, c, fmt.Sprintf("history_%s.txt", c.Name))
	if err != nil {
		return fmt.Errorf("export %s: %w", c.Name, err)
	}
	if _, err := m.Client.SendComplex(ctx, archiveChannel.ID, &discordgo.MessageSend{
		Content: fmt.Sprintf("Log for %s (%s):", c.Name, strings.Join(pings, ", ")),
		Files:   []*discordgo.File{file},
	}); err != nil {
		return fmt.Errorf("upload history of %s: %w", c.Name, err)
	}
	if err := m.Client.DeleteChannel(ctx, c.ID, "Deleting dead channel."); err != nil {
		return fmt.Errorf("delete %s: %w", c.Name, err)
	}
	telemetry.Inc(telemetry.ChannelsDeleted)
	telemetry.LoggerWithCorr(ctx).Info("deleted channel",
		slog.String("component", "lifecycle"),
		slog.String("guild", guild.ID),
		slog.String("channel", c.Name))
	return nil
}

// stripOwners removes the channel's role and the guild's channel owner role
// from every holder of the former and returns their mentions.
func (m *Manager) stripOwners(ctx context.Context, guild *db.Guild, ownerRoleID string) ([]string, error) {
	roles, err := m.Client.GuildRoles(ctx, guild.ID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	if discord.RoleByID(roles, ownerRoleID) == nil {
		return nil, nil
	}
	remove := []string{ownerRoleID}
	if discord.RoleByID(roles, guild.ChannelOwnerRoleID) != nil {
		remove = append(remove, guild.ChannelOwnerRoleID)
	}
	members, err := m.Client.GuildMembers(ctx, guild.ID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	var pings []string
	for _, mem := range members {
		if mem.User == nil || !discord.HasRole(mem, ownerRoleID) {
			continue
		}
		for _, r := range remove {
			if err := m.Client.RemoveMemberRole(ctx, guild.ID, mem.User.ID, r, "Deleting dead channel"); err != nil {
				return pings, fmt.Errorf("remove role %s from %s: %w", r, mem.User.ID, err)
			}
		}
		pings = append(pings, discord.UserMention(mem.User.ID))
	}
	return pings, nil
}

// CleanupDB drops registrations whose channel or owner role no longer exists.
func (m *Manager) CleanupDB(ctx context.Context, guild *db.Guild, logChannelID string) (int, error) {
	registered, err := m.Store.ProjectChannels(ctx, guild.ID)
	if err != nil {
		return 0, fmt.Errorf("list project channels: %w", err)
	}
	if len(registered) == 0 {
		return 0, nil
	}
	channels, err := m.Client.GuildChannels(ctx, guild.ID)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}
	roles, err := m.Client.GuildRoles(ctx, guild.ID)
	if err != nil {
		return 0, fmt.Errorf("list roles: %w", err)
	}
	removed := 0
	for _, pc := range registered {
		if discord.ChannelByID(channels, pc.ID) != nil && discord.RoleByID(roles, pc.OwnerRoleID) != nil {
			continue
		}
		if err := m.Store.DeleteProjectChannel(ctx, pc.ID); err != nil {
			return removed, fmt.Errorf("unregister %s: %w", pc.ID, err)
		}
		m.say(ctx, logChannelID, fmt.Sprintf("Removed channel %s from the database.", pc.ID))
		removed++
	}
	return removed, nil
}
